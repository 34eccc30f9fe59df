package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{
	name:      "sqlite3",
	rollOrder: "roll_number",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS students (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			roll_number   TEXT UNIQUE NOT NULL,
			name          TEXT NOT NULL,
			registered_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subjects (
			seq  INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT UNIQUE NOT NULL,
			roll_number TEXT NOT NULL,
			subject     TEXT NOT NULL,
			on_date     TEXT NOT NULL,
			at_time     TEXT NOT NULL,
			ts          TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_roll ON attendance(roll_number)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_subject ON attendance(subject)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(on_date)`,
		`CREATE TABLE IF NOT EXISTS face_descriptors (
			roll_number TEXT PRIMARY KEY,
			descriptor  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS admin_credentials (
			id       INTEGER PRIMARY KEY CHECK (id = 1),
			username TEXT NOT NULL,
			password TEXT NOT NULL
		)`,
	},
	encodeVec: func(v []float32) driver.Valuer { return jsonVec(v) },
	newVec:    func() vecColumn { return &jsonVec{} },
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// single writer keeps cascades serialized
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s, err := newSQL(ctx, db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// jsonVec stores a descriptor as a JSON array in a TEXT column.
type jsonVec []float32

func (v jsonVec) Value() (driver.Value, error) {
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *jsonVec) Scan(src any) error {
	var raw []byte
	switch t := src.(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	case nil:
		*v = nil
		return nil
	default:
		return fmt.Errorf("descriptor: unsupported column type %T", src)
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("descriptor: %w", err)
	}
	*v = out
	return nil
}

func (v *jsonVec) Vec() []float32 { return []float32(*v) }
