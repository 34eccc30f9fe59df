package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
)

var postgresDialect = dialect{
	name:      "pgx",
	rollOrder: `roll_number COLLATE "C"`,
	placeFn:   func(n int) string { return "$" + strconv.Itoa(n) },
	preamble:  []string{`CREATE EXTENSION IF NOT EXISTS vector`},
	schema: []string{
		`CREATE TABLE IF NOT EXISTS students (
			seq           BIGSERIAL PRIMARY KEY,
			roll_number   TEXT UNIQUE NOT NULL,
			name          TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subjects (
			seq  BIGSERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT UNIQUE NOT NULL,
			roll_number TEXT NOT NULL,
			subject     TEXT NOT NULL,
			on_date     TEXT NOT NULL,
			at_time     TEXT NOT NULL,
			ts          TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_roll ON attendance(roll_number)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_subject ON attendance(subject)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(on_date)`,
		`CREATE TABLE IF NOT EXISTS face_descriptors (
			roll_number TEXT PRIMARY KEY,
			descriptor  vector NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS admin_credentials (
			id       INTEGER PRIMARY KEY CHECK (id = 1),
			username TEXT NOT NULL,
			password TEXT NOT NULL
		)`,
	},
	encodeVec: func(v []float32) driver.Valuer { return pgvector.NewVector(v) },
	newVec:    func() vecColumn { return &pgVec{} },
}

// OpenPostgres connects through pgx and prepares the schema. The server must
// have the pgvector extension available.
func OpenPostgres(ctx context.Context, connString string) (*SQL, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s, err := newSQL(ctx, db, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type pgVec struct {
	v pgvector.Vector
}

func (p *pgVec) Scan(src any) error { return p.v.Scan(src) }

func (p *pgVec) Vec() []float32 { return p.v.Slice() }
