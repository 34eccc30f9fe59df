package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

const schemaVersion = 1

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// vecColumn reads a descriptor column and reports the decoded vector.
type vecColumn interface {
	sql.Scanner
	Vec() []float32
}

// dialect captures what differs between the SQL engines.
type dialect struct {
	name      string
	rollOrder string // ORDER BY expression giving byte order of roll numbers
	placeFn   func(n int) string
	preamble  []string
	schema    []string
	encodeVec func([]float32) driver.Valuer
	newVec    func() vecColumn
}

// SQL is a database/sql backend shared by the sqlite and postgres drivers.
type SQL struct {
	db *sql.DB
	d  dialect
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	s := &SQL{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Ping checks that the database answers.
func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders for the dialect.
func (s *SQL) rebind(q string) string {
	if s.d.placeFn == nil {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(s.d.placeFn(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// runInTx commits when fn returns nil and rolls back otherwise.
func (s *SQL) runInTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range s.d.preamble {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}
	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}
	return s.runInTx(ctx, func(ctx context.Context, tx DBTX) error {
		for _, stmt := range s.d.schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_version (version) VALUES (?)`), schemaVersion)
		return err
	})
}

// -------- Students --------

func (s *SQL) InsertStudent(ctx context.Context, st Student, descriptor []float32) error {
	return s.runInTx(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO students (roll_number, name, registered_at)
			VALUES (?, ?, ?)
			ON CONFLICT (roll_number) DO NOTHING
		`), st.RollNumber, st.Name, st.RegisteredDate.UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrDuplicateKey
		}
		if descriptor == nil {
			return nil
		}
		return s.putDescriptor(ctx, tx, st.RollNumber, descriptor)
	})
}

func (s *SQL) RenameStudent(ctx context.Context, rollNumber, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE students SET name = ? WHERE roll_number = ?`), name, rollNumber)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQL) DeleteStudent(ctx context.Context, rollNumber string) error {
	return s.runInTx(ctx, func(ctx context.Context, tx DBTX) error {
		for _, q := range []string{
			`DELETE FROM attendance WHERE roll_number = ?`,
			`DELETE FROM face_descriptors WHERE roll_number = ?`,
			`DELETE FROM students WHERE roll_number = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.rebind(q), rollNumber); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQL) Student(ctx context.Context, rollNumber string) (*Student, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT roll_number, name, registered_at FROM students WHERE roll_number = ?
	`), rollNumber)
	var st Student
	if err := row.Scan(&st.RollNumber, &st.Name, &st.RegisteredDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.RegisteredDate = st.RegisteredDate.UTC()
	return &st, nil
}

func (s *SQL) Students(ctx context.Context) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT roll_number, name, registered_at FROM students ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.RollNumber, &st.Name, &st.RegisteredDate); err != nil {
			return nil, err
		}
		st.RegisteredDate = st.RegisteredDate.UTC()
		students = append(students, st)
	}
	return students, rows.Err()
}

// -------- Subjects --------

func (s *SQL) InsertSubject(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO subjects (name) VALUES (?)
		ON CONFLICT (name) DO NOTHING
	`), name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQL) DeleteSubject(ctx context.Context, name string) error {
	return s.runInTx(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM attendance WHERE subject = ?`), name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM subjects WHERE name = ?`), name)
		return err
	})
}

func (s *SQL) Subjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM subjects ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// -------- Attendance --------

func (s *SQL) InsertAttendance(ctx context.Context, rec AttendanceRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO attendance (id, roll_number, subject, on_date, at_time, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.RollNumber, rec.Subject, rec.Date, rec.Time, rec.Timestamp.UTC())
	return err
}

func (s *SQL) Attendance(ctx context.Context, f AttendanceFilter) ([]AttendanceRecord, error) {
	query := `SELECT id, roll_number, subject, on_date, at_time, ts FROM attendance`
	var clauses []string
	var args []any
	if f.RollNumber != "" {
		clauses = append(clauses, "roll_number = ?")
		args = append(args, f.RollNumber)
	}
	if f.Subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Date != "" {
		clauses = append(clauses, "on_date = ?")
		args = append(args, f.Date)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AttendanceRecord{}
	for rows.Next() {
		var r AttendanceRecord
		var ts time.Time
		if err := rows.Scan(&r.ID, &r.RollNumber, &r.Subject, &r.Date, &r.Time, &ts); err != nil {
			return nil, err
		}
		r.Timestamp = ts.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// -------- Face descriptors --------

func (s *SQL) PutDescriptor(ctx context.Context, rollNumber string, descriptor []float32) error {
	return s.putDescriptor(ctx, s.db, rollNumber, descriptor)
}

func (s *SQL) putDescriptor(ctx context.Context, q DBTX, rollNumber string, descriptor []float32) error {
	_, err := q.ExecContext(ctx, s.rebind(`
		INSERT INTO face_descriptors (roll_number, descriptor)
		VALUES (?, ?)
		ON CONFLICT (roll_number) DO UPDATE SET descriptor = excluded.descriptor
	`), rollNumber, s.d.encodeVec(descriptor))
	return err
}

func (s *SQL) Descriptor(ctx context.Context, rollNumber string) ([]float32, error) {
	col := s.d.newVec()
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT descriptor FROM face_descriptors WHERE roll_number = ?`), rollNumber).Scan(col)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return col.Vec(), nil
}

func (s *SQL) descriptorsQuery() string {
	return `SELECT roll_number, descriptor FROM face_descriptors ORDER BY ` + s.d.rollOrder
}

func (s *SQL) Descriptors(ctx context.Context) ([]FaceDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, s.descriptorsQuery())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FaceDescriptor
	for rows.Next() {
		var fd FaceDescriptor
		col := s.d.newVec()
		if err := rows.Scan(&fd.RollNumber, col); err != nil {
			return nil, err
		}
		fd.Descriptor = col.Vec()
		out = append(out, fd)
	}
	return out, rows.Err()
}

func (s *SQL) DeleteDescriptor(ctx context.Context, rollNumber string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM face_descriptors WHERE roll_number = ?`), rollNumber)
	return err
}

// -------- Admin --------

func (s *SQL) Credentials(ctx context.Context) (*Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx, `SELECT username, password FROM admin_credentials WHERE id = 1`).Scan(&c.Username, &c.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *SQL) PutCredentials(ctx context.Context, c Credentials) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO admin_credentials (id, username, password)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, password = excluded.password
	`), c.Username, c.Password)
	return err
}

func (s *SQL) Clear(ctx context.Context) error {
	return s.runInTx(ctx, func(ctx context.Context, tx DBTX) error {
		for _, table := range []string{"attendance", "face_descriptors", "students", "subjects", "admin_credentials"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}
