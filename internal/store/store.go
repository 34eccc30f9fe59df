package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backend is the storage engine behind Store. Every method is atomic as seen
// by readers: the cascading deletes and InsertStudent with a descriptor must
// commit all or nothing.
type Backend interface {
	// InsertStudent adds st, plus descriptor when it is non-nil.
	// It returns ErrDuplicateKey when the roll number exists.
	InsertStudent(ctx context.Context, st Student, descriptor []float32) error
	RenameStudent(ctx context.Context, rollNumber, name string) (bool, error)
	// DeleteStudent removes the student, its descriptor and its attendance.
	DeleteStudent(ctx context.Context, rollNumber string) error
	Student(ctx context.Context, rollNumber string) (*Student, error)
	Students(ctx context.Context) ([]Student, error)

	InsertSubject(ctx context.Context, name string) (bool, error)
	// DeleteSubject removes the subject and its attendance.
	DeleteSubject(ctx context.Context, name string) error
	Subjects(ctx context.Context) ([]string, error)

	InsertAttendance(ctx context.Context, rec AttendanceRecord) error
	Attendance(ctx context.Context, f AttendanceFilter) ([]AttendanceRecord, error)

	PutDescriptor(ctx context.Context, rollNumber string, descriptor []float32) error
	Descriptor(ctx context.Context, rollNumber string) ([]float32, error)
	// Descriptors returns every descriptor ordered by roll number.
	Descriptors(ctx context.Context) ([]FaceDescriptor, error)
	DeleteDescriptor(ctx context.Context, rollNumber string) error

	Credentials(ctx context.Context) (*Credentials, error)
	PutCredentials(ctx context.Context, c Credentials) error

	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Store is the persistence layer handed to every consumer.
type Store struct {
	backend  Backend
	now      func() time.Time
	location *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the zone used for the date and time columns.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.location = loc
		}
	}
}

// New wraps a backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{backend: b, now: time.Now, location: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping reports whether the backend can serve requests.
func (s *Store) Ping(ctx context.Context) error {
	return unavailable("ping", s.backend.Ping(ctx))
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Today returns the current date in the store's date format.
func (s *Store) Today() string {
	return s.now().In(s.location).Format(DateLayout)
}

// -------- Students --------

// AddStudent stores st. RegisteredDate defaults to now.
func (s *Store) AddStudent(ctx context.Context, st Student) error {
	return s.insertStudent(ctx, "add student", st, nil)
}

// RegisterStudent stores st together with its face descriptor.
func (s *Store) RegisterStudent(ctx context.Context, st Student, descriptor []float32) error {
	if len(descriptor) == 0 {
		return invalid("register student", "face descriptor required")
	}
	return s.insertStudent(ctx, "register student", st, descriptor)
}

func (s *Store) insertStudent(ctx context.Context, op string, st Student, descriptor []float32) error {
	st.RollNumber = strings.TrimSpace(st.RollNumber)
	st.Name = strings.TrimSpace(st.Name)
	if st.RollNumber == "" || st.Name == "" {
		return invalid(op, "roll number and name required")
	}
	if st.RegisteredDate.IsZero() {
		st.RegisteredDate = s.now().UTC()
	}
	if err := s.backend.InsertStudent(ctx, st, descriptor); err != nil {
		return unavailable(fmt.Sprintf("%s %s", op, st.RollNumber), err)
	}
	return nil
}

// UpdateStudentName renames a student. It returns false if the student does not exist.
func (s *Store) UpdateStudentName(ctx context.Context, rollNumber, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, invalid("update student", "name required")
	}
	ok, err := s.backend.RenameStudent(ctx, rollNumber, name)
	return ok, unavailable("update student", err)
}

// DeleteStudent removes a student with its descriptor and attendance.
// Deleting an unknown roll number is a no-op.
func (s *Store) DeleteStudent(ctx context.Context, rollNumber string) error {
	return unavailable("delete student", s.backend.DeleteStudent(ctx, rollNumber))
}

// Student returns nil when the roll number is unknown.
func (s *Store) Student(ctx context.Context, rollNumber string) (*Student, error) {
	st, err := s.backend.Student(ctx, rollNumber)
	if err != nil {
		return nil, unavailable("get student", err)
	}
	return st, nil
}

// Students returns all students in registration order.
func (s *Store) Students(ctx context.Context) ([]Student, error) {
	list, err := s.backend.Students(ctx)
	if err != nil {
		return nil, unavailable("list students", err)
	}
	return list, nil
}

// -------- Subjects --------

// AddSubject reports whether name was newly added. Names match exactly.
func (s *Store) AddSubject(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, invalid("add subject", "name required")
	}
	added, err := s.backend.InsertSubject(ctx, name)
	if err != nil {
		return false, unavailable("add subject", err)
	}
	return added, nil
}

// DeleteSubject removes a subject and every attendance record for it.
func (s *Store) DeleteSubject(ctx context.Context, name string) error {
	return unavailable("delete subject", s.backend.DeleteSubject(ctx, name))
}

// Subjects returns subject names in the order they were added.
func (s *Store) Subjects(ctx context.Context) ([]string, error) {
	list, err := s.backend.Subjects(ctx)
	if err != nil {
		return nil, unavailable("list subjects", err)
	}
	return list, nil
}

// HasSubject reports whether name is a known subject.
func (s *Store) HasSubject(ctx context.Context, name string) (bool, error) {
	list, err := s.Subjects(ctx)
	if err != nil {
		return false, err
	}
	for _, sub := range list {
		if sub == name {
			return true, nil
		}
	}
	return false, nil
}

// -------- Attendance --------

// AddAttendance appends a record stamped with the current instant. It does
// not check for duplicates or for the existence of the student or subject.
func (s *Store) AddAttendance(ctx context.Context, rollNumber, subject string) (AttendanceRecord, error) {
	if rollNumber == "" || subject == "" {
		return AttendanceRecord{}, invalid("add attendance", "roll number and subject required")
	}
	now := s.now()
	local := now.In(s.location)
	rec := AttendanceRecord{
		ID:         uuid.NewString(),
		RollNumber: rollNumber,
		Subject:    subject,
		Date:       local.Format(DateLayout),
		Time:       local.Format(TimeLayout),
		Timestamp:  now.UTC(),
	}
	if err := s.backend.InsertAttendance(ctx, rec); err != nil {
		return AttendanceRecord{}, unavailable("add attendance", err)
	}
	return rec, nil
}

// Attendance lists records matching f in insertion order.
func (s *Store) Attendance(ctx context.Context, f AttendanceFilter) ([]AttendanceRecord, error) {
	list, err := s.backend.Attendance(ctx, f)
	if err != nil {
		return nil, unavailable("list attendance", err)
	}
	return list, nil
}

func (s *Store) AttendanceByStudent(ctx context.Context, rollNumber string) ([]AttendanceRecord, error) {
	if rollNumber == "" {
		return nil, nil
	}
	return s.Attendance(ctx, AttendanceFilter{RollNumber: rollNumber})
}

func (s *Store) AttendanceBySubject(ctx context.Context, subject string) ([]AttendanceRecord, error) {
	if subject == "" {
		return nil, nil
	}
	return s.Attendance(ctx, AttendanceFilter{Subject: subject})
}

// AttendanceByDate takes a date formatted with DateLayout.
func (s *Store) AttendanceByDate(ctx context.Context, date string) ([]AttendanceRecord, error) {
	if date == "" {
		return nil, nil
	}
	return s.Attendance(ctx, AttendanceFilter{Date: date})
}

func (s *Store) TodayAttendance(ctx context.Context) ([]AttendanceRecord, error) {
	return s.AttendanceByDate(ctx, s.Today())
}

// -------- Face descriptors --------

// SaveDescriptor inserts or replaces the descriptor for rollNumber.
func (s *Store) SaveDescriptor(ctx context.Context, rollNumber string, descriptor []float32) error {
	if rollNumber == "" || len(descriptor) == 0 {
		return invalid("save descriptor", "roll number and descriptor required")
	}
	cp := make([]float32, len(descriptor))
	copy(cp, descriptor)
	return unavailable("save descriptor", s.backend.PutDescriptor(ctx, rollNumber, cp))
}

// Descriptor returns nil when no descriptor is stored.
func (s *Store) Descriptor(ctx context.Context, rollNumber string) ([]float32, error) {
	d, err := s.backend.Descriptor(ctx, rollNumber)
	if err != nil {
		return nil, unavailable("get descriptor", err)
	}
	return d, nil
}

// Descriptors returns all stored descriptors ordered by roll number.
func (s *Store) Descriptors(ctx context.Context) ([]FaceDescriptor, error) {
	list, err := s.backend.Descriptors(ctx)
	if err != nil {
		return nil, unavailable("list descriptors", err)
	}
	return list, nil
}

func (s *Store) DeleteDescriptor(ctx context.Context, rollNumber string) error {
	return unavailable("delete descriptor", s.backend.DeleteDescriptor(ctx, rollNumber))
}

// -------- Admin --------

// AdminCredentials returns the saved login, or DefaultCredentials.
func (s *Store) AdminCredentials(ctx context.Context) (Credentials, error) {
	c, err := s.backend.Credentials(ctx)
	if err != nil {
		return Credentials{}, unavailable("get credentials", err)
	}
	if c == nil {
		return DefaultCredentials, nil
	}
	return *c, nil
}

func (s *Store) SaveAdminCredentials(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return invalid("save credentials", "username and password required")
	}
	return unavailable("save credentials", s.backend.PutCredentials(ctx, Credentials{Username: username, Password: password}))
}

// Clear wipes every table.
func (s *Store) Clear(ctx context.Context) error {
	return unavailable("clear", s.backend.Clear(ctx))
}
