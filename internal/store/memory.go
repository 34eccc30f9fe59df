package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process backend. A single RWMutex makes each cascade
// atomic to readers.
type Memory struct {
	mu          sync.RWMutex
	closed      bool
	students    []Student
	subjects    []string
	attendance  []AttendanceRecord
	descriptors map[string][]float32
	creds       *Credentials
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{descriptors: make(map[string][]float32)}
}

func (m *Memory) InsertStudent(_ context.Context, st Student, descriptor []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.studentIndex(st.RollNumber) >= 0 {
		return ErrDuplicateKey
	}
	m.students = append(m.students, st)
	if descriptor != nil {
		m.descriptors[st.RollNumber] = cloneVec(descriptor)
	}
	return nil
}

func (m *Memory) RenameStudent(_ context.Context, rollNumber, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	i := m.studentIndex(rollNumber)
	if i < 0 {
		return false, nil
	}
	m.students[i].Name = name
	return true, nil
}

func (m *Memory) DeleteStudent(_ context.Context, rollNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if i := m.studentIndex(rollNumber); i >= 0 {
		m.students = append(m.students[:i:i], m.students[i+1:]...)
	}
	delete(m.descriptors, rollNumber)
	m.attendance = filterRecords(m.attendance, func(r AttendanceRecord) bool { return r.RollNumber != rollNumber })
	return nil
}

func (m *Memory) Student(_ context.Context, rollNumber string) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	i := m.studentIndex(rollNumber)
	if i < 0 {
		return nil, nil
	}
	st := m.students[i]
	return &st, nil
}

func (m *Memory) Students(_ context.Context) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Student, len(m.students))
	copy(out, m.students)
	return out, nil
}

func (m *Memory) InsertSubject(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	for _, s := range m.subjects {
		if s == name {
			return false, nil
		}
	}
	m.subjects = append(m.subjects, name)
	return true, nil
}

func (m *Memory) DeleteSubject(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	kept := m.subjects[:0:0]
	for _, s := range m.subjects {
		if s != name {
			kept = append(kept, s)
		}
	}
	m.subjects = kept
	m.attendance = filterRecords(m.attendance, func(r AttendanceRecord) bool { return r.Subject != name })
	return nil
}

func (m *Memory) Subjects(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]string, len(m.subjects))
	copy(out, m.subjects)
	return out, nil
}

func (m *Memory) InsertAttendance(_ context.Context, rec AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.attendance = append(m.attendance, rec)
	return nil
}

func (m *Memory) Attendance(_ context.Context, f AttendanceFilter) ([]AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return filterRecords(m.attendance, f.match), nil
}

func (m *Memory) PutDescriptor(_ context.Context, rollNumber string, descriptor []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.descriptors[rollNumber] = cloneVec(descriptor)
	return nil
}

func (m *Memory) Descriptor(_ context.Context, rollNumber string) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	d, ok := m.descriptors[rollNumber]
	if !ok {
		return nil, nil
	}
	return cloneVec(d), nil
}

func (m *Memory) Descriptors(_ context.Context) ([]FaceDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.descriptors))
	for k := range m.descriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]FaceDescriptor, 0, len(keys))
	for _, k := range keys {
		out = append(out, FaceDescriptor{RollNumber: k, Descriptor: cloneVec(m.descriptors[k])})
	}
	return out, nil
}

func (m *Memory) DeleteDescriptor(_ context.Context, rollNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.descriptors, rollNumber)
	return nil
}

func (m *Memory) Credentials(_ context.Context) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.creds == nil {
		return nil, nil
	}
	c := *m.creds
	return &c, nil
}

func (m *Memory) PutCredentials(_ context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.creds = &c
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.students = nil
	m.subjects = nil
	m.attendance = nil
	m.descriptors = make(map[string][]float32)
	m.creds = nil
	return nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) studentIndex(rollNumber string) int {
	for i, st := range m.students {
		if st.RollNumber == rollNumber {
			return i
		}
	}
	return -1
}

func filterRecords(in []AttendanceRecord, keep func(AttendanceRecord) bool) []AttendanceRecord {
	out := make([]AttendanceRecord, 0, len(in))
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
