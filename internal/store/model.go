package store

import "time"

// Student is a registered student. RollNumber is the immutable key.
type Student struct {
	RollNumber     string    `json:"roll_number"`
	Name           string    `json:"name"`
	RegisteredDate time.Time `json:"registered_date"`
}

// AttendanceRecord is one "present" mark. RollNumber and Subject are soft
// references; the store removes records when either side is deleted.
type AttendanceRecord struct {
	ID         string    `json:"id"`
	RollNumber string    `json:"roll_number"`
	Subject    string    `json:"subject"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Timestamp  time.Time `json:"timestamp"`
}

// FaceDescriptor is the stored face vector for one student.
type FaceDescriptor struct {
	RollNumber string    `json:"roll_number"`
	Descriptor []float32 `json:"descriptor"`
}

// Credentials is the singleton admin login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AttendanceFilter narrows an attendance listing. Empty fields match everything.
type AttendanceFilter struct {
	RollNumber string
	Subject    string
	Date       string
}

func (f AttendanceFilter) match(r AttendanceRecord) bool {
	if f.RollNumber != "" && r.RollNumber != f.RollNumber {
		return false
	}
	if f.Subject != "" && r.Subject != f.Subject {
		return false
	}
	if f.Date != "" && r.Date != f.Date {
		return false
	}
	return true
}

const (
	// DateLayout is the format of AttendanceRecord.Date.
	DateLayout = "2006-01-02"
	// TimeLayout is the format of AttendanceRecord.Time.
	TimeLayout = "15:04:05"
)

// DefaultCredentials are returned while no admin login has been saved.
var DefaultCredentials = Credentials{Username: "admin", Password: "admin123"}
