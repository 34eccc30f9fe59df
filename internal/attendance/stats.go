package attendance

import (
	"context"
	"math"

	"rollcall/internal/store"
)

// SubjectStats is one row of a student's subject breakdown.
type SubjectStats struct {
	Subject    string  `json:"subject"`
	Attended   int     `json:"attended"`
	Held       int     `json:"held"`
	Percentage float64 `json:"percentage"`
}

// StudentStats summarises a student's attendance.
type StudentStats struct {
	RollNumber    string         `json:"roll_number"`
	TotalAttended int            `json:"total_attended"`
	Subjects      []SubjectStats `json:"subjects"`
}

// Stats builds the portal summary for rollNumber. A class counts as held on a
// date when anyone was marked for the subject that day; attended counts the
// distinct dates the student was marked.
func Stats(ctx context.Context, st *store.Store, rollNumber string) (StudentStats, error) {
	records, err := st.AttendanceByStudent(ctx, rollNumber)
	if err != nil {
		return StudentStats{}, err
	}
	subjects, err := st.Subjects(ctx)
	if err != nil {
		return StudentStats{}, err
	}

	out := StudentStats{RollNumber: rollNumber, TotalAttended: len(records), Subjects: []SubjectStats{}}
	for _, subject := range subjects {
		all, err := st.AttendanceBySubject(ctx, subject)
		if err != nil {
			return StudentStats{}, err
		}
		held := map[string]bool{}
		attended := map[string]bool{}
		for _, r := range all {
			held[r.Date] = true
			if r.RollNumber == rollNumber {
				attended[r.Date] = true
			}
		}
		row := SubjectStats{Subject: subject, Attended: len(attended), Held: len(held)}
		if row.Held > 0 {
			row.Percentage = math.Round(float64(row.Attended)/float64(row.Held)*1000) / 10
		}
		out.Subjects = append(out.Subjects, row)
	}
	return out, nil
}

// SubjectTotal is one bar of the admin attendance chart.
type SubjectTotal struct {
	Subject string `json:"subject"`
	Total   int    `json:"total"`
	Today   int64  `json:"today"`
}

// Overview holds the admin dashboard counters for one date.
type Overview struct {
	Date        string         `json:"date"`
	Students    int            `json:"students"`
	Subjects    int            `json:"subjects"`
	Today       int            `json:"today"`
	PerSubject  []SubjectTotal `json:"per_subject"`
	TodaySource string         `json:"today_source"` // where PerSubject[].Today came from
}

// Overview sources.
const (
	SourceStore = "store"
	SourceTally = "tally"
)

// Dashboard counts students, subjects and records for today, and the
// all-time total per subject.
func Dashboard(ctx context.Context, st *store.Store) (Overview, error) {
	students, err := st.Students(ctx)
	if err != nil {
		return Overview{}, err
	}
	subjects, err := st.Subjects(ctx)
	if err != nil {
		return Overview{}, err
	}
	today, err := st.TodayAttendance(ctx)
	if err != nil {
		return Overview{}, err
	}
	todayBySubject := map[string]int64{}
	for _, r := range today {
		todayBySubject[r.Subject]++
	}

	out := Overview{
		Date:        st.Today(),
		Students:    len(students),
		Subjects:    len(subjects),
		Today:       len(today),
		PerSubject:  make([]SubjectTotal, 0, len(subjects)),
		TodaySource: SourceStore,
	}
	for _, subject := range subjects {
		all, err := st.AttendanceBySubject(ctx, subject)
		if err != nil {
			return Overview{}, err
		}
		out.PerSubject = append(out.PerSubject, SubjectTotal{
			Subject: subject,
			Total:   len(all),
			Today:   todayBySubject[subject],
		})
	}
	return out, nil
}
