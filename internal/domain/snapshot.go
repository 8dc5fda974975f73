package domain

import (
	"slices"
	"time"
)

// Snapshot is a point-in-time aggregate for one school. A snapshot is never
// mutated after it is built; a newer fetch supersedes it.
type Snapshot struct {
	SchoolID              SchoolID
	SchoolName            string
	TotalClasses          int
	TotalTeachers         int
	ClassesWithTimetables int
	WorkingDays           []string

	FetchedAt time.Time
}

// Clone returns a copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.WorkingDays = slices.Clone(s.WorkingDays)
	return c
}

// Equal reports whether two snapshots carry the same data, fetch time included.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.SchoolID == o.SchoolID &&
		s.SchoolName == o.SchoolName &&
		s.TotalClasses == o.TotalClasses &&
		s.TotalTeachers == o.TotalTeachers &&
		s.ClassesWithTimetables == o.ClassesWithTimetables &&
		slices.Equal(s.WorkingDays, o.WorkingDays) &&
		s.FetchedAt.Equal(o.FetchedAt)
}
