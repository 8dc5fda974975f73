package domain

import (
	"fmt"
	"strconv"
	"time"
)

// SchoolID identifies a school on the remote scheduling service.
type SchoolID int64

func (id SchoolID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseSchoolID parses a positive decimal school identifier.
func ParseSchoolID(s string) (SchoolID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid school id %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid school id %q: must be positive", s)
	}
	return SchoolID(n), nil
}

// ClassID identifies a class. Classes are the unit of work submitted for generation.
type ClassID int64

// School is the scope for summary and generation operations.
type School struct {
	ID          SchoolID `json:"id"`
	Name        string   `json:"name"`
	WorkingDays []string `json:"working_days"`
}

// Class belongs to exactly one school.
type Class struct {
	ID          ClassID   `json:"id"`
	SchoolID    SchoolID  `json:"school_id"`
	ClassNumber int       `json:"class_number"`
	Sections    []string  `json:"sections,omitempty"`
	NoSections  bool      `json:"no_sections"`
	Stream      string    `json:"stream,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
