// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
)

// FakeClock provides deterministic time for testing. Pass clock.Now wherever
// a component accepts a clock function.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// Classes builds one class per id, all owned by school, numbered from 1.
func Classes(school domain.SchoolID, ids ...domain.ClassID) []domain.Class {
	out := make([]domain.Class, len(ids))
	for i, id := range ids {
		out[i] = domain.Class{ID: id, SchoolID: school, ClassNumber: i + 1}
	}
	return out
}

// Snapshot returns a populated summary for school fetched at fetchedAt.
func Snapshot(school domain.SchoolID, fetchedAt time.Time) domain.Snapshot {
	return domain.Snapshot{
		SchoolID:              school,
		SchoolName:            "School " + school.String(),
		TotalClasses:          12,
		TotalTeachers:         20,
		ClassesWithTimetables: 4,
		WorkingDays:           []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"},
		FetchedAt:             fetchedAt,
	}
}
