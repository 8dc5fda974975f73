// Package cron parses the five-field expressions that drive summary warming.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var standard = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maxCatchUp bounds the walk in LastFire so a stalled ticker cannot spin.
const maxCatchUp = 1000

// Schedule is a parsed expression evaluated in a fixed location.
type Schedule struct {
	expr string
	spec cron.Schedule
	loc  *time.Location
}

// Parse compiles expression in the given IANA timezone. An empty timezone
// means UTC.
func Parse(expression, timezone string) (*Schedule, error) {
	spec, err := standard.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expression, err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &Schedule{expr: expression, spec: spec, loc: loc}, nil
}

// Next returns the first fire time strictly after after.
func (s *Schedule) Next(after time.Time) time.Time {
	return s.spec.Next(after.In(s.loc))
}

// LastFire returns the latest fire time in (after, until], in UTC. ok is
// false when nothing fired in that window. Missed fires collapse into one.
func (s *Schedule) LastFire(after, until time.Time) (t time.Time, ok bool) {
	next := s.Next(after)
	for i := 0; i < maxCatchUp && !next.After(until); i++ {
		t, ok = next, true
		next = s.Next(next)
	}
	return t.UTC(), ok
}

func (s *Schedule) String() string {
	return fmt.Sprintf("%s (%s)", s.expr, s.loc)
}
