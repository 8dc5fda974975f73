// Package notify turns generation outcomes into user-facing messages and
// hands them to one or more delivery channels. It never returns errors to
// its caller: delivery failures are logged and counted.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

// Notification is what a channel delivers.
type Notification struct {
	SchoolID domain.SchoolID
	Level    domain.Level
	Message  string
	Outcome  domain.Outcome
}

// Channel delivers a notification somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// MetricsSink records delivery failures. Implementations must be non-blocking.
type MetricsSink interface {
	NotificationFailed(channel string)
}

type Sink struct {
	channels []Channel
	metrics  MetricsSink
	log      logrus.FieldLogger
}

func New(channels ...Channel) *Sink {
	return &Sink{
		channels: channels,
		log:      logger.For("notify"),
	}
}

func (s *Sink) WithMetrics(m MetricsSink) *Sink {
	s.metrics = m
	return s
}

func (s *Sink) WithLogger(l logrus.FieldLogger) *Sink {
	s.log = l
	return s
}

// Build maps an outcome to the notification shown to the user.
func Build(school domain.SchoolID, outcome domain.Outcome) Notification {
	return Notification{
		SchoolID: school,
		Level:    outcome.Level(),
		Message:  outcome.Message(),
		Outcome:  outcome,
	}
}

// Notify delivers outcome on every channel.
func (s *Sink) Notify(ctx context.Context, school domain.SchoolID, outcome domain.Outcome) {
	n := Build(school, outcome)
	for _, ch := range s.channels {
		if err := s.send(ctx, ch, n); err != nil {
			if s.metrics != nil {
				s.metrics.NotificationFailed(ch.Name())
			}
			s.log.WithFields(logrus.Fields{
				"channel":   ch.Name(),
				"school_id": school,
			}).WithError(err).Warn("notify: delivery failed")
		}
	}
}

func (s *Sink) send(ctx context.Context, ch Channel, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()
	return ch.Send(ctx, n)
}
