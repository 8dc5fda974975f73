package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	log logrus.FieldLogger
}

func NewLogChannel(l logrus.FieldLogger) *LogChannel {
	if l == nil {
		l = logger.For("notify")
	}
	return &LogChannel{log: l}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, n Notification) error {
	entry := c.log.WithFields(logrus.Fields{
		"school_id": n.SchoolID,
		"outcome":   n.Outcome.Kind,
		"reason":    n.Outcome.Reason,
	})
	switch n.Level {
	case domain.LevelSuccess:
		entry.Info(n.Message)
	case domain.LevelWarning:
		entry.Warn(n.Message)
	default:
		entry.Error(n.Message)
	}
	return nil
}
