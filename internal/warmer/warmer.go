// Package warmer refreshes school summaries on a cron schedule so the first
// dashboard load after a quiet period does not pay for a remote fetch.
package warmer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ashwinkrishna05/timetable-generator/internal/cron"
	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

const DefaultConcurrency = 4

type SchoolLister interface {
	ListSchools(ctx context.Context) ([]domain.School, error)
}

type Refresher interface {
	Refresh(ctx context.Context, school domain.SchoolID) (domain.Snapshot, error)
}

// MetricsSink records warm passes. Implementations must be non-blocking.
type MetricsSink interface {
	WarmCompleted(duration time.Duration, schools, failures int)
}

type Config struct {
	TickInterval time.Duration
	// SchoolIDs limits warming to these schools. Empty means every school
	// the lister returns.
	SchoolIDs   []domain.SchoolID
	Concurrency int
}

// Report summarises one warm pass.
type Report struct {
	Schools  int
	Failures int
	Duration time.Duration
}

type Warmer struct {
	config    Config
	schedule  *cron.Schedule
	lister    SchoolLister
	refresher Refresher
	metrics   MetricsSink
	clock     func() time.Time
	log       logrus.FieldLogger
	lastTick  time.Time
}

func New(config Config, schedule *cron.Schedule, lister SchoolLister, refresher Refresher) *Warmer {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	return &Warmer{
		config:    config,
		schedule:  schedule,
		lister:    lister,
		refresher: refresher,
		clock:     time.Now,
		log:       logger.For("warmer"),
	}
}

func (w *Warmer) WithMetrics(m MetricsSink) *Warmer {
	w.metrics = m
	return w
}

func (w *Warmer) WithClock(clock func() time.Time) *Warmer {
	w.clock = clock
	return w
}

func (w *Warmer) WithLogger(l logrus.FieldLogger) *Warmer {
	w.log = l
	return w
}

// Run ticks until ctx is cancelled.
func (w *Warmer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.TickInterval)
	defer ticker.Stop()

	w.log.Infof("warmer: started, schedule=%s tick=%s", w.schedule, w.config.TickInterval)
	w.lastTick = w.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("warmer: stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick warms once if the schedule fired since the previous tick.
func (w *Warmer) Tick(ctx context.Context) {
	now := w.clock().UTC()
	if w.lastTick.IsZero() {
		w.lastTick = now
		return
	}
	firedAt, due := w.schedule.LastFire(w.lastTick, now)
	w.lastTick = now
	if !due {
		return
	}

	report, err := w.WarmOnce(ctx)
	if err != nil {
		w.log.WithError(err).Warn("warmer: pass failed")
		return
	}
	w.log.WithFields(logrus.Fields{
		"fired_at": firedAt.Format(time.RFC3339),
		"schools":  report.Schools,
		"failures": report.Failures,
		"duration": report.Duration,
	}).Info("warmer: pass complete")
}

// WarmOnce refreshes every target school. Per-school failures are logged and
// counted; only failing to resolve the school list is an error.
func (w *Warmer) WarmOnce(ctx context.Context) (Report, error) {
	start := w.clock()

	schools, err := w.targets(ctx)
	if err != nil {
		return Report{}, err
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, id := range schools {
		id := id
		g.Go(func() error {
			if _, err := w.refresher.Refresh(gctx, id); err != nil {
				failures.Add(1)
				w.log.WithField("school_id", id).WithError(err).Warn("warmer: refresh failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Schools:  len(schools),
		Failures: int(failures.Load()),
		Duration: w.clock().Sub(start),
	}
	if w.metrics != nil {
		w.metrics.WarmCompleted(report.Duration, report.Schools, report.Failures)
	}
	return report, nil
}

func (w *Warmer) targets(ctx context.Context) ([]domain.SchoolID, error) {
	if len(w.config.SchoolIDs) > 0 {
		return w.config.SchoolIDs, nil
	}
	schools, err := w.lister.ListSchools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	ids := make([]domain.SchoolID, 0, len(schools))
	for _, s := range schools {
		ids = append(ids, s.ID)
	}
	return ids, nil
}
