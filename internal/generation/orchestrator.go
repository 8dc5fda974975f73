// Package generation runs the "generate timetables" workflow for a school:
// resolve its classes, submit them to the scheduling service, then refresh
// the cached summary. Every failure ends the run with an Outcome; Start only
// returns an error when the school already has a run in flight.
package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

var ErrGenerationInProgress = errors.New("generation already in progress for school")

type ResourceClient interface {
	ListClasses(ctx context.Context, school domain.SchoolID) ([]domain.Class, error)
	SubmitGeneration(ctx context.Context, req domain.GenerationRequest) (domain.Accepted, error)
}

type SummaryCache interface {
	Invalidate(ctx context.Context, school domain.SchoolID) error
	Refresh(ctx context.Context, school domain.SchoolID) (domain.Snapshot, error)
}

// Notifier delivers outcomes to the user. It must not block for long and
// handles its own failures.
type Notifier interface {
	Notify(ctx context.Context, school domain.SchoolID, outcome domain.Outcome)
}

// EventEmitter publishes state changes. A failed emit is dropped.
type EventEmitter interface {
	Emit(ctx context.Context, change domain.StateChange) error
}

// Recorder persists finished runs for auditing.
type Recorder interface {
	RecordRun(ctx context.Context, run domain.GenerationRun) error
}

// MetricsSink records orchestrator metrics. Implementations must be non-blocking.
type MetricsSink interface {
	GenerationStarted()
	GenerationRejected()
	GenerationCompleted(outcome string, duration time.Duration)
	GenerationsInFlightIncr()
	GenerationsInFlightDecr()
	SummaryRefreshFailed()
}

// Result describes a finished run. Generation success and summary refresh
// success are reported separately: RefreshErr never changes Outcome.
type Result struct {
	RunID      uuid.UUID
	SchoolID   domain.SchoolID
	Outcome    domain.Outcome
	ClassCount int
	Accepted   *domain.Accepted
	Summary    *domain.Snapshot
	RefreshErr error
	StartedAt  time.Time
	FinishedAt time.Time
}

type run struct {
	id     uuid.UUID
	phase  domain.Phase
	cancel context.CancelFunc
}

type Orchestrator struct {
	client   ResourceClient
	cache    SummaryCache
	notifier Notifier
	emitter  EventEmitter
	recorder Recorder
	metrics  MetricsSink
	clock    func() time.Time
	log      logrus.FieldLogger

	mu   sync.Mutex
	runs map[domain.SchoolID]*run
}

func New(client ResourceClient, cache SummaryCache, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		client:   client,
		cache:    cache,
		notifier: notifier,
		clock:    time.Now,
		log:      logger.For("generation"),
		runs:     make(map[domain.SchoolID]*run),
	}
}

// WithEmitter publishes every state change. Pass nil to disable.
func (o *Orchestrator) WithEmitter(e EventEmitter) *Orchestrator {
	o.emitter = e
	return o
}

// WithRecorder stores every finished run. Pass nil to disable.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

func (o *Orchestrator) WithMetrics(m MetricsSink) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

func (o *Orchestrator) WithLogger(l logrus.FieldLogger) *Orchestrator {
	o.log = l
	return o
}

// State returns the current phase for school.
func (o *Orchestrator) State(school domain.SchoolID) domain.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runs[school]; ok {
		return r.phase
	}
	return domain.PhaseIdle
}

// Cancel stops the in-flight run for school. The run ends as
// Skipped("cancelled") unless the remote already accepted it.
func (o *Orchestrator) Cancel(school domain.SchoolID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[school]
	if !ok {
		return false
	}
	r.cancel()
	return true
}

// Start runs one generation for school and blocks until it is over. A second
// Start for the same school while the first is running returns
// ErrGenerationInProgress at once; it is never queued.
func (o *Orchestrator) Start(ctx context.Context, school domain.SchoolID) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{id: uuid.New(), phase: domain.PhaseResolvingClasses, cancel: cancel}

	o.mu.Lock()
	if existing, busy := o.runs[school]; busy {
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.GenerationRejected()
		}
		o.log.WithFields(logrus.Fields{
			"school_id": school,
			"run_id":    existing.id,
			"phase":     existing.phase,
		}).Info("generation: start rejected, run already in flight")
		return Result{}, ErrGenerationInProgress
	}
	o.runs[school] = r
	o.mu.Unlock()

	res := Result{RunID: r.id, SchoolID: school, StartedAt: o.clock().UTC()}
	log := o.log.WithFields(logrus.Fields{"school_id": school, "run_id": r.id})

	if o.metrics != nil {
		o.metrics.GenerationStarted()
		o.metrics.GenerationsInFlightIncr()
		defer o.metrics.GenerationsInFlightDecr()
	}
	o.emit(runCtx, r, school, domain.PhaseIdle, domain.PhaseResolvingClasses, "")
	log.Info("generation: started")

	o.execute(runCtx, r, school, &res, log)

	res.FinishedAt = o.clock().UTC()
	o.finish(ctx, r, school, res, log)
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, school domain.SchoolID, res *Result, log logrus.FieldLogger) {
	classes, err := o.client.ListClasses(ctx, school)
	if err != nil {
		res.Outcome = o.failureOutcome(ctx, err)
		log.WithError(err).Warnf("generation: list classes failed, reason=%q", res.Outcome.Reason)
		return
	}
	if ctx.Err() != nil {
		res.Outcome = domain.Skipped(domain.ReasonCancelled)
		return
	}
	res.ClassCount = len(classes)
	if len(classes) == 0 {
		res.Outcome = domain.Skipped(domain.ReasonNoClasses)
		log.Info("generation: school has no classes, nothing to submit")
		return
	}

	o.transition(ctx, r, school, domain.PhaseSubmitting, "")
	req := domain.NewGenerationRequest(classes, false)
	accepted, err := o.client.SubmitGeneration(ctx, req)
	if err != nil {
		res.Outcome = o.failureOutcome(ctx, err)
		log.WithError(err).Warnf("generation: submit failed, reason=%q", res.Outcome.Reason)
		return
	}
	res.Accepted = &accepted
	res.Outcome = domain.Success()
	log.WithFields(logrus.Fields{
		"classes":   len(req.ClassIDs),
		"generated": accepted.Generated,
	}).Info("generation: accepted by scheduling service")

	o.transition(ctx, r, school, domain.PhaseRefreshingSummary, "")

	// The remote run has already happened; a cancelled caller only skips the
	// cache work.
	if err := ctx.Err(); err != nil {
		res.RefreshErr = err
		log.Info("generation: cancelled after acceptance, summary refresh skipped")
		return
	}

	if err := o.cache.Invalidate(ctx, school); err != nil {
		log.WithError(err).Warn("generation: summary invalidation failed")
	}
	snap, err := o.cache.Refresh(ctx, school)
	if err != nil {
		res.RefreshErr = err
		if o.metrics != nil {
			o.metrics.SummaryRefreshFailed()
		}
		log.WithError(err).Warn("generation: summary refresh failed after successful generation")
		return
	}
	res.Summary = &snap
}

// failureOutcome converts a client error into the outcome shown to the user.
func (o *Orchestrator) failureOutcome(ctx context.Context, err error) domain.Outcome {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return domain.Skipped(domain.ReasonCancelled)
	}

	var rejection *domain.ValidationRejection
	switch {
	case errors.As(err, &rejection):
		return domain.Failure(rejection.Reason)
	case domain.IsNotFound(err):
		return domain.Failure(domain.ReasonSchoolNotFound)
	default:
		return domain.Failure(domain.ReasonGenerationFailed)
	}
}

// finish walks the run back to Idle and reports the outcome. Notification
// and recording still happen when the caller has gone away.
func (o *Orchestrator) finish(ctx context.Context, r *run, school domain.SchoolID, res Result, log logrus.FieldLogger) {
	detached := context.WithoutCancel(ctx)

	if res.Outcome.Kind != domain.OutcomeSuccess {
		o.transition(detached, r, school, domain.PhaseAborted, res.Outcome.Reason)
	}

	o.mu.Lock()
	from := r.phase
	r.phase = domain.PhaseIdle
	delete(o.runs, school)
	o.mu.Unlock()
	o.emit(detached, r, school, from, domain.PhaseIdle, res.Outcome.Reason)

	if o.metrics != nil {
		o.metrics.GenerationCompleted(string(res.Outcome.Kind), res.FinishedAt.Sub(res.StartedAt))
	}
	log.WithFields(logrus.Fields{
		"outcome": res.Outcome.Kind,
		"reason":  res.Outcome.Reason,
	}).Info("generation: finished")

	o.notifier.Notify(detached, school, res.Outcome)

	if o.recorder != nil {
		rec := domain.GenerationRun{
			ID:         res.RunID,
			SchoolID:   school,
			Outcome:    res.Outcome,
			ClassCount: res.ClassCount,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
		}
		if res.RefreshErr != nil {
			rec.RefreshError = res.RefreshErr.Error()
		}
		if err := o.recorder.RecordRun(detached, rec); err != nil {
			log.WithError(err).Warn("generation: failed to record run")
		}
	}
}

func (o *Orchestrator) transition(ctx context.Context, r *run, school domain.SchoolID, to domain.Phase, reason string) {
	o.mu.Lock()
	from := r.phase
	r.phase = to
	o.mu.Unlock()
	o.emit(ctx, r, school, from, to, reason)
}

func (o *Orchestrator) emit(ctx context.Context, r *run, school domain.SchoolID, from, to domain.Phase, reason string) {
	if o.emitter == nil {
		return
	}
	change := domain.StateChange{
		RunID:    r.id,
		SchoolID: school,
		From:     from,
		To:       to,
		Reason:   reason,
		At:       o.clock().UTC(),
	}
	if err := o.emitter.Emit(context.WithoutCancel(ctx), change); err != nil {
		o.log.WithFields(logrus.Fields{"school_id": school, "to": to}).WithError(err).Debug("generation: state change dropped")
	}
}
