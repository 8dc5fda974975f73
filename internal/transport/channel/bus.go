// Package channel carries generation state changes from the orchestrator to
// whoever renders them.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
)

// ErrBufferFull is returned when a state change could not be queued in time.
var ErrBufferFull = errors.New("event bus buffer full")

// DefaultEmitTimeout of zero makes Emit non-blocking: a full buffer drops the
// state change instead of stalling the orchestrator.
const DefaultEmitTimeout time.Duration = 0

// MetricsSink records bus metrics. Implementations must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type EventBus struct {
	ch          chan domain.StateChange
	emitTimeout time.Duration
	metrics     MetricsSink
}

type Option func(*EventBus)

// WithEmitTimeout makes Emit wait up to d for buffer space.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) { b.metrics = m }
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.StateChange, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *EventBus) Emit(ctx context.Context, change domain.StateChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case b.ch <- change:
		b.updateSize()
		return nil
	default:
	}

	if b.emitTimeout <= 0 {
		b.emitFailed()
		return ErrBufferFull
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- change:
		b.updateSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		b.emitFailed()
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.StateChange {
	return b.ch
}

func (b *EventBus) updateSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.ch))
	}
}

func (b *EventBus) emitFailed() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
