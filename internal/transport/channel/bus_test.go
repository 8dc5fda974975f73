package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
)

func newTestChange() domain.StateChange {
	return domain.StateChange{
		RunID:    uuid.New(),
		SchoolID: 1,
		From:     domain.PhaseIdle,
		To:       domain.PhaseResolvingClasses,
		At:       time.Now().UTC(),
	}
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	bus := NewEventBus(10)
	change := newTestChange()

	if err := bus.Emit(context.Background(), change); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.RunID != change.RunID {
			t.Errorf("RunID = %v, want %v", got.RunID, change.RunID)
		}
		if got.To != domain.PhaseResolvingClasses {
			t.Errorf("To = %v, want %v", got.To, domain.PhaseResolvingClasses)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change on channel")
	}
}

func TestEventBus_BufferFull_NonBlockingByDefault(t *testing.T) {
	bus := NewEventBus(1)
	ctx := context.Background()

	if err := bus.Emit(ctx, newTestChange()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	start := time.Now()
	err := bus.Emit(ctx, newTestChange())
	if err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("default Emit should not block, took %v", elapsed)
	}
}

func TestEventBus_BufferFull_WithTimeout(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(50*time.Millisecond))
	ctx := context.Background()

	if err := bus.Emit(ctx, newTestChange()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	if err := bus.Emit(ctx, newTestChange()); err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got: %v", err)
	}
}

func TestEventBus_TimeoutWaitsForSpace(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(time.Second))
	ctx := context.Background()

	if err := bus.Emit(ctx, newTestChange()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-bus.Channel()
	}()

	if err := bus.Emit(ctx, newTestChange()); err != nil {
		t.Errorf("expected Emit to succeed once space frees up, got: %v", err)
	}
}

func TestEventBus_ContextCancelled(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(5*time.Second))

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := bus.Emit(cancelledCtx, newTestChange()); err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestEventBus_ConcurrentEmit(t *testing.T) {
	bus := NewEventBus(1000)
	ctx := context.Background()

	const numGoroutines = 10
	const changesPerGoroutine = 100

	var wg sync.WaitGroup
	var emitErrors atomic.Int64

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < changesPerGoroutine; j++ {
				if err := bus.Emit(ctx, newTestChange()); err != nil {
					emitErrors.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if emitErrors.Load() > 0 {
		t.Errorf("had %d emit errors", emitErrors.Load())
	}
	if got := len(bus.Channel()); got != numGoroutines*changesPerGoroutine {
		t.Errorf("buffered %d changes, want %d", got, numGoroutines*changesPerGoroutine)
	}
}

func TestEventBus_DefaultEmitTimeout(t *testing.T) {
	bus := NewEventBus(10)

	if bus.emitTimeout != DefaultEmitTimeout {
		t.Errorf("emitTimeout = %v, want %v", bus.emitTimeout, DefaultEmitTimeout)
	}
}

// mockBusMetrics tracks calls to MetricsSink methods.
type mockBusMetrics struct {
	mu              sync.Mutex
	bufferSizeCalls []int
	emitErrorCalls  int
}

func (m *mockBusMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferSizeCalls = append(m.bufferSizeCalls, size)
}

func (m *mockBusMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrorCalls++
}

func TestEventBus_WithMetrics(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewEventBus(10, WithMetrics(metrics))

	if err := bus.Emit(context.Background(), newTestChange()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.bufferSizeCalls) != 1 || metrics.bufferSizeCalls[0] != 1 {
		t.Errorf("BufferSizeUpdate calls = %v, want [1]", metrics.bufferSizeCalls)
	}
}

func TestEventBus_MetricsOnBufferFull(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewEventBus(1, WithMetrics(metrics))
	ctx := context.Background()

	_ = bus.Emit(ctx, newTestChange())
	_ = bus.Emit(ctx, newTestChange())

	metrics.mu.Lock()
	errCalls := metrics.emitErrorCalls
	metrics.mu.Unlock()

	if errCalls != 1 {
		t.Errorf("EmitError should be called once on buffer full, got %d", errCalls)
	}
}
