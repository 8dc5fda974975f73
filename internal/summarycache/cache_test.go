package summarycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
	"github.com/ashwinkrishna05/timetable-generator/internal/testutil"
)

// mockFetcher returns a new snapshot per call, numbered by TotalTeachers.
type mockFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	// block, when set, is received from before returning.
	block chan struct{}
	clock func() time.Time
}

func (f *mockFetcher) FetchSummary(ctx context.Context, school domain.SchoolID) (domain.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	err := f.err
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{
		SchoolID:      school,
		TotalClasses:  2,
		TotalTeachers: n,
		WorkingDays:   []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
	}
	if f.clock != nil {
		snap.FetchedAt = f.clock()
	}
	return snap, nil
}

func (f *mockFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *mockFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// mockCacheMetrics counts lookups by result.
type mockCacheMetrics struct {
	mu        sync.Mutex
	lookups   map[string]int
	refreshes int
}

func (m *mockCacheMetrics) CacheLookup(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookups == nil {
		m.lookups = make(map[string]int)
	}
	m.lookups[result]++
}

func (m *mockCacheMetrics) CacheRefreshCompleted(d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
}

func (m *mockCacheMetrics) count(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups[result]
}

func newTestCache(t *testing.T) (*Cache, *mockFetcher, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	f := &mockFetcher{clock: clock.Now}
	c := New(f, 5*time.Minute).WithClock(clock.Now)
	return c, f, clock
}

func TestGet_MissFetchesAndStores(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)

	snap, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalTeachers)
	assert.Equal(t, 1, f.Calls())

	peeked, ok := c.Peek(ctx, 1)
	require.True(t, ok)
	assert.True(t, snap.Equal(peeked))
}

func TestGet_WithinWindowIsIdempotent(t *testing.T) {
	c, f, clock := newTestCache(t)
	ctx := testutil.TestContext(t)
	m := &mockCacheMetrics{}
	c.WithMetrics(m)

	first, err := c.Get(ctx, 1)
	require.NoError(t, err)
	clock.Advance(4*time.Minute + 59*time.Second)
	second, err := c.Get(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.Calls(), "at most one remote call within the window")
	assert.Equal(t, 1, m.count(metrics.CacheMiss))
	assert.Equal(t, 1, m.count(metrics.CacheHit))
}

func TestGet_StaleRefreshesSynchronously(t *testing.T) {
	c, f, clock := newTestCache(t)
	ctx := testutil.TestContext(t)

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	snap, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalTeachers)
	assert.Equal(t, 2, f.Calls())
}

func TestGet_StaleWithBackgroundRefresh(t *testing.T) {
	c, f, clock := newTestCache(t)
	ctx := testutil.TestContext(t)
	m := &mockCacheMetrics{}
	c.WithMetrics(m)

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	snap, err := c.Get(ctx, 1, WithBackgroundRefresh())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalTeachers, "stale value returned immediately")

	c.Wait()
	assert.Equal(t, 2, f.Calls())
	assert.Equal(t, 1, m.count(metrics.CacheStale))

	fresh, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalTeachers)
	assert.Equal(t, 2, f.Calls())
}

func TestGet_BackgroundOptionStillFetchesWhenAbsent(t *testing.T) {
	c, f, _ := newTestCache(t)

	snap, err := c.Get(testutil.TestContext(t), 4, WithBackgroundRefresh())
	require.NoError(t, err)
	assert.Equal(t, domain.SchoolID(4), snap.SchoolID)
	assert.Equal(t, 1, f.Calls())
}

func TestInvalidate_NextGetRefetches(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 1))

	_, ok := c.Peek(ctx, 1)
	assert.False(t, ok)

	snap, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalTeachers)
	assert.Equal(t, 2, f.Calls())
}

func TestPut_ReplacesEntry(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)

	want := domain.Snapshot{SchoolID: 1, TotalClasses: 9, WorkingDays: []string{"Mon"}}
	require.NoError(t, c.Put(ctx, 1, want))

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
	assert.Equal(t, 0, f.Calls())
}

func TestPut_CallerMutationDoesNotLeak(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := testutil.TestContext(t)

	days := []string{"Mon", "Tue"}
	require.NoError(t, c.Put(ctx, 1, domain.Snapshot{SchoolID: 1, WorkingDays: days}))
	days[0] = "Sun"

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mon", "Tue"}, got.WorkingDays)

	got.WorkingDays[1] = "Sat"
	again, _ := c.Peek(ctx, 1)
	assert.Equal(t, []string{"Mon", "Tue"}, again.WorkingDays)
}

func TestRefresh_BypassesFreshness(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)

	snap, err := c.Refresh(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalTeachers)

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalTeachers)
	assert.Equal(t, 2, f.Calls())
}

func TestRefresh_ErrorKeepsNothing(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)
	f.setErr(&domain.TransportError{Op: "fetch_summary", StatusCode: 503, Err: errors.New("unavailable")})

	_, err := c.Refresh(ctx, 1)
	assert.True(t, domain.IsTransport(err))

	_, ok := c.Peek(ctx, 1)
	assert.False(t, ok)
}

func TestGet_ConcurrentMissesShareOneFetch(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)
	f.block = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx, 1); err != nil {
				failures.Add(1)
			}
		}()
	}

	// Let every caller reach the in-flight fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(f.block)
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, f.Calls())
}

func TestInvalidate_DiscardsInFlightFetch(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)
	f.block = make(chan struct{})

	done := make(chan domain.Snapshot, 1)
	go func() {
		snap, err := c.Get(ctx, 1)
		if err == nil {
			done <- snap
		}
		close(done)
	}()

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Invalidate(ctx, 1))
	close(f.block)

	old, ok := <-done
	require.True(t, ok)
	assert.Equal(t, 1, old.TotalTeachers, "caller still gets what it fetched")

	_, stored := c.Peek(ctx, 1)
	assert.False(t, stored, "fetch that started before Invalidate must not be stored")
}

func TestRefresh_DoesNotJoinEarlierFetch(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)
	f.block = make(chan struct{})

	go func() { _, _ = c.Get(ctx, 1) }()
	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)

	refreshed := make(chan domain.Snapshot, 1)
	go func() {
		snap, err := c.Refresh(ctx, 1)
		if err == nil {
			refreshed <- snap
		}
	}()
	require.Eventually(t, func() bool { return f.Calls() == 2 }, time.Second, 5*time.Millisecond)
	close(f.block)

	select {
	case snap := <-refreshed:
		assert.Equal(t, 2, snap.TotalTeachers)
	case <-time.After(time.Second):
		t.Fatal("refresh did not complete")
	}

	require.Eventually(t, func() bool {
		got, ok := c.Peek(ctx, 1)
		return ok && got.TotalTeachers == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSchoolsAreIndependent(t *testing.T) {
	c, f, _ := newTestCache(t)
	ctx := testutil.TestContext(t)

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)
	_, err = c.Get(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 1))

	_, ok := c.Peek(ctx, 2)
	assert.True(t, ok)
	assert.Equal(t, 2, f.Calls())
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Load(context.Context, domain.SchoolID) (Entry, bool, error) {
	return Entry{}, false, errors.New("store down")
}
func (failingStore) Save(context.Context, domain.SchoolID, Entry) error {
	return errors.New("store down")
}
func (failingStore) Delete(context.Context, domain.SchoolID) error {
	return errors.New("store down")
}

func TestGet_StoreFailureFallsBackToFetch(t *testing.T) {
	c, f, _ := newTestCache(t)
	c.WithStore(failingStore{})
	ctx := testutil.TestContext(t)

	snap, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalTeachers)
	assert.Equal(t, 1, f.Calls())

	assert.Error(t, c.Invalidate(ctx, 1))
}

func TestNew_DefaultFreshness(t *testing.T) {
	c := New(&mockFetcher{}, 0)
	assert.Equal(t, DefaultFreshness, c.Freshness())
}

func TestGet_JoinerSurvivesFirstCallerCancel(t *testing.T) {
	c, f, _ := newTestCache(t)
	f.block = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(firstCtx, 1)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		snap domain.Snapshot
		err  error
	}
	joined := make(chan result, 1)
	go func() {
		snap, err := c.Get(context.Background(), 1)
		joined <- result{snap, err}
	}()

	// Give the second caller time to join the in-flight fetch.
	time.Sleep(30 * time.Millisecond)
	cancelFirst()

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.block)
	select {
	case r := <-joined:
		require.NoError(t, r.err)
		assert.Equal(t, 1, r.snap.TotalTeachers)
	case <-time.After(time.Second):
		t.Fatal("joined caller did not return")
	}
	assert.Equal(t, 1, f.Calls(), "both callers share one fetch")

	_, ok := c.Peek(context.Background(), 1)
	assert.True(t, ok, "detached fetch is still stored")
}

func TestFetch_BoundedByBackgroundTimeout(t *testing.T) {
	c, f, _ := newTestCache(t)
	c.WithBackgroundTimeout(20 * time.Millisecond)
	f.block = make(chan struct{})
	defer close(f.block)

	_, err := c.Get(context.Background(), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingStore holds Save for one school until release is closed.
type blockingStore struct {
	*MemoryStore
	school  domain.SchoolID
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, school domain.SchoolID, e Entry) error {
	if school == s.school {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Save(ctx, school, e)
}

func TestPut_SlowStoreDoesNotBlockOtherSchools(t *testing.T) {
	c, _, _ := newTestCache(t)
	store := &blockingStore{
		MemoryStore: NewMemoryStore(),
		school:      1,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	c.WithStore(store)
	ctx := testutil.TestContext(t)

	slow := make(chan error, 1)
	go func() { slow <- c.Put(ctx, 1, domain.Snapshot{SchoolID: 1}) }()
	<-store.entered

	done := make(chan error, 1)
	go func() { done <- c.Put(ctx, 2, domain.Snapshot{SchoolID: 2}) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put for school 2 waited on school 1's save")
	}

	// Generation reads stay available while school 1 is mid-save.
	assert.Equal(t, uint64(1), c.generation(1))

	close(store.release)
	require.NoError(t, <-slow)
	_, ok := c.Peek(ctx, 1)
	assert.True(t, ok)
}
