// Package summarycache keeps the latest summary snapshot per school.
//
// Entries are fresh for a fixed window after they are stored. Within the
// window Get never contacts the remote service. Outside it, Get refreshes
// synchronously, or in the background when WithBackgroundRefresh is passed.
// Invalidate and Refresh bump a per-school generation so that a fetch which
// started before them can never overwrite what they leave behind.
package summarycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
)

const (
	DefaultFreshness         = 5 * time.Minute
	DefaultBackgroundTimeout = 30 * time.Second
)

// Fetcher loads a snapshot from the remote service.
type Fetcher interface {
	FetchSummary(ctx context.Context, school domain.SchoolID) (domain.Snapshot, error)
}

// MetricsSink records cache metrics. Implementations must be non-blocking.
type MetricsSink interface {
	CacheLookup(result string)
	CacheRefreshCompleted(duration time.Duration, err error)
}

type Cache struct {
	fetcher   Fetcher
	store     Store
	freshness time.Duration
	bgTimeout time.Duration
	clock     func() time.Time
	metrics   MetricsSink
	log       logrus.FieldLogger

	group singleflight.Group

	mu    sync.Mutex
	gens  map[domain.SchoolID]uint64
	locks map[domain.SchoolID]*sync.Mutex

	bg sync.WaitGroup
}

// New creates a cache backed by an in-memory store. A freshness window of
// zero or less selects DefaultFreshness.
func New(fetcher Fetcher, freshness time.Duration) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Cache{
		fetcher:   fetcher,
		store:     NewMemoryStore(),
		freshness: freshness,
		bgTimeout: DefaultBackgroundTimeout,
		clock:     time.Now,
		log:       logger.For("summarycache"),
		gens:      make(map[domain.SchoolID]uint64),
		locks:     make(map[domain.SchoolID]*sync.Mutex),
	}
}

// WithStore replaces the in-memory store, e.g. with a RedisStore shared
// between replicas.
func (c *Cache) WithStore(s Store) *Cache {
	c.store = s
	return c
}

func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

func (c *Cache) WithMetrics(m MetricsSink) *Cache {
	c.metrics = m
	return c
}

func (c *Cache) WithLogger(l logrus.FieldLogger) *Cache {
	c.log = l
	return c
}

func (c *Cache) WithBackgroundTimeout(d time.Duration) *Cache {
	c.bgTimeout = d
	return c
}

// Freshness returns the configured freshness window.
func (c *Cache) Freshness() time.Duration {
	return c.freshness
}

type getOptions struct {
	background bool
}

type GetOption func(*getOptions)

// WithBackgroundRefresh makes a stale read return the cached snapshot at once
// and refresh it in the background. Absent entries are still fetched
// synchronously.
func WithBackgroundRefresh() GetOption {
	return func(o *getOptions) { o.background = true }
}

// Get returns the snapshot for school, fetching it when the entry is absent,
// invalidated or stale.
func (c *Cache) Get(ctx context.Context, school domain.SchoolID, opts ...GetOption) (domain.Snapshot, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	entry, ok := c.load(ctx, school)
	switch {
	case ok && c.fresh(entry):
		c.lookup(metrics.CacheHit)
		return entry.Snapshot.Clone(), nil
	case ok && o.background:
		c.lookup(metrics.CacheStale)
		c.refreshInBackground(ctx, school)
		return entry.Snapshot.Clone(), nil
	case ok:
		c.lookup(metrics.CacheStale)
	default:
		c.lookup(metrics.CacheMiss)
	}

	return c.fetch(ctx, school, c.generation(school))
}

// Peek returns the stored snapshot without contacting the remote service,
// whatever its age.
func (c *Cache) Peek(ctx context.Context, school domain.SchoolID) (domain.Snapshot, bool) {
	entry, ok := c.load(ctx, school)
	if !ok {
		return domain.Snapshot{}, false
	}
	return entry.Snapshot.Clone(), true
}

// Put replaces the entry for school. In-flight fetches that started earlier
// will not overwrite it.
func (c *Cache) Put(ctx context.Context, school domain.SchoolID, snap domain.Snapshot) error {
	kl := c.schoolLock(school)
	kl.Lock()
	defer kl.Unlock()

	c.bump(school)
	return c.store.Save(ctx, school, Entry{Snapshot: snap.Clone(), StoredAt: c.clock().UTC()})
}

// Invalidate discards the entry for school. The next Get fetches.
func (c *Cache) Invalidate(ctx context.Context, school domain.SchoolID) error {
	kl := c.schoolLock(school)
	kl.Lock()
	defer kl.Unlock()

	c.bump(school)
	if err := c.store.Delete(ctx, school); err != nil {
		return fmt.Errorf("invalidate school %s: %w", school, err)
	}
	return nil
}

// Refresh fetches and stores a new snapshot regardless of freshness. The
// fetch always starts after Refresh is called; it never joins one already in
// flight.
func (c *Cache) Refresh(ctx context.Context, school domain.SchoolID) (domain.Snapshot, error) {
	return c.fetch(ctx, school, c.bump(school))
}

// Wait blocks until background refreshes have finished.
func (c *Cache) Wait() {
	c.bg.Wait()
}

// fetch joins or starts the fetch for school at generation gen. The shared
// fetch is detached from any single caller: a caller that gives up returns
// its own ctx error while the others still get the result.
func (c *Cache) fetch(ctx context.Context, school domain.SchoolID, gen uint64) (domain.Snapshot, error) {
	key := fmt.Sprintf("%d/%d", school, gen)
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.bgTimeout)
		defer cancel()

		start := c.clock()
		snap, err := c.fetcher.FetchSummary(fctx, school)
		if c.metrics != nil {
			c.metrics.CacheRefreshCompleted(c.clock().Sub(start), err)
		}
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(fctx, school, gen, snap)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return domain.Snapshot{}, r.Err
		}
		return r.Val.(domain.Snapshot).Clone(), nil
	}
}

func (c *Cache) storeIfCurrent(ctx context.Context, school domain.SchoolID, gen uint64, snap domain.Snapshot) {
	kl := c.schoolLock(school)
	kl.Lock()
	defer kl.Unlock()

	if c.generation(school) != gen {
		c.log.WithField("school_id", school).Debug("summarycache: discarding superseded fetch")
		return
	}
	entry := Entry{Snapshot: snap.Clone(), StoredAt: c.clock().UTC()}
	if err := c.store.Save(ctx, school, entry); err != nil {
		c.log.WithField("school_id", school).WithError(err).Warn("summarycache: save failed")
	}
}

func (c *Cache) refreshInBackground(ctx context.Context, school domain.SchoolID) {
	gen := c.generation(school)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.bgTimeout)
		defer cancel()
		if _, err := c.fetch(bgCtx, school, gen); err != nil {
			c.log.WithField("school_id", school).WithError(err).Warn("summarycache: background refresh failed")
		}
	}()
}

func (c *Cache) load(ctx context.Context, school domain.SchoolID) (Entry, bool) {
	entry, ok, err := c.store.Load(ctx, school)
	if err != nil {
		c.log.WithField("school_id", school).WithError(err).Warn("summarycache: load failed, treating as miss")
		return Entry{}, false
	}
	return entry, ok
}

func (c *Cache) fresh(e Entry) bool {
	return c.clock().Sub(e.StoredAt) < c.freshness
}

func (c *Cache) generation(school domain.SchoolID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[school]
}

func (c *Cache) bump(school domain.SchoolID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[school]++
	return c.gens[school]
}

// schoolLock serializes store writes for one school. c.mu only guards the
// maps, so store I/O for one school never waits on another.
func (c *Cache) schoolLock(school domain.SchoolID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[school]
	if !ok {
		l = &sync.Mutex{}
		c.locks[school] = l
	}
	return l
}

func (c *Cache) lookup(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookup(result)
	}
}
