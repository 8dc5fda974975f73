package summarycache

import (
	"context"
	"sync"
	"time"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
)

// Entry is a stored snapshot and the time it was stored.
type Entry struct {
	Snapshot domain.Snapshot
	StoredAt time.Time
}

// Store holds one entry per school. Save must replace an entry atomically.
type Store interface {
	Load(ctx context.Context, school domain.SchoolID) (Entry, bool, error)
	Save(ctx context.Context, school domain.SchoolID, e Entry) error
	Delete(ctx context.Context, school domain.SchoolID) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.SchoolID]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[domain.SchoolID]Entry)}
}

func (s *MemoryStore) Load(_ context.Context, school domain.SchoolID) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[school]
	if !ok {
		return Entry{}, false, nil
	}
	e.Snapshot = e.Snapshot.Clone()
	return e, true, nil
}

func (s *MemoryStore) Save(_ context.Context, school domain.SchoolID, e Entry) error {
	e.Snapshot = e.Snapshot.Clone()
	s.mu.Lock()
	s.entries[school] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, school domain.SchoolID) error {
	s.mu.Lock()
	delete(s.entries, school)
	s.mu.Unlock()
	return nil
}
