package summarycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
)

const DefaultRedisTTL = 24 * time.Hour

// RedisStore shares snapshots between dashboard replicas. Entries expire
// after ttl; freshness is still decided by the Cache from StoredAt.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "timetable"
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

type redisEntry struct {
	SchoolID              int64     `json:"school_id"`
	SchoolName            string    `json:"school_name,omitempty"`
	TotalClasses          int       `json:"total_classes"`
	TotalTeachers         int       `json:"total_teachers"`
	ClassesWithTimetables int       `json:"classes_with_timetables"`
	WorkingDays           []string  `json:"working_days"`
	FetchedAt             time.Time `json:"fetched_at"`
	StoredAt              time.Time `json:"stored_at"`
}

func (s *RedisStore) Load(ctx context.Context, school domain.SchoolID) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, buildKey(s.prefix, school)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *RedisStore) Save(ctx context.Context, school domain.SchoolID, e Entry) error {
	raw, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, buildKey(s.prefix, school), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, school domain.SchoolID) error {
	if err := s.client.Del(ctx, buildKey(s.prefix, school)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func buildKey(prefix string, school domain.SchoolID) string {
	return fmt.Sprintf("%s:summary:s:%d", prefix, school)
}

func encodeEntry(e Entry) ([]byte, error) {
	raw, err := json.Marshal(redisEntry{
		SchoolID:              int64(e.Snapshot.SchoolID),
		SchoolName:            e.Snapshot.SchoolName,
		TotalClasses:          e.Snapshot.TotalClasses,
		TotalTeachers:         e.Snapshot.TotalTeachers,
		ClassesWithTimetables: e.Snapshot.ClassesWithTimetables,
		WorkingDays:           e.Snapshot.WorkingDays,
		FetchedAt:             e.Snapshot.FetchedAt.UTC(),
		StoredAt:              e.StoredAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return raw, nil
}

func decodeEntry(raw []byte) (Entry, error) {
	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return Entry{
		Snapshot: domain.Snapshot{
			SchoolID:              domain.SchoolID(re.SchoolID),
			SchoolName:            re.SchoolName,
			TotalClasses:          re.TotalClasses,
			TotalTeachers:         re.TotalTeachers,
			ClassesWithTimetables: re.ClassesWithTimetables,
			WorkingDays:           re.WorkingDays,
			FetchedAt:             re.FetchedAt,
		},
		StoredAt: re.StoredAt,
	}, nil
}
