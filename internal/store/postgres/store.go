// Package postgres keeps the audit log of generation runs.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
)

// ErrNoRuns is returned by LatestRun when a school has never been generated.
var ErrNoRuns = errors.New("no generation runs")

// Store records generation runs in PostgreSQL. Every operation is bounded by
// opTimeout so a slow database cannot stall a request.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store. A non-positive opTimeout disables the per-operation bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// EnsureSchema creates the runs table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, querySchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// RecordRun inserts a finished run. Recording the same run twice is a no-op.
func (s *Store) RecordRun(ctx context.Context, run domain.GenerationRun) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		int64(run.SchoolID),
		string(run.Outcome.Kind),
		run.Outcome.Reason,
		run.ClassCount,
		run.RefreshError,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns runs for a school, newest first, paginated by limit and offset.
func (s *Store) ListRuns(ctx context.Context, school domain.SchoolID, limit, offset int) ([]domain.GenerationRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, int64(school), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.GenerationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// LatestRun returns the most recent run for a school, or ErrNoRuns.
func (s *Store) LatestRun(ctx context.Context, school domain.SchoolID) (domain.GenerationRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	run, err := scanRun(s.db.QueryRowContext(ctx, queryLatestRun, int64(school)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GenerationRun{}, ErrNoRuns
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.GenerationRun, error) {
	var (
		run      domain.GenerationRun
		schoolID int64
		kind     string
	)
	err := row.Scan(
		&run.ID,
		&schoolID,
		&kind,
		&run.Outcome.Reason,
		&run.ClassCount,
		&run.RefreshError,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return domain.GenerationRun{}, err
	}
	run.SchoolID = domain.SchoolID(schoolID)
	run.Outcome.Kind = domain.OutcomeKind(kind)
	return run, nil
}
