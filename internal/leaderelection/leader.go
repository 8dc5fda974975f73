// Package leaderelection picks one instance to run a duty using a Postgres
// session-scoped advisory lock.
//
// The lock lives as long as the dedicated connection that took it. There is
// no TTL and no renewal: if the connection dies Postgres releases the lock
// server-side. The heartbeat ping only detects local connection loss so the
// duty can be stopped promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

// Reasons passed to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink records leadership changes. Implementations must be non-blocking.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// Duty runs while this instance leads. It must return once ctx is done.
type Duty func(ctx context.Context)

type Config struct {
	LockKey           int64
	RetryInterval     time.Duration // follower: lock attempt period
	HeartbeatInterval time.Duration // leader: ping period on the lock connection
}

type Elector struct {
	db      *sql.DB
	config  Config
	duty    Duty
	metrics MetricsSink
	log     logrus.FieldLogger
}

func New(db *sql.DB, config Config, duty Duty) *Elector {
	return &Elector{
		db:     db,
		config: config,
		duty:   duty,
		log:    logger.For("leader"),
	}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

func (e *Elector) WithLogger(l logrus.FieldLogger) *Elector {
	e.log = l
	return e
}

// Run campaigns for the lock until ctx is cancelled. When Run returns the
// duty has stopped.
func (e *Elector) Run(ctx context.Context) {
	e.log.WithFields(logrus.Fields{
		"lock_key":  e.config.LockKey,
		"retry":     e.config.RetryInterval,
		"heartbeat": e.config.HeartbeatInterval,
	}).Info("leader: starting election loop")

	for {
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			e.log.Info("leader: election loop stopped")
			return
		}
		if reason != "" {
			e.log.Warnf("leader: lost leadership (reason=%s), retrying in %s", reason, e.config.RetryInterval)
		}

		select {
		case <-ctx.Done():
			e.log.Info("leader: election loop stopped")
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// runOnce tries the lock once and, if acquired, runs the duty until the lock
// is lost. It returns the loss reason, or "" when the lock was not taken.
func (e *Elector) runOnce(ctx context.Context) string {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.log.WithError(err).Debug("leader: no dedicated connection")
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.config.LockKey).Scan(&acquired); err != nil {
		e.log.WithError(err).Warn("leader: advisory lock query failed")
		return ""
	}
	if !acquired {
		e.log.Debugf("leader: lock %d held by another instance", e.config.LockKey)
		return ""
	}

	e.log.Infof("leader: acquired advisory lock %d", e.config.LockKey)
	e.statusChanged(true)

	dutyCtx, stopDuty := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.duty(dutyCtx)
	}()

	reason := e.holdLock(ctx, conn)

	stopDuty()
	wg.Wait()
	e.unlock(conn)

	e.statusChanged(false)
	if e.metrics != nil {
		e.metrics.LeaderLost(reason)
	}
	e.log.Infof("leader: released advisory lock %d", e.config.LockKey)
	return reason
}

func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.log.WithError(err).Warn("leader: lock connection ping failed")
				return ReasonConnLost
			}
		}
	}
}

// unlock releases the lock explicitly; closing a sql.Conn returns the session
// to the pool with its locks still held.
func (e *Elector) unlock(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", e.config.LockKey); err != nil {
		e.log.WithError(err).Warn("leader: advisory unlock failed")
		conn.Raw(func(any) error { return driver.ErrBadConn })
	}
}

func (e *Elector) statusChanged(leader bool) {
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(leader)
	}
}
