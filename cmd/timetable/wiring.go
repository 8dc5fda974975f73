package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/circuitbreaker"
	"github.com/ashwinkrishna05/timetable-generator/internal/config"
	"github.com/ashwinkrishna05/timetable-generator/internal/generation"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
	"github.com/ashwinkrishna05/timetable-generator/internal/notify"
	"github.com/ashwinkrishna05/timetable-generator/internal/resource"
	"github.com/ashwinkrishna05/timetable-generator/internal/store/postgres"
	"github.com/ashwinkrishna05/timetable-generator/internal/summarycache"
	"github.com/ashwinkrishna05/timetable-generator/internal/transport/channel"

	_ "github.com/lib/pq"
)

// components is the object graph shared by serve, generate and dashboard.
type components struct {
	client       *resource.Client
	breaker      *circuitbreaker.CircuitBreaker
	cache        *summarycache.Cache
	bus          *channel.EventBus
	notifier     *notify.Sink
	orchestrator *generation.Orchestrator

	// Optional backends; nil when not configured.
	redis *redis.Client
	db    *sql.DB
	runs  *postgres.Store
}

type buildOptions struct {
	// withDatabase connects the audit store when DATABASE_URL is set.
	withDatabase bool
	// withRedis shares snapshots through REDIS_ADDR when set.
	withRedis bool
}

// build wires every component against cfg. Optional backends that are
// configured but unreachable are fatal.
func build(ctx context.Context, cfg config.Config, sink metrics.Sink, opts buildOptions) (*components, error) {
	log := logger.For("main")
	c := &components{}

	client, err := resource.New(resource.Config{
		BaseURL: cfg.SchedulerAPIURL,
		Token:   cfg.SchedulerAPIToken,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("resource client: %w", err)
	}
	client = client.WithMetrics(sink)
	if cfg.CircuitBreakerThreshold > 0 {
		c.breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		client = client.WithBreaker(c.breaker)
		log.Infof("main: circuit breaker enabled (threshold=%d, cooldown=%s)", cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	c.client = client

	c.cache = summarycache.New(client, cfg.SummaryFreshness).WithMetrics(sink)
	if opts.withRedis && cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.cache = c.cache.WithStore(summarycache.NewRedisStore(c.redis, "timetable", 0))
		log.Infof("main: summary store is redis (addr=%s)", cfg.RedisAddr)
	}

	channels := []notify.Channel{notify.NewLogChannel(nil)}
	if cfg.TelegramEnabled() {
		bot, err := notify.NewTelebot(cfg.TelegramBotToken)
		if err != nil {
			c.close()
			return nil, err
		}
		channels = append(channels, notify.NewTelegramChannel(notify.NewTelebotAdapter(bot), cfg.TelegramChatID))
		log.Info("main: telegram notifications enabled")
	}
	c.notifier = notify.New(channels...).WithMetrics(sink)

	c.bus = channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(sink))

	c.orchestrator = generation.New(client, c.cache, c.notifier).
		WithEmitter(c.bus).
		WithMetrics(sink)

	if opts.withDatabase && cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			c.close()
			return nil, err
		}
		c.db = db
		c.runs = postgres.New(db, cfg.DBOpTimeout)
		if err := c.runs.EnsureSchema(ctx); err != nil {
			c.close()
			return nil, err
		}
		c.orchestrator = c.orchestrator.WithRecorder(c.runs)
	}

	return c, nil
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.For("main").WithFields(logrus.Fields{
		"max_open":      cfg.DBMaxOpenConns,
		"max_idle":      cfg.DBMaxIdleConns,
		"max_lifetime":  cfg.DBConnMaxLifetime,
		"max_idle_time": cfg.DBConnMaxIdleTime,
	}).Info("main: db pool configured")

	if err := pingDatabase(ctx, db, cfg.DBOpTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// pingDatabase pings db within timeout.
func pingDatabase(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	return nil
}

func (c *components) close() {
	if c.cache != nil {
		c.cache.Wait()
	}
	if c.db != nil {
		c.db.Close()
	}
	if c.redis != nil {
		c.redis.Close()
	}
}
