package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ashwinkrishna05/timetable-generator/internal/api"
	"github.com/ashwinkrishna05/timetable-generator/internal/config"
	"github.com/ashwinkrishna05/timetable-generator/internal/cron"
	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/leaderelection"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
	"github.com/ashwinkrishna05/timetable-generator/internal/warmer"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, summary warmer and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	log := logger.For("main")
	logConfigWarnings(cfg)

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Infof("main: metrics enabled (path=%s)", cfg.MetricsPath)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	c, err := build(startCtx, cfg, sink, buildOptions{withDatabase: true, withRedis: true})
	cancelStart()
	if err != nil {
		return runtimeError("%v", err)
	}
	defer c.close()

	handler := api.NewHandler(c.cache, c.orchestrator)
	if c.runs != nil {
		handler = handler.WithRunStore(c.runs).WithHealthCheck("database", c.runs.Ping)
	}
	if c.redis != nil {
		handler = handler.WithHealthCheck("redis", func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		})
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", handler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Infof("main: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("main: http server error")
		}
	}()

	// Separate contexts give an ordered shutdown: warmer first, then the
	// event consumer, then HTTP.
	warmerCtx, cancelWarmer := context.WithCancel(context.Background())
	eventsCtx, cancelEvents := context.WithCancel(context.Background())

	var warmerWg, eventsWg sync.WaitGroup

	eventsWg.Add(1)
	go func() {
		defer eventsWg.Done()
		consumeStateChanges(eventsCtx, c.bus.Channel(), log)
	}()

	if cfg.WarmEnabled {
		schedule, err := cron.Parse(cfg.WarmSchedule, cfg.WarmTimezone)
		if err != nil {
			cancelWarmer()
			cancelEvents()
			return &exitError{code: exitInvalidConfig, err: err}
		}
		w := warmer.New(
			warmer.Config{TickInterval: cfg.WarmTickInterval, SchoolIDs: cfg.WarmSchoolIDs},
			schedule,
			c.client,
			c.cache,
		).WithMetrics(sink)

		runWarmer := func(ctx context.Context) {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("main: warmer stopped")
			}
		}

		warmerWg.Add(1)
		if c.db != nil {
			// Replicas sharing a database elect one warmer.
			elector := leaderelection.New(c.db, leaderelection.Config{
				LockKey:           cfg.WarmLockKey,
				RetryInterval:     cfg.LeaderRetryInterval,
				HeartbeatInterval: cfg.LeaderHeartbeatInterval,
			}, runWarmer).WithMetrics(sink)
			go func() {
				defer warmerWg.Done()
				elector.Run(warmerCtx)
			}()
		} else {
			go func() {
				defer warmerWg.Done()
				runWarmer(warmerCtx)
			}()
		}
		log.Infof("main: warmer enabled (schedule=%q, tz=%s, schools=%d, elected=%t)",
			cfg.WarmSchedule, cfg.WarmTimezone, len(cfg.WarmSchoolIDs), c.db != nil)
	} else {
		log.Info("main: WARM_ENABLED not set; warmer disabled")
	}

	log.Infof("main: started (http=%s, scheduler=%s)", cfg.HTTPAddr, cfg.SchedulerAPIURL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Infof("main: received signal %v, shutting down", received)

	// Phase 1: stop the warmer (no new refreshes)
	cancelWarmer()
	warmerWg.Wait()
	log.Info("main: warmer stopped")

	// Phase 2: stop HTTP; in-flight generations finish or are cancelled by
	// their request context.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("main: http server shutdown error")
	}
	log.Info("main: http server stopped")

	// Phase 3: stop the event consumer
	cancelEvents()
	eventsWg.Wait()

	log.Info("main: stopped")
	return nil
}

// consumeStateChanges logs every generation phase transition until ctx ends.
func consumeStateChanges(ctx context.Context, events <-chan domain.StateChange, log logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-events:
			entry := log.WithFields(logrus.Fields{
				"run_id":    ch.RunID,
				"school_id": ch.SchoolID,
				"from":      ch.From,
				"to":        ch.To,
			})
			if ch.Reason != "" {
				entry = entry.WithField("reason", ch.Reason)
			}
			entry.Debug("main: generation state changed")
		}
	}
}
