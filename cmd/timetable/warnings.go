package main

import (
	"github.com/ashwinkrishna05/timetable-generator/internal/config"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

// logConfigWarnings flags settings that are valid but degrade the service.
func logConfigWarnings(cfg config.Config) {
	log := logger.For("main")

	if cfg.DatabaseURL == "" {
		log.Warn("WARNING [P1]: DATABASE_URL not set; generation runs are not recorded and /runs returns 404")
	}
	if !cfg.MetricsEnabled {
		log.Warn("WARNING [P1]: METRICS_ENABLED=false; generation and cache metrics are not exported")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Warn("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0; scheduler outages are retried on every request")
	}
	if cfg.RedisAddr == "" {
		log.Info("INFO: REDIS_ADDR not set; summary cache is local to this process")
	}
	if cfg.WarmEnabled && len(cfg.WarmSchoolIDs) == 0 {
		log.Info("INFO: WARM_SCHOOL_IDS empty; warmer refreshes every school the scheduler lists")
	}
}
