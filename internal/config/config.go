package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

// Config holds all configuration for the timetable service and CLI.
// Values are loaded from environment variables; `timetable config` prints the effective set.
type Config struct {
	SchedulerAPIURL   string `json:"scheduler_api_url"`
	SchedulerAPIToken string `json:"-"`

	RequestTimeout      time.Duration `json:"-"`
	RequestTimeoutStr   string        `json:"request_timeout"`
	SummaryFreshness    time.Duration `json:"-"`
	SummaryFreshnessStr string        `json:"summary_freshness"`

	HTTPAddr               string        `json:"http_addr"`
	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// DatabaseURL is optional; when empty generation runs are not recorded.
	DatabaseURL          string        `json:"database_url,omitempty"`
	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	// RedisAddr is optional; when set snapshots are shared between instances.
	RedisAddr string `json:"redis_addr,omitempty"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	WarmEnabled         bool              `json:"warm_enabled"`
	WarmSchedule        string            `json:"warm_schedule"`
	WarmTimezone        string            `json:"warm_timezone"`
	WarmTickInterval    time.Duration     `json:"-"`
	WarmTickIntervalStr string            `json:"warm_tick_interval"`
	WarmSchoolIDsStr    string            `json:"warm_school_ids,omitempty"`
	WarmSchoolIDs       []domain.SchoolID `json:"-"`

	// Leader election for the warmer; only used when DatabaseURL is set.
	WarmLockKey                int64         `json:"warm_lock_key"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	TelegramBotToken  string `json:"-"`
	TelegramChatIDStr string `json:"telegram_chat_id,omitempty"`
	TelegramChatID    int64  `json:"-"`

	LogLevel string `json:"log_level"`
	AppEnv   string `json:"app_env"`
}

// defaultWarmLockKey is the advisory lock id shared by warmer replicas.
const defaultWarmLockKey int64 = 7_311_001

// LoadDotEnv reads .env files into the environment. Existing variables win
// and a missing file is not an error.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil && !os.IsNotExist(err) {
			logger.For("config").WithError(err).Warnf("config: could not read %s", p)
		}
	}
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	log := logger.For("config")

	cfg := Config{
		SchedulerAPIURL:        os.Getenv("SCHEDULER_API_URL"),
		SchedulerAPIToken:      os.Getenv("SCHEDULER_API_TOKEN"),
		RequestTimeoutStr:      os.Getenv("REQUEST_TIMEOUT"),
		SummaryFreshnessStr:    os.Getenv("SUMMARY_FRESHNESS"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		DBOpTimeoutStr:         os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:   os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:   os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		WarmEnabled:            os.Getenv("WARM_ENABLED") == "true",
		WarmSchedule:           os.Getenv("WARM_SCHEDULE"),
		WarmTimezone:           os.Getenv("WARM_TIMEZONE"),
		WarmTickIntervalStr:    os.Getenv("WARM_TICK_INTERVAL"),
		WarmSchoolIDsStr:       os.Getenv("WARM_SCHOOL_IDS"),
		LeaderRetryIntervalStr: os.Getenv("LEADER_RETRY_INTERVAL"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatIDStr:      os.Getenv("TELEGRAM_CHAT_ID"),
		LogLevel:               os.Getenv("LOG_LEVEL"),
		AppEnv:                 os.Getenv("APP_ENV"),
	}

	cfg.EventBusBufferSize = positiveInt(log, "EVENTBUS_BUFFER_SIZE", 100)
	cfg.DBMaxOpenConns = positiveInt(log, "DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = positiveInt(log, "DB_MAX_IDLE_CONNS", 5)

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Warnf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
			cfg.CircuitBreakerThreshold = 5
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}
	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	cfg.WarmLockKey = defaultWarmLockKey
	if raw := os.Getenv("WARM_LOCK_KEY"); raw != "" {
		if k, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.WarmLockKey = k
		} else {
			log.Warnf("config: invalid WARM_LOCK_KEY %q, using default %d", raw, defaultWarmLockKey)
		}
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SchedulerAPIURL == "" {
		cfg.SchedulerAPIURL = "http://localhost:8000/api"
	}
	if cfg.RequestTimeoutStr == "" {
		cfg.RequestTimeoutStr = "30s"
	}
	if cfg.SummaryFreshnessStr == "" {
		cfg.SummaryFreshnessStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.WarmSchedule == "" {
		cfg.WarmSchedule = "*/5 * * * *"
	}
	if cfg.WarmTimezone == "" {
		cfg.WarmTimezone = "UTC"
	}
	if cfg.WarmTickIntervalStr == "" {
		cfg.WarmTickIntervalStr = "30s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}

	// Parse durations; validation is handled separately by Validate().
	parseDuration(cfg.RequestTimeoutStr, &cfg.RequestTimeout)
	parseDuration(cfg.SummaryFreshnessStr, &cfg.SummaryFreshness)
	parseDuration(cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout)
	parseDuration(cfg.DBOpTimeoutStr, &cfg.DBOpTimeout)
	parseDuration(cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime)
	parseDuration(cfg.DBConnMaxIdleTimeStr, &cfg.DBConnMaxIdleTime)
	parseDuration(cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown)
	parseDuration(cfg.WarmTickIntervalStr, &cfg.WarmTickInterval)
	parseDuration(cfg.LeaderRetryIntervalStr, &cfg.LeaderRetryInterval)
	parseDuration(cfg.LeaderHeartbeatIntervalStr, &cfg.LeaderHeartbeatInterval)

	if ids, err := ParseSchoolIDs(cfg.WarmSchoolIDsStr); err == nil {
		cfg.WarmSchoolIDs = ids
	}
	if cfg.TelegramChatIDStr != "" {
		if id, err := strconv.ParseInt(cfg.TelegramChatIDStr, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}

	return cfg
}

// TelegramEnabled reports whether both telegram settings are present.
func (c Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// ParseSchoolIDs parses a comma separated list of school ids. Blank entries
// are skipped and duplicates dropped.
func ParseSchoolIDs(s string) ([]domain.SchoolID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []domain.SchoolID
	seen := make(map[domain.SchoolID]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := domain.ParseSchoolID(part)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func positiveInt(log logrus.FieldLogger, key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := parseInt(raw)
	if err != nil || n <= 0 {
		log.Warnf("config: invalid %s %q (must be a positive integer), using default %d", key, raw, def)
		return def
	}
	return n
}

func parseDuration(s string, dst *time.Duration) {
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		Config
		SchedulerAPIToken string `json:"scheduler_api_token,omitempty"`
		DatabaseURL       string `json:"database_url,omitempty"`
		TelegramBotToken  string `json:"telegram_bot_token,omitempty"`
	}{
		Config:            c,
		SchedulerAPIToken: maskSecret(c.SchedulerAPIToken),
		DatabaseURL:       maskSecret(c.DatabaseURL),
		TelegramBotToken:  maskSecret(c.TelegramBotToken),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
