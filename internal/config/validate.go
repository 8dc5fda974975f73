package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	u, err := url.Parse(cfg.SchedulerAPIURL)
	switch {
	case cfg.SchedulerAPIURL == "":
		errs = append(errs, ValidationError{Field: "SCHEDULER_API_URL", Message: "required"})
	case err != nil:
		errs = append(errs, ValidationError{Field: "SCHEDULER_API_URL", Message: fmt.Sprintf("invalid url: %v", err)})
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, ValidationError{Field: "SCHEDULER_API_URL", Message: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)})
	case u.Host == "":
		errs = append(errs, ValidationError{Field: "SCHEDULER_API_URL", Message: "missing host"})
	}

	durations := []struct {
		field string
		value string
	}{
		{"REQUEST_TIMEOUT", cfg.RequestTimeoutStr},
		{"SUMMARY_FRESHNESS", cfg.SummaryFreshnessStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"WARM_TICK_INTERVAL", cfg.WarmTickIntervalStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, d := range durations {
		if e, ok := checkDuration(d.field, d.value); !ok {
			errs = append(errs, e)
		}
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{Field: "CIRCUIT_BREAKER_THRESHOLD", Message: "must not be negative"})
	}

	if cfg.WarmEnabled {
		if _, err := cron.Parse(cfg.WarmSchedule, cfg.WarmTimezone); err != nil {
			errs = append(errs, ValidationError{Field: "WARM_SCHEDULE", Message: err.Error()})
		}
	}
	if cfg.WarmSchoolIDsStr != "" {
		if _, err := ParseSchoolIDs(cfg.WarmSchoolIDsStr); err != nil {
			errs = append(errs, ValidationError{Field: "WARM_SCHOOL_IDS", Message: err.Error()})
		}
	}

	if cfg.TelegramChatIDStr != "" {
		if _, err := strconv.ParseInt(cfg.TelegramChatIDStr, 10, 64); err != nil {
			errs = append(errs, ValidationError{Field: "TELEGRAM_CHAT_ID", Message: "must be an integer"})
		}
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatIDStr == "") {
		errs = append(errs, ValidationError{Field: "TELEGRAM_BOT_TOKEN", Message: "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"})
	}

	if cfg.LogLevel != "" {
		if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
			errs = append(errs, ValidationError{Field: "LOG_LEVEL", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkDuration(field, value string) (ValidationError, bool) {
	if value == "" {
		return ValidationError{}, true
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}, false
	}
	if d <= 0 {
		return ValidationError{Field: field, Message: "must be positive"}, false
	}
	return ValidationError{}, true
}
