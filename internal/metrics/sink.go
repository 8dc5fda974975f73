package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/ashwinkrishna05/timetable-generator/internal/circuitbreaker"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Resource client
	RemoteRequestCompleted(operation, statusClass string, duration time.Duration)

	// Summary cache
	CacheLookup(result string)
	CacheRefreshCompleted(duration time.Duration, err error)

	// Generation orchestrator
	GenerationStarted()
	GenerationRejected()
	GenerationCompleted(outcome string, duration time.Duration)
	GenerationsInFlightIncr()
	GenerationsInFlightDecr()
	SummaryRefreshFailed()

	// Notifications
	NotificationFailed(channel string)

	// EventBus
	BufferSizeUpdate(size int)
	EmitError()

	// Warmer
	WarmCompleted(duration time.Duration, schools, failures int)

	// Warm-up leadership
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// StatusClass constants for RemoteRequestCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return StatusClassCircuitOpen
		}
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return StatusClassTimeout
		}
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial") {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
