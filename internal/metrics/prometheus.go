package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Resource client
	remoteRequestsTotal *prometheus.CounterVec
	remoteDuration      *prometheus.HistogramVec

	// Summary cache
	cacheLookupsTotal    *prometheus.CounterVec
	cacheRefreshesTotal  *prometheus.CounterVec
	cacheRefreshDuration prometheus.Histogram

	// Generation
	generationsStartedTotal  prometheus.Counter
	generationsRejectedTotal prometheus.Counter
	generationOutcomesTotal  *prometheus.CounterVec
	generationDuration       prometheus.Histogram
	generationsInFlight      prometheus.Gauge
	refreshFailuresTotal     prometheus.Counter

	notificationFailuresTotal *prometheus.CounterVec

	// EventBus
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Warmer
	warmRunsTotal        prometheus.Counter
	warmFailuresTotal    prometheus.Counter
	warmDuration         prometheus.Histogram
	warmSchoolsRefreshed prometheus.Counter

	// Warm-up leadership
	leaderStatus    prometheus.Gauge
	leaderLostTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initResourceMetrics(reg)
	s.initCacheMetrics(reg)
	s.initGenerationMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initWarmerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initResourceMetrics(reg prometheus.Registerer) {
	s.remoteRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_remote_requests_total",
		Help: "Total number of requests to the scheduling service.",
	}, []string{"operation", "status_class"})
	s.remoteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timetable_remote_request_duration_seconds",
		Help:    "Scheduling service request latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	s.register(reg, s.remoteRequestsTotal, "timetable_remote_requests_total")
	s.register(reg, s.remoteDuration, "timetable_remote_request_duration_seconds")
}

func (s *PrometheusSink) initCacheMetrics(reg prometheus.Registerer) {
	s.cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_summary_cache_lookups_total",
		Help: "Summary cache lookups by result (hit, miss, stale).",
	}, []string{"result"})
	s.cacheRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_summary_cache_refreshes_total",
		Help: "Summary refreshes against the scheduling service.",
	}, []string{"result"})
	s.cacheRefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetable_summary_cache_refresh_duration_seconds",
		Help:    "Duration of summary refreshes in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.register(reg, s.cacheLookupsTotal, "timetable_summary_cache_lookups_total")
	s.register(reg, s.cacheRefreshesTotal, "timetable_summary_cache_refreshes_total")
	s.register(reg, s.cacheRefreshDuration, "timetable_summary_cache_refresh_duration_seconds")
}

func (s *PrometheusSink) initGenerationMetrics(reg prometheus.Registerer) {
	s.generationsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_generations_started_total",
		Help: "Total number of accepted generation starts.",
	})
	s.generationsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_generations_rejected_total",
		Help: "Starts rejected because a run for the school was already in flight.",
	})
	s.generationOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_generation_outcomes_total",
		Help: "Terminal generation outcomes.",
	}, []string{"outcome"})
	s.generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetable_generation_duration_seconds",
		Help:    "End-to-end generation run duration in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	s.generationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timetable_generations_in_flight",
		Help: "Number of schools with a generation run in flight.",
	})
	s.refreshFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_generation_summary_refresh_failures_total",
		Help: "Summary refreshes that failed after a successful generation.",
	})
	s.notificationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_notification_failures_total",
		Help: "Outcome notifications that could not be delivered.",
	}, []string{"channel"})

	s.register(reg, s.generationsStartedTotal, "timetable_generations_started_total")
	s.register(reg, s.generationsRejectedTotal, "timetable_generations_rejected_total")
	s.register(reg, s.generationOutcomesTotal, "timetable_generation_outcomes_total")
	s.register(reg, s.generationDuration, "timetable_generation_duration_seconds")
	s.register(reg, s.generationsInFlight, "timetable_generations_in_flight")
	s.register(reg, s.refreshFailuresTotal, "timetable_generation_summary_refresh_failures_total")
	s.register(reg, s.notificationFailuresTotal, "timetable_notification_failures_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timetable_eventbus_buffer_size",
		Help: "Current number of state changes in the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_eventbus_emit_errors_total",
		Help: "Total number of dropped state changes (buffer full).",
	})

	s.register(reg, s.bufferSize, "timetable_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "timetable_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initWarmerMetrics(reg prometheus.Registerer) {
	s.warmRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_warmer_runs_total",
		Help: "Total number of scheduled summary warm-up runs.",
	})
	s.warmFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_warmer_failures_total",
		Help: "Schools whose summary could not be warmed.",
	})
	s.warmSchoolsRefreshed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_warmer_schools_total",
		Help: "Schools visited by warm-up runs.",
	})
	s.warmDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetable_warmer_duration_seconds",
		Help:    "Duration of warm-up runs in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	s.register(reg, s.warmRunsTotal, "timetable_warmer_runs_total")
	s.register(reg, s.warmFailuresTotal, "timetable_warmer_failures_total")
	s.register(reg, s.warmSchoolsRefreshed, "timetable_warmer_schools_total")
	s.register(reg, s.warmDuration, "timetable_warmer_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timetable_warmer_leader",
		Help: "1 while this instance holds the warm-up lock, 0 otherwise.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_warmer_leader_lost_total",
		Help: "Times the warm-up lock was released, by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "timetable_warmer_leader")
	s.register(reg, s.leaderLostTotal, "timetable_warmer_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		logger.For("metrics").Warnf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) RemoteRequestCompleted(operation, statusClass string, duration time.Duration) {
	s.remoteRequestsTotal.WithLabelValues(operation, statusClass).Inc()
	s.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (s *PrometheusSink) CacheLookup(result string) {
	s.cacheLookupsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) CacheRefreshCompleted(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	s.cacheRefreshesTotal.WithLabelValues(result).Inc()
	s.cacheRefreshDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) GenerationStarted() {
	s.generationsStartedTotal.Inc()
}

func (s *PrometheusSink) GenerationRejected() {
	s.generationsRejectedTotal.Inc()
}

func (s *PrometheusSink) GenerationCompleted(outcome string, duration time.Duration) {
	s.generationOutcomesTotal.WithLabelValues(outcome).Inc()
	s.generationDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) GenerationsInFlightIncr() {
	s.generationsInFlight.Inc()
}

func (s *PrometheusSink) GenerationsInFlightDecr() {
	s.generationsInFlight.Dec()
}

func (s *PrometheusSink) SummaryRefreshFailed() {
	s.refreshFailuresTotal.Inc()
}

func (s *PrometheusSink) NotificationFailed(channel string) {
	s.notificationFailuresTotal.WithLabelValues(channel).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) WarmCompleted(duration time.Duration, schools, failures int) {
	s.warmRunsTotal.Inc()
	s.warmSchoolsRefreshed.Add(float64(schools))
	s.warmFailuresTotal.Add(float64(failures))
	s.warmDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
