package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RemoteRequestCompleted(operation, statusClass string, d time.Duration) {}
func (n *NoopSink) CacheLookup(result string)                                          {}
func (n *NoopSink) CacheRefreshCompleted(d time.Duration, err error)                   {}
func (n *NoopSink) GenerationStarted()                                                 {}
func (n *NoopSink) GenerationRejected()                                                {}
func (n *NoopSink) GenerationCompleted(outcome string, d time.Duration)                {}
func (n *NoopSink) GenerationsInFlightIncr()                                           {}
func (n *NoopSink) GenerationsInFlightDecr()                                           {}
func (n *NoopSink) SummaryRefreshFailed()                                              {}
func (n *NoopSink) NotificationFailed(channel string)                                  {}
func (n *NoopSink) BufferSizeUpdate(size int)                                          {}
func (n *NoopSink) EmitError()                                                         {}
func (n *NoopSink) WarmCompleted(d time.Duration, schools, failures int)               {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                  {}
func (n *NoopSink) LeaderLost(reason string)                                           {}
