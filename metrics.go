package offlinekit

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordSyncDuration records how long a push or pull phase took.
	RecordSyncDuration(op string, d time.Duration)

	// RecordSyncChanges records how many envelopes were pushed and pulled.
	RecordSyncChanges(pushed, pulled int)

	// RecordConflicts records LWW merge outcomes during a pull.
	RecordConflicts(remoteWins, localWins int)

	// RecordSyncErrors records a sync failure by operation and reason.
	RecordSyncErrors(op, reason string)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

var _ MetricsCollector = (*NoOpMetricsCollector)(nil)

func (*NoOpMetricsCollector) RecordSyncDuration(op string, d time.Duration) {}
func (*NoOpMetricsCollector) RecordSyncChanges(pushed, pulled int)          {}
func (*NoOpMetricsCollector) RecordConflicts(remoteWins, localWins int)     {}
func (*NoOpMetricsCollector) RecordSyncErrors(op, reason string)            {}
