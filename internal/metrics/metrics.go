// Package metrics provides Prometheus metrics for Hermes components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerOnce sync.Once

const (
	// Namespace is the Prometheus namespace for all Hermes metrics.
	Namespace = "hermes"

	// SubsystemTap groups extraction metrics.
	SubsystemTap = "tap"
)

// Label constants for consistent labeling across metrics.
const (
	LabelStream    = "stream"
	LabelOperation = "operation"
	LabelResult    = "result"
	LabelMethod    = "method"
)

// Result label values for ChangeEventsTotal.
const (
	ResultEmitted  = "emitted"
	ResultFiltered = "filtered"
)

var (
	// RecordsTotal counts the records emitted to the sink.
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "records_total",
			Help:      "Total number of records emitted to the sink",
		},
		[]string{LabelStream, LabelOperation},
	)

	// ChangeEventsTotal counts change stream events read, split by
	// whether the operation kind passed the stream's allowlist.
	ChangeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "change_events_total",
			Help:      "Total number of change stream events read",
		},
		[]string{LabelStream, LabelResult},
	)

	// PositionFlushesTotal counts position commits to the store.
	PositionFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "position_flushes_total",
			Help:      "Total number of position marker flushes",
		},
		[]string{LabelStream},
	)

	// RetriesTotal counts retry attempts against the source.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "retries_total",
			Help:      "Total number of retry attempts",
		},
		[]string{LabelStream},
	)

	// StreamFailuresTotal counts streams that terminated with an
	// unrecoverable error.
	StreamFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "stream_failures_total",
			Help:      "Total number of stream-level failures",
		},
		[]string{LabelStream},
	)

	// IdleTimeoutsTotal counts clean tailer exits due to inactivity.
	IdleTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "idle_timeouts_total",
			Help:      "Total number of change tailer idle-timeout exits",
		},
		[]string{LabelStream},
	)

	// CapabilityRepairsTotal counts modifyChangeStreams repair calls.
	CapabilityRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "capability_repairs_total",
			Help:      "Total number of change capture enable calls issued",
		},
		[]string{LabelStream},
	)

	// SyncRunsTotal counts coordinator invocations by outcome.
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "sync_runs_total",
			Help:      "Total number of sync runs",
		},
		[]string{LabelResult},
	)

	// SyncDurationSeconds tracks per-stream extraction duration.
	SyncDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTap,
			Name:      "sync_duration_seconds",
			Help:      "Duration of per-stream extraction",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{LabelStream, LabelMethod},
	)
)

var allMetrics = []prometheus.Collector{
	RecordsTotal,
	ChangeEventsTotal,
	PositionFlushesTotal,
	RetriesTotal,
	StreamFailuresTotal,
	IdleTimeoutsTotal,
	CapabilityRepairsTotal,
	SyncRunsTotal,
	SyncDurationSeconds,
}

// Register registers all Hermes metrics with the default registry.
// Safe to call multiple times.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// RegisterWith registers all Hermes metrics with the given registry.
func RegisterWith(reg prometheus.Registerer) {
	for _, m := range allMetrics {
		reg.MustRegister(m)
	}
}

// NewRegistry creates a new Prometheus registry with all Hermes metrics
// and standard Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	RegisterWith(reg)

	return reg
}
