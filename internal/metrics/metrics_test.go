package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}

	// Gather metrics to verify they're registered
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// Should have Go runtime metrics plus our custom metrics
	if len(mfs) == 0 {
		t.Error("expected metrics to be registered, got none")
	}
}

func TestRegisterWith(t *testing.T) {
	reg := prometheus.NewRegistry()

	// RegisterWith should not panic on first call
	RegisterWith(reg)

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedCount := 9
	if len(allMetrics) != expectedCount {
		t.Errorf("expected %d metrics in allMetrics, got %d", expectedCount, len(allMetrics))
	}
}

func TestMetricLabels(t *testing.T) {
	// Metrics must accept their documented labels without panicking.
	tests := []struct {
		name string
		fn   func()
	}{
		{
			name: "RecordsTotal",
			fn: func() {
				RecordsTotal.WithLabelValues("users", "insert").Inc()
			},
		},
		{
			name: "ChangeEventsTotal",
			fn: func() {
				ChangeEventsTotal.WithLabelValues("users", ResultFiltered).Inc()
			},
		},
		{
			name: "PositionFlushesTotal",
			fn: func() {
				PositionFlushesTotal.WithLabelValues("users").Inc()
			},
		},
		{
			name: "RetriesTotal",
			fn: func() {
				RetriesTotal.WithLabelValues("users").Inc()
			},
		},
		{
			name: "StreamFailuresTotal",
			fn: func() {
				StreamFailuresTotal.WithLabelValues("users").Inc()
			},
		},
		{
			name: "IdleTimeoutsTotal",
			fn: func() {
				IdleTimeoutsTotal.WithLabelValues("users").Inc()
			},
		},
		{
			name: "CapabilityRepairsTotal",
			fn: func() {
				CapabilityRepairsTotal.WithLabelValues("users").Inc()
			},
		},
		{
			name: "SyncRunsTotal",
			fn: func() {
				SyncRunsTotal.WithLabelValues("success").Inc()
			},
		},
		{
			name: "SyncDurationSeconds",
			fn: func() {
				SyncDurationSeconds.WithLabelValues("users", "LOG_BASED").Observe(2.5)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Should not panic
			tt.fn()
		})
	}
}

func TestLabelConstants(t *testing.T) {
	labels := map[string]string{
		"stream":    LabelStream,
		"operation": LabelOperation,
		"result":    LabelResult,
		"method":    LabelMethod,
	}

	for expected, got := range labels {
		if got != expected {
			t.Errorf("label constant mismatch: expected %q, got %q", expected, got)
		}
	}
}

func TestNamespaceAndSubsystems(t *testing.T) {
	if Namespace != "hermes" {
		t.Errorf("expected namespace 'hermes', got %q", Namespace)
	}
	if SubsystemTap != "tap" {
		t.Errorf("expected subsystem 'tap', got %q", SubsystemTap)
	}
}
