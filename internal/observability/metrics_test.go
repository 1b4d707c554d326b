package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetricsWithRegistry(registry)

	metrics.RunEventCounter.WithLabelValues("thread.message.delta").Inc()
	metrics.RunEventCounter.WithLabelValues("thread.message.delta").Inc()
	metrics.ToolExecutionCounter.WithLabelValues("get_podcast_feeds", "success").Inc()
	metrics.LockAcquisitionCounter.WithLabelValues("busy").Inc()
	metrics.IngestionEventCounter.WithLabelValues("file.created", "success").Inc()

	if got := testutil.ToFloat64(metrics.RunEventCounter.WithLabelValues("thread.message.delta")); got != 2 {
		t.Errorf("run event counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("get_podcast_feeds", "success")); got != 1 {
		t.Errorf("tool counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LockAcquisitionCounter.WithLabelValues("busy")); got != 1 {
		t.Errorf("lock counter = %v, want 1", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())

	metrics.ActiveStreams.Inc()
	metrics.ActiveStreams.Inc()
	metrics.ActiveStreams.Dec()

	if got := testutil.ToFloat64(metrics.ActiveStreams); got != 1 {
		t.Errorf("active streams = %v, want 1", got)
	}
}

func TestMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetricsWithRegistry(prometheus.NewRegistry())
	b := NewMetricsWithRegistry(prometheus.NewRegistry())

	a.RunCounter.WithLabelValues("done").Inc()
	if got := testutil.ToFloat64(b.RunCounter.WithLabelValues("done")); got != 0 {
		t.Errorf("registries must be independent, got %v", got)
	}
}
