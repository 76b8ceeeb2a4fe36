package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newIsolatedObs(t *testing.T) *PromObs {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	return NewPromObs(nil)
}

func TestPromObsMetrics(t *testing.T) {
	obs := newIsolatedObs(t)

	obs.IncCounter("cosmicwatch_events_ingested_total", 5)
	if got := testutil.ToFloat64(obs.counters["cosmicwatch_events_ingested_total"]); got != 5 {
		t.Fatalf("expected ingested counter 5, got %f", got)
	}

	obs.IncCounter("cosmicwatch_upload_dropped_total", 2)
	if got := testutil.ToFloat64(obs.counters["cosmicwatch_upload_dropped_total"]); got != 2 {
		t.Fatalf("expected drop counter 2, got %f", got)
	}

	obs.SetGauge("cosmicwatch_upload_queue_length", 42)
	if got := testutil.ToFloat64(obs.gauges["cosmicwatch_upload_queue_length"]); got != 42 {
		t.Fatalf("expected queue gauge 42, got %f", got)
	}

	obs.ObserveLatency("cosmicwatch_sink_write_latency_seconds", 0.005)
	hCollector := obs.histos["cosmicwatch_sink_write_latency_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}
}

func TestPromObsIgnoresUnknownNames(t *testing.T) {
	obs := newIsolatedObs(t)

	// Must not panic or register anything new.
	obs.IncCounter("cosmicwatch_not_a_metric", 1)
	obs.SetGauge("cosmicwatch_not_a_gauge", 1)
	obs.ObserveLatency("cosmicwatch_not_a_histogram", 1)
}
