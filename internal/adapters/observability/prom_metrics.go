package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// PromObs backs the observability port with Prometheus metrics and slog
// structured logging. Metric names are fixed at construction; unknown names
// are ignored rather than registered lazily.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}

	ingested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosmicwatch_events_ingested_total",
		Help: "Accepted detector events fanned out to the sinks.",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosmicwatch_lines_rejected_total",
		Help: "Device lines the codec refused to parse.",
	})
	uploadOK := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosmicwatch_upload_success_total",
		Help: "Events delivered to the remote server.",
	})
	uploadRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosmicwatch_upload_retries_total",
		Help: "Upload batch retry attempts.",
	})
	uploadDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosmicwatch_upload_dropped_total",
		Help: "Events evicted from the bounded upload queue on overflow.",
	})
	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosmicwatch_upload_queue_length",
		Help: "Events queued for upload, not yet delivered.",
	})
	storePending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosmicwatch_store_batch_pending",
		Help: "Events buffered in the store sink awaiting the next batch flush.",
	})
	writeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cosmicwatch_sink_write_latency_seconds",
		Help:    "Per-line latency from receive to sink write completion.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	prometheus.MustRegister(ingested, rejected, uploadOK, uploadRetries,
		uploadDropped, queueLen, storePending, writeLatency)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			"cosmicwatch_events_ingested_total": ingested,
			"cosmicwatch_lines_rejected_total":  rejected,
			"cosmicwatch_upload_success_total":  uploadOK,
			"cosmicwatch_upload_retries_total":  uploadRetries,
			"cosmicwatch_upload_dropped_total":  uploadDropped,
		},
		gauges: map[string]prometheus.Gauge{
			"cosmicwatch_upload_queue_length": queueLen,
			"cosmicwatch_store_batch_pending": storePending,
		},
		histos: map[string]prometheus.Observer{
			"cosmicwatch_sink_write_latency_seconds": writeLatency,
		},
	}
}

func slogArgs(err error, fields []ports.Field) []any {
	args := make([]any, 0, 2*len(fields)+2)
	if err != nil {
		args = append(args, "error", err)
	}
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, slogArgs(nil, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, slogArgs(err, fields)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append([]any{"critical", true}, slogArgs(err, fields)...)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

var _ ports.Observability = (*PromObs)(nil)
