package cosmicwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/filesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/observability"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/queue"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/remotesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/serialport"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/storesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/app/pipeline"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
	"github.com/yutar0xff/cosmicwatch-app/internal/session"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     Collector
	fileSink      EventSink
	storeSink     EventSink
	remoteSink    EventSink
	extraSinks    []EventSink
	observability Observability
}

// WithCollector injects a custom line source (file replay, simulators, tests).
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.collector = col
	}
}

// WithFileSink replaces the default capture-file sink.
func WithFileSink(s EventSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.fileSink = s
	}
}

// WithStoreSink replaces the default embedded SQLite store.
func WithStoreSink(s EventSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.storeSink = s
	}
}

// WithRemoteSink replaces the default HTTP uploader. The sink is used even if
// remote.enabled is false in the config.
func WithRemoteSink(s EventSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.remoteSink = s
	}
}

// WithSink appends an additional sink (live-view taps, custom exporters) to
// the fan-out.
func WithSink(s EventSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.extraSinks = append(o.extraSinks, s)
		}
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// Runtime wires the collector → session manager → sink fan-out and exposes
// lifecycle hooks for embedding the pipeline inside any Go service.
type Runtime struct {
	cfg       *Config
	obs       ports.Observability
	collector ports.Collector
	manager   *session.Manager
	store     *storesink.StoreSink
	uploader  *remotesink.Uploader
	db        *sql.DB

	metricsSrv  *http.Server
	cancelRun   context.CancelFunc
	gaugeStopCh chan struct{}
}

// NewRuntime bootstraps the default adapters (serial collector, capture-file
// sink, embedded SQLite store, optional HTTP uploader, Prometheus
// observability). RuntimeOption values override any dependency.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(slog.Default())
	}

	col := overrides.collector
	if col == nil {
		var err error
		col, err = serialport.NewCollector(cfg.Device)
		if err != nil {
			return nil, err
		}
	}

	rt := &Runtime{cfg: cfg, obs: obs, collector: col}

	sinks := make([]EventSink, 0, 4)

	fileSink := overrides.fileSink
	if fileSink == nil {
		fs, err := filesink.New(cfg.Recording.File)
		if err != nil {
			return nil, err
		}
		fileSink = fs
	}
	sinks = append(sinks, fileSink)

	storeSink := overrides.storeSink
	if storeSink == nil {
		db, err := sql.Open("sqlite", cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		store := storesink.New(db, cfg.Store)
		if err := store.EnsureSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store schema: %w", err)
		}
		rt.db = db
		rt.store = store
		storeSink = store
	}
	sinks = append(sinks, storeSink)

	remoteSink := overrides.remoteSink
	if remoteSink == nil && cfg.Remote.Enabled {
		client, err := remotesink.NewClient(cfg.Remote.Client)
		if err != nil {
			return nil, err
		}
		up := remotesink.NewUploader(client,
			queue.NewUploadQueue(cfg.Remote.Policy.QueueCapacity),
			cfg.Remote.Policy, cfg.Remote.Setup, obs)
		rt.uploader = up
		remoteSink = up
	}
	if remoteSink != nil {
		sinks = append(sinks, remoteSink)
	}
	sinks = append(sinks, overrides.extraSinks...)

	mgr, err := session.NewManager(obs, sinks...)
	if err != nil {
		return nil, err
	}
	rt.manager = mgr

	return rt, nil
}

// Manager exposes the session lifecycle so callers can arm, stop, and inspect
// recordings.
func (r *Runtime) Manager() *session.Manager { return r.manager }

// Store exposes the embedded store's query surface, or nil when the store was
// overridden.
func (r *Runtime) Store() *storesink.StoreSink { return r.store }

// Start launches the capture pipeline, the store flush loop, the uploader,
// and the metrics server. It returns immediately; call Run to block instead.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelRun = cancel

	if r.cfg.Recording.AutoStart {
		r.manager.Arm(r.cfg.Recording.Comment, r.cfg.Recording.IncludeComments)
	}

	if err := pipeline.RunCapturePipeline(ctx, r.collector, r.manager, r.obs); err != nil {
		cancel()
		return err
	}

	if r.store != nil {
		go pipeline.RunFlushLoop(ctx, r.store, 5*time.Second, r.obs)
	}
	if r.uploader != nil {
		go r.uploader.Run(ctx)
	}

	r.startMetrics()
	return nil
}

// Run starts the runtime and blocks until the provided context is cancelled,
// then attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the collector, ends any running session, and closes the
// metrics server and database.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.collector != nil {
		if err := r.collector.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	// Ends the session if one is running, flushing every sink.
	r.manager.Stop(ctx)

	if r.cancelRun != nil {
		r.cancelRun()
	}
	if r.gaugeStopCh != nil {
		close(r.gaugeStopCh)
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server exited", "error", err)
		}
	}()

	r.gaugeStopCh = make(chan struct{})
	go r.recordResourceGauges(r.gaugeStopCh, time.Second)
}

func (r *Runtime) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if r.uploader != nil {
				r.obs.SetGauge("cosmicwatch_upload_queue_length", float64(r.uploader.PendingCount()))
			}
			if r.store != nil {
				r.obs.SetGauge("cosmicwatch_store_batch_pending", float64(r.store.Pending()))
			}
		}
	}
}
