// Package pipeline wires the collector, session manager, and sinks into the
// running data path.
package pipeline

import (
	"context"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// LineHandler is the slice of the session manager the capture loop drives.
type LineHandler interface {
	HandleLine(ctx context.Context, raw *domain.RawLine) error
	HandleDisconnect(ctx context.Context)
}

// Flusher is the slice of the store sink the periodic flush loop needs.
type Flusher interface {
	Flush(ctx context.Context) error
	Pending() int
}

// RunCapturePipeline starts the collector and pumps its lines through the
// session manager on a dedicated goroutine. The collector closing its channel
// is the disconnect signal; the manager reacts by ending the session.
func RunCapturePipeline(ctx context.Context, col ports.Collector, mgr LineHandler, obs ports.Observability) error {
	ch := make(chan *domain.RawLine, 256)
	if err := col.Start(ch); err != nil {
		return err
	}

	go func() {
		for line := range ch {
			start := time.Now()
			if err := mgr.HandleLine(ctx, line); err != nil {
				obs.LogError("line_handling_failed", err)
			}
			obs.ObserveLatency("cosmicwatch_sink_write_latency_seconds", time.Since(start).Seconds())
			if ctx.Err() != nil {
				return
			}
		}
		mgr.HandleDisconnect(ctx)
	}()

	return nil
}

// RunFlushLoop flushes the store sink's write buffer on a fixed cadence so a
// quiet detector still gets its tail persisted. Blocks until ctx is done.
func RunFlushLoop(ctx context.Context, fl Flusher, interval time.Duration, obs ports.Observability) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := fl.Flush(context.Background()); err != nil {
				obs.LogError("store_final_flush_failed", err)
			}
			return
		case <-ticker.C:
			if err := fl.Flush(ctx); err != nil {
				obs.LogError("store_flush_failed", err)
			}
			obs.SetGauge("cosmicwatch_store_batch_pending", float64(fl.Pending()))
		}
	}
}
