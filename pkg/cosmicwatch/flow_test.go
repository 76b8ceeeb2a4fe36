package cosmicwatch

import (
	"context"
	"testing"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	col := &stubCollector{}
	fileSink := &stubSink{name: "file-stub"}

	rt, err := flow.
		StreamIN(
			StreamInCollector(col),
			StreamInObservability(&stubObservability{}),
		).
		StreamOUT(
			StreamOutFileSink(fileSink),
			StreamOutStoreSink(&stubSink{name: "store-stub"}),
			StreamOutObservability(&stubObservability{}),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if rt.collector != col {
		t.Fatalf("expected custom collector to be wired")
	}
	if rt.db != nil {
		t.Fatalf("expected no database when store sink is overridden")
	}
}

func TestFlowRunUsesStreamOutOptions(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop immediately to avoid waiting on a real device.
	cancel()
	if err := flow.StreamIN(
		StreamInCollector(&stubCollector{}),
		StreamInObservability(&stubObservability{}),
	).Run(ctx,
		StreamOutFileSink(&stubSink{name: "file-stub"}),
		StreamOutStoreSink(&stubSink{name: "store-stub"}),
		StreamOutCallback("live", func(Event) error { return nil }),
		StreamOutObservability(&stubObservability{}),
	); err != nil && err != context.Canceled {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
