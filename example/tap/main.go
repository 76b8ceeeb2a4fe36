package main

import (
	"context"
	"fmt"
	"log"

	cosmicwatch "github.com/yutar0xff/cosmicwatch-app"
)

// Streams accepted events to stdout through a channel tap while the normal
// sinks keep persisting them.
func main() {
	flow, err := cosmicwatch.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tap, events, closeTap := cosmicwatch.NewChannelTap("live", 32)
	defer closeTap()

	go func() {
		for ev := range events {
			fmt.Printf("hit seq=%d adc=%d temp=%.1fC\n", ev.SequenceID, ev.ADC, ev.TemperatureC)
		}
	}()

	if err := flow.Options(cosmicwatch.WithSink(tap)).Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("pipeline exited: %v", err)
	}
}
