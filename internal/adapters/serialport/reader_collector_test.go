package serialport

import (
	"strings"
	"testing"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
)

func TestReaderCollectorEmitsLinesAndClosesOnEOF(t *testing.T) {
	input := "1 100 512 3.3 10 21.5\r\n# device banner\n\n2 200 600 3.4 11 21.6\n"
	c := NewReaderCollector(strings.NewReader(input))

	out := make(chan *domain.RawLine, 8)
	if err := c.Start(out); err != nil {
		t.Fatalf("start: %v", err)
	}

	var got []string
	for line := range out {
		got = append(got, line.Text)
		if line.ReceivedAt.IsZero() {
			t.Fatalf("line missing receive timestamp")
		}
	}

	want := []string{"1 100 512 3.3 10 21.5", "# device banner", "2 200 600 3.4 11 21.6"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestReaderCollectorRejectsDoubleStart(t *testing.T) {
	c := NewReaderCollector(strings.NewReader("1 100 512 3.3 10 21.5\n"))

	first := make(chan *domain.RawLine, 8)
	if err := c.Start(first); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(make(chan *domain.RawLine)); err == nil {
		t.Fatalf("second start must fail")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-first:
			if !ok {
				_ = c.Stop()
				return
			}
		case <-deadline:
			t.Fatalf("collector did not close its channel")
		}
	}
}
