package cosmicwatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func tapEvent(seq int64) *Event {
	return &Event{SequenceID: seq, ADC: 500, ReceivedAt: time.Now()}
}

func TestCallbackTapDeliversEvents(t *testing.T) {
	var got []Event
	tap := NewCallbackTap("live", func(ev Event) error {
		got = append(got, ev)
		return nil
	})

	if tap.Capabilities() != CapWrite {
		t.Fatalf("callback tap must be write-only, got %v", tap.Capabilities())
	}

	writer := tap.(interface {
		WriteEvent(context.Context, *SessionInfo, *Event) error
	})
	for seq := int64(1); seq <= 3; seq++ {
		if err := writer.WriteEvent(context.Background(), nil, tapEvent(seq)); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}
	if len(got) != 3 || got[0].SequenceID != 1 {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestCallbackTapNilHandler(t *testing.T) {
	tap := NewCallbackTap("", nil)
	writer := tap.(interface {
		WriteEvent(context.Context, *SessionInfo, *Event) error
	})
	if err := writer.WriteEvent(context.Background(), nil, tapEvent(1)); err == nil {
		t.Fatalf("nil handler must error")
	}
}

func TestChannelTapDeliversAndCloses(t *testing.T) {
	tap, ch, closeTap := NewChannelTap("live", 4)
	writer := tap.(interface {
		WriteEvent(context.Context, *SessionInfo, *Event) error
	})

	if err := writer.WriteEvent(context.Background(), nil, tapEvent(7)); err != nil {
		t.Fatalf("write event: %v", err)
	}
	ev := <-ch
	if ev.SequenceID != 7 {
		t.Fatalf("unexpected event %+v", ev)
	}

	closeTap()
	if err := writer.WriteEvent(context.Background(), nil, tapEvent(8)); !errors.Is(err, ErrChannelTapClosed) {
		t.Fatalf("expected ErrChannelTapClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel must be closed")
	}
}

func TestChannelTapCloseIsIdempotent(t *testing.T) {
	_, _, closeTap := NewChannelTap("", 0)
	closeTap()
	closeTap()
}

func TestChannelTapRespectsContext(t *testing.T) {
	tap, _, closeTap := NewChannelTap("live", 0) // unbuffered, nobody reading
	defer closeTap()
	writer := tap.(interface {
		WriteEvent(context.Context, *SessionInfo, *Event) error
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := writer.WriteEvent(ctx, nil, tapEvent(1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
