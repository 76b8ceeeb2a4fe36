package cosmicwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelTapClosed is returned when a channel tap is written to after
// being closed.
var ErrChannelTapClosed = errors.New("cosmicwatch: channel tap closed")

// EventFunc is invoked with each accepted event, in arrival order.
type EventFunc func(Event) error

// NewCallbackTap adapts a plain function into a write-only sink so callers
// can observe the live event stream without defining structs.
func NewCallbackTap(name string, fn EventFunc) EventSink {
	if name == "" {
		name = "callback"
	}
	return &callbackTap{name: name, fn: fn}
}

// NewChannelTap exposes accepted events via a channel; it returns the sink,
// the read-only channel, and a close function the caller should invoke
// during shutdown.
func NewChannelTap(name string, buffer int) (EventSink, <-chan Event, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	s := &channelTap{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackTap struct {
	name string
	fn   EventFunc
}

func (s *callbackTap) Name() string             { return s.name }
func (s *callbackTap) Capabilities() Capability { return CapWrite }

func (s *callbackTap) WriteEvent(_ context.Context, _ *SessionInfo, ev *Event) error {
	if s.fn == nil {
		return fmt.Errorf("callback tap %q: nil handler", s.name)
	}
	return s.fn(*ev)
}

type channelTap struct {
	name   string
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

func (s *channelTap) Name() string             { return s.name }
func (s *channelTap) Capabilities() Capability { return CapWrite }

func (s *channelTap) WriteEvent(ctx context.Context, _ *SessionInfo, ev *Event) error {
	select {
	case <-s.closed:
		return ErrChannelTapClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelTapClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- *ev:
		return nil
	}
}

func (s *channelTap) close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}
