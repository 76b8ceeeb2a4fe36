package ports

import (
	"context"
	"errors"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
)

// ErrSinkFatal marks a write failure that must end the session. The file sink
// wraps its errors with this; the session manager checks it with errors.Is.
var ErrSinkFatal = errors.New("sink failure is fatal to the session")

// SessionInfo is the explicit session context passed by reference into every
// sink call. There is no ambient "current session" anywhere else.
type SessionInfo struct {
	ID              string
	StartedAt       time.Time
	Comment         string
	IncludeComments bool
	TotalEvents     int64
}

// Capability declares which sink operations an EventSink supports. The
// session manager validates the declaration against the implemented
// interfaces once, at construction, and dispatches only on declared bits.
type Capability uint8

const (
	CapOpen Capability = 1 << iota
	CapWrite
	CapRaw
	CapClose
	CapQuery
)

// Has reports whether all bits in want are declared.
func (c Capability) Has(want Capability) bool { return c&want == want }

// EventSink is the common surface of every persistence destination. Concrete
// operations live on the narrower capability interfaces below.
type EventSink interface {
	Name() string
	Capabilities() Capability
}

// SessionOpener creates the sink's durable session object. Open failures are
// fatal to the session attempt as a whole.
type SessionOpener interface {
	OpenSession(ctx context.Context, sess *SessionInfo) error
}

// EventWriter persists one accepted event for the given session.
type EventWriter interface {
	WriteEvent(ctx context.Context, sess *SessionInfo, ev *domain.Event) error
}

// RawWriter receives lines the codec rejected, so a sink can keep the byte
// stream faithful. Only the file sink declares this.
type RawWriter interface {
	WriteRaw(ctx context.Context, sess *SessionInfo, line string) error
}

// SessionCloser flushes pending state and marks the sink's session ended.
// Close is best-effort; errors are logged, never retried indefinitely.
type SessionCloser interface {
	CloseSession(ctx context.Context, sess *SessionInfo) error
}
