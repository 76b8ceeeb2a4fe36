package cosmicwatch

import (
	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// Event is one accepted detector hit. It mirrors the internal domain type so
// custom sinks and taps can reference it directly.
type Event = domain.Event

// RawLine is one timestamped line as it arrived from the device, before
// parsing.
type RawLine = domain.RawLine

// SessionInfo is the per-session context handed to every sink call.
type SessionInfo = ports.SessionInfo

// SessionState is the lifecycle position of the recording state machine.
type SessionState = domain.SessionState

// Collector streams raw lines from any detector source (serial port, file
// replay, simulators) into the pipeline.
type Collector = ports.Collector

// EventSink is the common surface of every persistence destination.
type EventSink = ports.EventSink

// Capability declares which sink operations an EventSink supports.
type Capability = ports.Capability

// Capability bits, re-exported for custom sink implementations.
const (
	CapOpen  = ports.CapOpen
	CapWrite = ports.CapWrite
	CapRaw   = ports.CapRaw
	CapClose = ports.CapClose
	CapQuery = ports.CapQuery
)

// Observability emits metrics and structured logs about the pipeline.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// UploadPolicy controls the remote sink's queueing, batching, and retry
// behavior.
type UploadPolicy = ports.UploadPolicy

// ErrSinkFatal marks a sink write failure that force-closes the session.
var ErrSinkFatal = ports.ErrSinkFatal
