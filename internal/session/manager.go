// Package session owns the recording session lifecycle and fans accepted
// events out to the configured sinks.
//
// The lifecycle is an explicit state machine driven by discrete inputs, not
// by observed state changes:
//
//	Idle -> Starting -> Active -> Stopping -> Idle
//
// Idle→Starting fires on the first data line while recording is armed;
// Starting→Active completes only once every enabled sink confirmed its
// session object (all-or-nothing, otherwise the attempt rolls back to Idle).
// Active→Stopping→Idle fires on an explicit stop or a device disconnect;
// closing is best-effort and never wedges the pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yutar0xff/cosmicwatch-app/internal/codec"
	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// sinkEntry caches the capability-narrowed views of one sink. Built once at
// construction so dispatch never type-asserts on the hot path.
type sinkEntry struct {
	sink   ports.EventSink
	opener ports.SessionOpener
	writer ports.EventWriter
	raw    ports.RawWriter
	closer ports.SessionCloser
}

// Manager is the session lifecycle manager. All methods are safe for
// concurrent use; in practice HandleLine runs on the single capture
// goroutine and Stop/Arm come from the operator.
type Manager struct {
	obs   ports.Observability
	sinks []sinkEntry

	mu              sync.Mutex
	state           domain.SessionState
	current         *ports.SessionInfo
	armed           bool
	comment         string
	includeComments bool
}

// NewManager validates every sink's declared capabilities against the
// interfaces it actually implements. A declaration without an implementation
// is a construction error, not a runtime surprise.
func NewManager(obs ports.Observability, sinks ...ports.EventSink) (*Manager, error) {
	if obs == nil {
		return nil, errors.New("session: observability is required")
	}

	entries := make([]sinkEntry, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		caps := s.Capabilities()
		entry := sinkEntry{sink: s}

		if caps.Has(ports.CapOpen) {
			opener, ok := s.(ports.SessionOpener)
			if !ok {
				return nil, fmt.Errorf("session: sink %q declares open but does not implement SessionOpener", s.Name())
			}
			entry.opener = opener
		}
		if caps.Has(ports.CapWrite) {
			writer, ok := s.(ports.EventWriter)
			if !ok {
				return nil, fmt.Errorf("session: sink %q declares write but does not implement EventWriter", s.Name())
			}
			entry.writer = writer
		}
		if caps.Has(ports.CapRaw) {
			raw, ok := s.(ports.RawWriter)
			if !ok {
				return nil, fmt.Errorf("session: sink %q declares raw but does not implement RawWriter", s.Name())
			}
			entry.raw = raw
		}
		if caps.Has(ports.CapClose) {
			closer, ok := s.(ports.SessionCloser)
			if !ok {
				return nil, fmt.Errorf("session: sink %q declares close but does not implement SessionCloser", s.Name())
			}
			entry.closer = closer
		}
		entries = append(entries, entry)
	}

	return &Manager{obs: obs, sinks: entries, state: domain.SessionIdle}, nil
}

// Arm enables recording. The comment and include-comments preference given
// here are captured into the session when it starts; changing them later has
// no effect on a session already running.
func (m *Manager) Arm(comment string, includeComments bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = true
	m.comment = comment
	m.includeComments = includeComments
}

// Disarm disables recording without touching a running session.
func (m *Manager) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
}

// State returns the current lifecycle state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a snapshot of the current session, or nil when idle.
func (m *Manager) Session() *ports.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	copied := *m.current
	return &copied
}

// HandleLine feeds one raw device line through the pipeline. The first data
// byte while armed starts a session; that same line is then persisted once
// the session is fully open.
func (m *Manager) HandleLine(ctx context.Context, raw *domain.RawLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.SessionIdle {
		if !m.armed {
			return nil
		}
		if err := m.startLocked(ctx, raw); err != nil {
			return err
		}
	}
	if m.state != domain.SessionActive {
		// Starting/Stopping in-flight elsewhere: not persistable.
		return nil
	}
	return m.forwardLocked(ctx, raw)
}

// startLocked runs Idle → Starting → Active. Session metadata is captured
// here, once, and stays fixed for the session's lifetime.
func (m *Manager) startLocked(ctx context.Context, raw *domain.RawLine) error {
	m.state = domain.SessionStarting
	sess := &ports.SessionInfo{
		ID:              uuid.NewString(),
		StartedAt:       raw.ReceivedAt,
		Comment:         m.comment,
		IncludeComments: m.includeComments,
	}

	for i, entry := range m.sinks {
		if entry.opener == nil {
			continue
		}
		if err := entry.opener.OpenSession(ctx, sess); err != nil {
			// Partial establishment is not a valid state: unwind the
			// sinks already opened and report the attempt as failed.
			m.closeSinksLocked(ctx, sess, i)
			m.state = domain.SessionIdle
			m.obs.LogError("session_open_failed", err, ports.Field{Key: "sink", Value: entry.sink.Name()})
			return fmt.Errorf("session open aborted by sink %q: %w", entry.sink.Name(), err)
		}
	}

	m.current = sess
	m.state = domain.SessionActive
	m.obs.LogInfo("session_started",
		ports.Field{Key: "session", Value: sess.ID},
		ports.Field{Key: "include_comments", Value: sess.IncludeComments})
	return nil
}

func (m *Manager) forwardLocked(ctx context.Context, raw *domain.RawLine) error {
	ev, rej := codec.Parse(raw.Text, raw.ReceivedAt)
	if rej.Rejected() {
		m.obs.IncCounter("cosmicwatch_lines_rejected_total", 1)
		for _, entry := range m.sinks {
			if entry.raw == nil {
				continue
			}
			if err := entry.raw.WriteRaw(ctx, m.current, raw.Text); err != nil {
				if err2 := m.handleWriteErrorLocked(ctx, entry.sink.Name(), err); err2 != nil {
					return err2
				}
			}
		}
		return nil
	}

	for _, entry := range m.sinks {
		if entry.writer == nil {
			continue
		}
		if err := entry.writer.WriteEvent(ctx, m.current, ev); err != nil {
			if err2 := m.handleWriteErrorLocked(ctx, entry.sink.Name(), err); err2 != nil {
				return err2
			}
		}
	}
	m.current.TotalEvents++
	m.obs.IncCounter("cosmicwatch_events_ingested_total", 1)
	return nil
}

// handleWriteErrorLocked applies the per-sink failure taxonomy: fatal errors
// force-close the session, everything else is the sink's own problem to
// retry and is only logged here.
func (m *Manager) handleWriteErrorLocked(ctx context.Context, sinkName string, err error) error {
	if errors.Is(err, ports.ErrSinkFatal) {
		m.obs.LogCritical("session_write_fatal", err, ports.Field{Key: "sink", Value: sinkName})
		m.stopLocked(ctx)
		return fmt.Errorf("session force-closed by sink %q: %w", sinkName, err)
	}
	m.obs.LogError("sink_write_failed", err, ports.Field{Key: "sink", Value: sinkName})
	return nil
}

// Stop ends the session on operator request and disables recording.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
	m.stopLocked(ctx)
}

// HandleDisconnect ends the session because the device went away. Recording
// stays armed: a new session begins when data flows again.
func (m *Manager) HandleDisconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(ctx)
	m.obs.LogInfo("device_disconnected")
}

func (m *Manager) stopLocked(ctx context.Context) {
	if m.state != domain.SessionActive {
		return
	}
	m.state = domain.SessionStopping
	m.closeSinksLocked(ctx, m.current, len(m.sinks))
	m.obs.LogInfo("session_stopped",
		ports.Field{Key: "session", Value: m.current.ID},
		ports.Field{Key: "events", Value: m.current.TotalEvents})
	m.current = nil
	m.state = domain.SessionIdle
}

// closeSinksLocked closes the first n sinks, best-effort. Close failures are
// logged and skipped; blocking the return to Idle would hang the operator.
func (m *Manager) closeSinksLocked(ctx context.Context, sess *ports.SessionInfo, n int) {
	for i := 0; i < n && i < len(m.sinks); i++ {
		entry := m.sinks[i]
		if entry.closer == nil {
			continue
		}
		if err := entry.closer.CloseSession(ctx, sess); err != nil {
			m.obs.LogError("sink_close_failed", err, ports.Field{Key: "sink", Value: entry.sink.Name()})
		}
	}
}
