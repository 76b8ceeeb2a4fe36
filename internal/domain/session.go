package domain

import "time"

// SessionState is the lifecycle position of a recording session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionStarting
	SessionActive
	SessionStopping
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Session is one bounded recording interval. IncludeComments is captured once
// when the session starts and never changes afterwards, even if the live
// preference does; the capture file stays internally consistent that way.
type Session struct {
	ID              string
	StartedAt       time.Time
	EndedAt         time.Time
	Comment         string
	IncludeComments bool
	TotalEvents     int64
	Active          bool
}
