package domain

import "time"

// Event is one parsed detector hit. Immutable once produced by the codec.
// SequenceID is assigned by the device and is only unique within a session.
type Event struct {
	SequenceID      int64     `json:"seq"`
	SourceTimestamp string    `json:"source_ts,omitempty"`
	MonotonicTimeMs int64     `json:"monotonic_ms"`
	ADC             int       `json:"adc"`
	SiPMMilliVolts  float64   `json:"sipm_mv"`
	DeadtimeMs      int64     `json:"deadtime_ms"`
	TemperatureC    float64   `json:"temperature_c"`
	Humidity        *float64  `json:"humidity,omitempty"`
	PressureHPa     *float64  `json:"pressure_hpa,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

// HasEnvironment reports whether the optional BME sensor fields are present.
func (e *Event) HasEnvironment() bool {
	return e.Humidity != nil && e.PressureHPa != nil
}

// RawLine is one line as delivered by the device transport, stamped with the
// host receive time before any parsing happens.
type RawLine struct {
	Text       string
	ReceivedAt time.Time
}

// UploadEntry is an event waiting in the remote upload queue.
type UploadEntry struct {
	Event      *Event
	EnqueuedAt time.Time
	Attempts   int
}
