// Package cosmicwatch re-exports the public runtime API so consumers can
// import the module root directly.
package cosmicwatch

import (
	base "github.com/yutar0xff/cosmicwatch-app/pkg/cosmicwatch"
)

// Re-exported errors for convenience.
var (
	ErrSinkFatal        = base.ErrSinkFatal
	ErrChannelTapClosed = base.ErrChannelTapClosed
)

// Type aliases so consumers can import github.com/yutar0xff/cosmicwatch-app
// directly.
type (
	Config          = base.Config
	DeviceConfig    = base.DeviceConfig
	RecordingConfig = base.RecordingConfig
	FileSinkConfig  = base.FileSinkConfig
	StoreConfig     = base.StoreConfig
	RemoteConfig    = base.RemoteConfig
	ClientConfig    = base.ClientConfig
	SetupInfo       = base.SetupInfo
	MetricsConfig   = base.MetricsConfig
	UploadPolicy    = base.UploadPolicy

	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption

	Event        = base.Event
	RawLine      = base.RawLine
	SessionInfo  = base.SessionInfo
	SessionState = base.SessionState
	Collector    = base.Collector
	EventSink    = base.EventSink
	Capability   = base.Capability
	EventFunc    = base.EventFunc

	Observability = base.Observability
	Field         = base.Field
)

// Capability bits for custom sink implementations.
const (
	CapOpen  = base.CapOpen
	CapWrite = base.CapWrite
	CapRaw   = base.CapRaw
	CapClose = base.CapClose
	CapQuery = base.CapQuery
)

// Configuration loading.
var (
	LoadConfig     = base.LoadConfig
	Conf           = base.Conf
	ConfFromConfig = base.ConfFromConfig
)

// Runtime construction and option helpers.
var (
	NewRuntime        = base.NewRuntime
	WithCollector     = base.WithCollector
	WithFileSink      = base.WithFileSink
	WithStoreSink     = base.WithStoreSink
	WithRemoteSink    = base.WithRemoteSink
	WithSink          = base.WithSink
	WithObservability = base.WithObservability
	WithFlowOptions   = base.WithFlowOptions
)

// Flow builder helpers.
var (
	StreamInCollector      = base.StreamInCollector
	StreamInObservability  = base.StreamInObservability
	StreamOutFileSink      = base.StreamOutFileSink
	StreamOutStoreSink     = base.StreamOutStoreSink
	StreamOutRemoteSink    = base.StreamOutRemoteSink
	StreamOutObservability = base.StreamOutObservability
	StreamOutCallback      = base.StreamOutCallback
)

// Live-view taps.
var (
	NewCallbackTap = base.NewCallbackTap
	NewChannelTap  = base.NewChannelTap
)
