package cosmicwatch

import (
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/filesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/remotesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/serialport"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/storesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/app/config"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// DeviceConfig holds the serial port settings.
	DeviceConfig = serialport.Config
	// RecordingConfig combines capture-file settings with session metadata.
	RecordingConfig = config.RecordingConfig
	// FileSinkConfig configures the append-only capture file sink.
	FileSinkConfig = filesink.Config
	// StoreConfig configures the embedded SQLite store.
	StoreConfig = storesink.Config
	// RemoteConfig gates and configures the upload sink.
	RemoteConfig = config.RemoteConfig
	// ClientConfig holds the remote server connection details.
	ClientConfig = remotesink.ClientConfig
	// SetupInfo is the detector registration sent on session open.
	SetupInfo = remotesink.SetupInfo
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
