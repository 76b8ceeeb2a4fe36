// Package config loads and validates the application's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/filesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/remotesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/serialport"
	"github.com/yutar0xff/cosmicwatch-app/internal/adapters/storesink"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

type Config struct {
	Device    serialport.Config `yaml:"device"`
	Recording RecordingConfig   `yaml:"recording"`
	Store     storesink.Config  `yaml:"store"`
	Remote    RemoteConfig      `yaml:"remote"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// RecordingConfig combines the capture-file sink settings with the session
// metadata captured when a recording starts.
type RecordingConfig struct {
	File            filesink.Config `yaml:"file"`
	Comment         string          `yaml:"comment"`
	IncludeComments bool            `yaml:"include_comments"`
	AutoStart       bool            `yaml:"auto_start"`
}

// RemoteConfig gates the upload sink. Disabled means the pipeline runs with
// the local sinks only.
type RemoteConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Client  remotesink.ClientConfig `yaml:"client"`
	Policy  ports.UploadPolicy      `yaml:"policy"`
	Setup   remotesink.SetupInfo    `yaml:"setup"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Device.ApplyDefaults()
	c.Recording.File.ApplyDefaults()
	if c.Store.Path == "" {
		c.Store.Path = "./data/cosmicwatch.db"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Remote.Enabled {
		c.Remote.Client.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}
	if c.Recording.File.Dir == "" {
		return errors.New("recording.file.dir is required")
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if c.Remote.Enabled {
		if err := c.Remote.Client.Validate(); err != nil {
			return fmt.Errorf("remote config: %w", err)
		}
	}
	return nil
}
