package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  port: /dev/ttyUSB0
recording:
  file:
    dir: /tmp/captures
  include_comments: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Device.BaudRate != 9600 {
		t.Fatalf("expected default baud 9600, got %d", cfg.Device.BaudRate)
	}
	if cfg.Device.ReadTimeout != 5*time.Second {
		t.Fatalf("expected default read timeout 5s, got %s", cfg.Device.ReadTimeout)
	}
	if cfg.Store.Path != "./data/cosmicwatch.db" {
		t.Fatalf("expected default store path, got %s", cfg.Store.Path)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if !cfg.Recording.IncludeComments {
		t.Fatalf("include_comments not parsed")
	}
	if cfg.Remote.Enabled {
		t.Fatalf("remote must default to disabled")
	}
}

func TestLoadRequiresDevicePort(t *testing.T) {
	path := writeConfig(t, `
recording:
  file:
    dir: /tmp/captures
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing device port")
	}
}

func TestLoadValidatesRemoteOnlyWhenEnabled(t *testing.T) {
	// Incomplete remote section is fine while disabled.
	path := writeConfig(t, `
device:
  port: /dev/ttyUSB0
recording:
  file:
    dir: /tmp/captures
remote:
  enabled: false
  client:
    user_id: someone
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("disabled remote must not be validated: %v", err)
	}

	// The same section with enabled: true must fail validation.
	path = writeConfig(t, `
device:
  port: /dev/ttyUSB0
recording:
  file:
    dir: /tmp/captures
remote:
  enabled: true
  client:
    user_id: someone
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("enabled remote with missing fields must fail")
	}
}

func TestLoadParsesRemoteSection(t *testing.T) {
	path := writeConfig(t, `
device:
  port: /dev/ttyUSB0
  baud_rate: 115200
recording:
  file:
    dir: /tmp/captures
    suffix: roof
store:
  path: /tmp/cw.db
  batch_size: 32
remote:
  enabled: true
  client:
    base_url: https://server.example
    user_id: user-1
    password: secret
    detector_id: det-7
  policy:
    batch_size: 10
    upload_interval: 30s
  setup:
    gps_latitude: 52.2
    gps_longitude: 4.4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Device.BaudRate != 115200 {
		t.Fatalf("baud override lost: %d", cfg.Device.BaudRate)
	}
	if cfg.Remote.Client.DetectorID != "det-7" {
		t.Fatalf("remote client not parsed: %+v", cfg.Remote.Client)
	}
	if cfg.Remote.Policy.UploadInterval != 30*time.Second {
		t.Fatalf("upload interval not parsed: %s", cfg.Remote.Policy.UploadInterval)
	}
	if cfg.Remote.Setup.GPSLatitude != 52.2 {
		t.Fatalf("setup info not parsed: %+v", cfg.Remote.Setup)
	}
	if cfg.Store.BatchSize != 32 {
		t.Fatalf("store batch size not parsed: %d", cfg.Store.BatchSize)
	}
}
