package ports

import "time"

// UploadPolicy controls the remote sink's queueing, batching, and retry
// behavior. Zero values are filled by config defaults.
type UploadPolicy struct {
	QueueCapacity  int           `yaml:"queue_capacity"`
	BatchSize      int           `yaml:"batch_size"`
	UploadInterval time.Duration `yaml:"upload_interval"`
	PollTick       time.Duration `yaml:"poll_tick"`
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
}
