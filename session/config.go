package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the session options.
//
//	max_batch_size: 100
//	auto_detect_changes: true
//	cascade_deletes: true
//	delete_orphans: false
//	slow_batch_threshold: 250ms
//	retry:
//	  attempts: 3
//	  delay: 100ms
//	  max_delay: 1s
type Config struct {
	MaxBatchSize       int           `yaml:"max_batch_size"`
	AutoDetectChanges  *bool         `yaml:"auto_detect_changes"`
	CascadeDeletes     *bool         `yaml:"cascade_deletes"`
	DeleteOrphans      bool          `yaml:"delete_orphans"`
	SlowBatchThreshold time.Duration `yaml:"slow_batch_threshold"`
	Retry              RetryConfig   `yaml:"retry"`
}

// RetryConfig configures the execution strategy of SaveChanges.
type RetryConfig struct {
	Attempts uint          `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("session: parse config: %w", err)
	}
	return &cfg, nil
}

// Options returns the session options the configuration sets.
func (c *Config) Options() []Option {
	var opts []Option
	if c.MaxBatchSize != 0 {
		opts = append(opts, WithMaxBatchSize(c.MaxBatchSize))
	}
	if c.AutoDetectChanges != nil {
		opts = append(opts, WithAutoDetectChanges(*c.AutoDetectChanges))
	}
	if c.CascadeDeletes != nil {
		opts = append(opts, WithCascadeDeletes(*c.CascadeDeletes))
	}
	if c.DeleteOrphans {
		opts = append(opts, WithDeleteOrphans(true))
	}
	if c.SlowBatchThreshold != 0 {
		opts = append(opts, WithSlowBatchThreshold(c.SlowBatchThreshold))
	}
	if c.Retry.Attempts > 1 {
		r := []retry.Option{
			retry.Attempts(c.Retry.Attempts),
			retry.DelayType(retry.BackOffDelay),
		}
		if c.Retry.Delay > 0 {
			r = append(r, retry.Delay(c.Retry.Delay))
		}
		if c.Retry.MaxDelay > 0 {
			r = append(r, retry.MaxDelay(c.Retry.MaxDelay))
		}
		opts = append(opts, WithRetry(r...))
	}
	return opts
}
