package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/syssam/tracker/privacy"
	"github.com/syssam/tracker/update"
)

// options holds the session configuration.
type options struct {
	maxBatch      int
	log           *slog.Logger
	autoDetect    bool
	cascade       bool
	orphans       bool
	retry         []retry.Option
	batchRetry    []retry.Option
	stats         *update.BatchStats
	slowThreshold time.Duration
	policy        privacy.Policy
}

func defaultOptions() *options {
	return &options{
		maxBatch:   update.DefaultMaxBatchSize,
		log:        slog.Default(),
		autoDetect: true,
		cascade:    true,
	}
}

// Option configures a Session.
type Option func(*options) error

// WithMaxBatchSize caps the number of commands sent in one batch.
func WithMaxBatchSize(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("session: max batch size must be positive, got %d", n)
		}
		o.maxBatch = n
		return nil
	}
}

// WithLogger sets the logger of the session and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		if l == nil {
			return errors.New("session: nil logger")
		}
		o.log = l
		return nil
	}
}

// WithAutoDetectChanges controls whether Entries, HasChanges and
// SaveChanges run change detection first. Enabled by default.
func WithAutoDetectChanges(enabled bool) Option {
	return func(o *options) error {
		o.autoDetect = enabled
		return nil
	}
}

// WithCascadeDeletes controls whether deleting a principal deletes its
// cascade dependents. Enabled by default.
func WithCascadeDeletes(enabled bool) Option {
	return func(o *options) error {
		o.cascade = enabled
		return nil
	}
}

// WithDeleteOrphans makes severing a required cascade relationship delete
// the dependent.
func WithDeleteOrphans(enabled bool) Option {
	return func(o *options) error {
		o.orphans = enabled
		return nil
	}
}

// WithRetry sets the execution strategy of SaveChanges. A failed save is
// run again from fresh change detection, so batches committed by earlier
// attempts are not repeated. Logical failures are never retried.
func WithRetry(opts ...retry.Option) Option {
	return func(o *options) error {
		o.retry = append(o.retry, opts...)
		return nil
	}
}

// WithBatchRetry re-sends single batches that failed before any command
// took effect.
func WithBatchRetry(opts ...retry.Option) Option {
	return func(o *options) error {
		o.batchRetry = append(o.batchRetry, opts...)
		return nil
	}
}

// WithStats records batch statistics into stats.
func WithStats(stats *update.BatchStats) Option {
	return func(o *options) error {
		if stats == nil {
			return errors.New("session: nil stats")
		}
		o.stats = stats
		return nil
	}
}

// WithSlowBatchThreshold logs batches slower than d. Zero keeps the
// default threshold.
func WithSlowBatchThreshold(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return fmt.Errorf("session: negative slow batch threshold %s", d)
		}
		o.slowThreshold = d
		return nil
	}
}

// WithPolicy evaluates policy over every pending entry before a save
// sends its first batch. A denial fails the save and is never retried.
func WithPolicy(policy privacy.Policy) Option {
	return func(o *options) error {
		o.policy = append(o.policy, policy...)
		return nil
	}
}

// WithConfig applies a loaded configuration.
func WithConfig(cfg *Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return nil
		}
		for _, opt := range cfg.Options() {
			if err := opt(o); err != nil {
				return err
			}
		}
		return nil
	}
}
