package update

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatchStats holds batch execution statistics.
type BatchStats struct {
	// Batches is the number of batches sent to the store.
	Batches atomic.Int64
	// Commands is the number of commands in those batches.
	Commands atomic.Int64
	// Rows is the number of rows affected.
	Rows atomic.Int64
	// Duration is the total time spent in the store.
	Duration atomic.Int64 // nanoseconds
	// SlowBatches is the count of batches exceeding the slow threshold.
	SlowBatches atomic.Int64
	// Errors is the count of failed batches.
	Errors atomic.Int64
	// Conflicts is the count of updates and deletes that affected no rows.
	Conflicts atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *BatchStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		Batches:     s.Batches.Load(),
		Commands:    s.Commands.Load(),
		Rows:        s.Rows.Load(),
		Duration:    time.Duration(s.Duration.Load()),
		SlowBatches: s.SlowBatches.Load(),
		Errors:      s.Errors.Load(),
		Conflicts:   s.Conflicts.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *BatchStats) Reset() {
	s.Batches.Store(0)
	s.Commands.Store(0)
	s.Rows.Store(0)
	s.Duration.Store(0)
	s.SlowBatches.Store(0)
	s.Errors.Store(0)
	s.Conflicts.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of batch statistics.
type StatsSnapshot struct {
	Batches     int64
	Commands    int64
	Rows        int64
	Duration    time.Duration
	SlowBatches int64
	Errors      int64
	Conflicts   int64
}

// AvgBatchDuration returns the average batch duration.
func (s StatsSnapshot) AvgBatchDuration() time.Duration {
	if s.Batches == 0 {
		return 0
	}
	return s.Duration / time.Duration(s.Batches)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"batches=%d commands=%d rows=%d duration=%s avg=%s slow=%d errors=%d conflicts=%d",
		s.Batches, s.Commands, s.Rows, s.Duration, s.AvgBatchDuration(),
		s.SlowBatches, s.Errors, s.Conflicts,
	)
}

// SlowBatchHook is called when a batch exceeds the slow threshold.
type SlowBatchHook func(ctx context.Context, b *Batch, duration time.Duration)

// StatsExecutor wraps a StoreExecutor with statistics collection.
type StatsExecutor struct {
	StoreExecutor
	stats         *BatchStats
	slowThreshold time.Duration
	slowHook      SlowBatchHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsExecutor.
type StatsOption func(*StatsExecutor)

// WithSlowThreshold sets the threshold for slow batch detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsExecutor) {
		s.slowThreshold = d
	}
}

// WithSlowBatchHook sets a callback for slow batches.
func WithSlowBatchHook(hook SlowBatchHook) StatsOption {
	return func(s *StatsExecutor) {
		s.slowHook = hook
	}
}

// WithSlowBatchLog logs slow batches to l, or the default logger when l
// is nil.
func WithSlowBatchLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowBatchHook(func(ctx context.Context, b *Batch, duration time.Duration) {
		l.WarnContext(ctx, "slow batch detected", "duration", duration,
			"table", b.Table, "operation", b.Operation, "commands", len(b.Commands))
	})
}

// WithStats shares an existing BatchStats, e.g. one exported through a
// Collector.
func WithStats(stats *BatchStats) StatsOption {
	return func(s *StatsExecutor) {
		if stats != nil {
			s.stats = stats
		}
	}
}

// NewStatsExecutor wraps store with statistics collection.
//
//	exec := update.NewStatsExecutor(drv,
//	    update.WithSlowThreshold(200*time.Millisecond),
//	    update.WithSlowBatchLog(nil),
//	)
//	fmt.Println(exec.BatchStats().Stats())
func NewStatsExecutor(store StoreExecutor, opts ...StatsOption) *StatsExecutor {
	s := &StatsExecutor{
		StoreExecutor: store,
		stats:         &BatchStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchStats returns the underlying statistics.
func (x *StatsExecutor) BatchStats() *BatchStats {
	return x.stats
}

// SlowThreshold returns the current slow batch threshold.
func (x *StatsExecutor) SlowThreshold() time.Duration {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.slowThreshold
}

// SetSlowThreshold updates the slow batch threshold.
func (x *StatsExecutor) SetSlowThreshold(threshold time.Duration) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.slowThreshold = threshold
}

// ExecuteBatch executes the batch and records statistics.
func (x *StatsExecutor) ExecuteBatch(ctx context.Context, b *Batch) ([]Result, error) {
	start := time.Now()
	results, err := x.StoreExecutor.ExecuteBatch(ctx, b)
	x.record(ctx, b, results, start, err)
	return results, err
}

func (x *StatsExecutor) record(ctx context.Context, b *Batch, results []Result, start time.Time, err error) {
	duration := time.Since(start)
	x.stats.Batches.Add(1)
	x.stats.Commands.Add(int64(len(b.Commands)))
	x.stats.Duration.Add(int64(duration))
	for i, r := range results {
		x.stats.Rows.Add(r.RowsAffected)
		if i < len(b.Commands) && b.Commands[i].Operation != Insert && r.RowsAffected == 0 {
			x.stats.Conflicts.Add(1)
		}
	}
	if err != nil {
		x.stats.Errors.Add(1)
	}

	x.mu.RLock()
	threshold := x.slowThreshold
	hook := x.slowHook
	x.mu.RUnlock()

	if duration > threshold {
		x.stats.SlowBatches.Add(1)
		if hook != nil {
			hook(ctx, b, duration)
		}
	}
}

// DebugExecutor wraps a StoreExecutor with debug logging.
type DebugExecutor struct {
	StoreExecutor
	log func(context.Context, ...any)
}

// DebugOption configures the DebugExecutor.
type DebugOption func(*DebugExecutor)

// DebugWithLog sets a custom log function.
func DebugWithLog(logFunc func(context.Context, ...any)) DebugOption {
	return func(d *DebugExecutor) {
		d.log = logFunc
	}
}

// NewDebugExecutor wraps store with debug logging of every batch.
func NewDebugExecutor(store StoreExecutor, opts ...DebugOption) *DebugExecutor {
	d := &DebugExecutor{
		StoreExecutor: store,
		log: func(ctx context.Context, v ...any) {
			slog.DebugContext(ctx, fmt.Sprint(v...))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExecuteBatch logs the batch and executes it.
func (d *DebugExecutor) ExecuteBatch(ctx context.Context, b *Batch) ([]Result, error) {
	d.log(ctx, fmt.Sprintf("batch: %s %s commands: %v", b.Operation, b.Table, b.Commands))
	results, err := d.StoreExecutor.ExecuteBatch(ctx, b)
	if err != nil {
		d.log(ctx, fmt.Sprintf("batch failed after %d results: %v", len(results), err))
	}
	return results, err
}

var (
	_ StoreExecutor = (*StatsExecutor)(nil)
	_ StoreExecutor = (*DebugExecutor)(nil)
)
