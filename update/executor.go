package update

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go/v4"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/tracking"
)

// Result is the outcome of one command.
type Result struct {
	// RowsAffected is the number of rows the command touched.
	RowsAffected int64
	// Values holds the columns the store returned, keyed by column name.
	Values map[string]any
}

// StoreExecutor sends batches to a store. For a fully successful batch it
// returns one result per command; a shorter result slice marks the command
// that failed. Executors stop at the first Update or Delete that affects
// no rows and return the results up to and including it.
type StoreExecutor interface {
	ExecuteBatch(ctx context.Context, b *Batch) ([]Result, error)
}

// StoreExecutorFunc adapts a function to StoreExecutor.
type StoreExecutorFunc func(ctx context.Context, b *Batch) ([]Result, error)

// ExecuteBatch calls f(ctx, b).
func (f StoreExecutorFunc) ExecuteBatch(ctx context.Context, b *Batch) ([]Result, error) {
	return f(ctx, b)
}

// BatchExecutor executes batches and turns store outcomes into tracker
// errors. Update and Delete commands that affect no rows are concurrency
// conflicts. Conflicts are never retried.
type BatchExecutor struct {
	store StoreExecutor
	retry []retry.Option
	log   *slog.Logger
}

// NewBatchExecutor returns an executor over store. Retry options, when
// given, re-send a batch that failed before any command took effect.
func NewBatchExecutor(store StoreExecutor, log *slog.Logger, opts ...retry.Option) *BatchExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &BatchExecutor{store: store, retry: opts, log: log}
}

// Execute binds and sends the batch and validates the results.
func (x *BatchExecutor) Execute(ctx context.Context, b *Batch) ([]Result, error) {
	for _, c := range b.Commands {
		c.Bind()
	}
	results, err := x.send(ctx, b)
	for i := range min(len(results), len(b.Commands)) {
		c := b.Commands[i]
		if c.Operation != Insert && results[i].RowsAffected == 0 {
			return results[:i], tracker.NewConcurrencyError(1, 0, c.Entry)
		}
	}
	switch {
	case err != nil:
		if tracker.IsLogical(err) && !tracker.IsConstraintError(err) {
			return results, err
		}
		if len(results) < len(b.Commands) {
			return results, tracker.NewUpdateError(err, b.Commands[len(results)].Entry)
		}
		return results, tracker.NewUpdateError(err)
	case len(results) != len(b.Commands):
		failed := b.Entries()
		if len(results) < len(b.Commands) {
			failed = failed[len(results) : len(results)+1]
		}
		return results, tracker.NewUpdateError(
			fmt.Errorf("store returned %d results for %d commands", len(results), len(b.Commands)),
			entries(failed)...,
		)
	}
	return results, nil
}

func (x *BatchExecutor) send(ctx context.Context, b *Batch) ([]Result, error) {
	if len(x.retry) == 0 {
		return x.store.ExecuteBatch(ctx, b)
	}
	var results []Result
	opts := append([]retry.Option{
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return len(results) == 0 && !tracker.IsLogical(err) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			x.log.Warn("retrying batch", "attempt", n+1, "table", b.Table, "operation", b.Operation, "error", err)
		}),
	}, x.retry...)
	err := retry.Do(func() error {
		var err error
		results, err = x.store.ExecuteBatch(ctx, b)
		return err
	}, opts...)
	return results, err
}

func entries(es []*tracking.Entry) []tracker.Entry {
	out := make([]tracker.Entry, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}
