package update

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/syssam/tracker/tracking"
)

// Pipeline saves the pending changes of a state manager.
type Pipeline struct {
	store    StoreExecutor
	maxBatch int
	log      *slog.Logger
	retry    []retry.Option
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxBatchSize caps the commands per batch.
func WithMaxBatchSize(n int) Option {
	return func(p *Pipeline) {
		p.maxBatch = n
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithBatchRetry re-sends batches that fail before any of their commands
// took effect.
func WithBatchRetry(opts ...retry.Option) Option {
	return func(p *Pipeline) {
		p.retry = append(p.retry, opts...)
	}
}

// NewPipeline returns a pipeline executing through store.
func NewPipeline(store StoreExecutor, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		maxBatch: DefaultMaxBatchSize,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Save sorts, batches and executes the pending changes of m and returns
// the number of rows affected. Batches run strictly in order and the
// context is checked between them. When a batch fails, entries saved by
// earlier batches stay accepted and the rest keep their pending state.
func (p *Pipeline) Save(ctx context.Context, m *tracking.StateManager, detect bool) (int, error) {
	scope, err := m.BeginSave(detect)
	if err != nil {
		return 0, err
	}
	defer scope.End()

	pending := scope.Entries()
	if len(pending) == 0 {
		return 0, nil
	}
	g := NewDependencyGraph(pending)
	sorted, err := g.Sort()
	if err != nil {
		return 0, err
	}
	batches, unchanged := BatchBuilder{MaxBatchSize: p.maxBatch}.Build(g, sorted)

	var (
		start = time.Now()
		exec  = NewBatchExecutor(p.store, p.log, p.retry...)
		prop  = NewPropagator(scope)
		rows  int64
	)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return int(rows), err
		}
		p.log.DebugContext(ctx, "executing batch", "batch", i+1, "of", len(batches),
			"table", b.Table, "operation", b.Operation, "commands", len(b.Commands))
		results, err := exec.Execute(ctx, b)
		if err != nil {
			return int(rows), err
		}
		for j, c := range b.Commands {
			rows += results[j].RowsAffected
			if err := prop.Propagate(c, results[j]); err != nil {
				return int(rows), err
			}
		}
	}
	for _, e := range unchanged {
		scope.Accept(e)
	}
	p.log.InfoContext(ctx, "changes saved", "entries", len(pending), "batches", len(batches),
		"rows", rows, "duration", time.Since(start))
	return int(rows), nil
}
