// Package session is the unit-of-work facade over the tracker: it tracks
// entities, detects their changes and saves them through a store executor.
//
//	s, err := session.New(m, sql.OpenDB(dialect.Postgres, db))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if _, err := s.Add(&Customer{Name: "ada"}); err != nil {
//		return err
//	}
//	n, err := s.SaveChanges(ctx)
package session

import (
	"context"
	"log/slog"

	"github.com/avast/retry-go/v4"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
	"github.com/syssam/tracker/privacy"
	"github.com/syssam/tracker/tracking"
	"github.com/syssam/tracker/update"
)

// Session tracks a graph of entities and saves their changes. A session
// is not safe for concurrent use; overlapping operations fail with
// tracker.ErrConcurrentAccess.
type Session struct {
	state      *tracking.StateManager
	pipeline   *update.Pipeline
	stats      *update.StatsExecutor
	log        *slog.Logger
	autoDetect bool
	retry      []retry.Option
	policy     privacy.Policy
}

// SaveResult is the outcome of SaveChangesAsync.
type SaveResult struct {
	Rows int
	Err  error
}

// New returns a session over the model m that saves through store.
func New(m *model.Model, store update.StoreExecutor, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	statsOpts := []update.StatsOption{update.WithSlowBatchLog(o.log)}
	if o.stats != nil {
		statsOpts = append(statsOpts, update.WithStats(o.stats))
	}
	if o.slowThreshold > 0 {
		statsOpts = append(statsOpts, update.WithSlowThreshold(o.slowThreshold))
	}
	stats := update.NewStatsExecutor(store, statsOpts...)
	return &Session{
		state: tracking.NewStateManager(m,
			tracking.WithLogger(o.log),
			tracking.WithCascadeDeletes(o.cascade),
			tracking.WithDeleteOrphans(o.orphans),
		),
		pipeline: update.NewPipeline(stats,
			update.WithMaxBatchSize(o.maxBatch),
			update.WithLogger(o.log),
			update.WithBatchRetry(o.batchRetry...),
		),
		stats:      stats,
		log:        o.log,
		autoDetect: o.autoDetect,
		retry:      o.retry,
		policy:     o.policy,
	}, nil
}

// Model returns the model of the session.
func (s *Session) Model() *model.Model { return s.state.Model() }

// Tracker returns the underlying state manager.
func (s *Session) Tracker() *tracking.StateManager { return s.state }

// Stats returns the batch statistics of the session.
func (s *Session) Stats() *update.BatchStats { return s.stats.BatchStats() }

// Add begins tracking entity as Added. Related entities reachable through
// navigations are not traversed; add them individually.
func (s *Session) Add(entity any) (*tracking.Entry, error) { return s.state.Add(entity) }

// Attach begins tracking entity as Unchanged, or Added when its generated
// key is unset.
func (s *Session) Attach(entity any) (*tracking.Entry, error) { return s.state.Attach(entity) }

// Update begins tracking entity as Modified with every non-key property
// marked.
func (s *Session) Update(entity any) (*tracking.Entry, error) { return s.state.Update(entity) }

// Remove marks entity Deleted. Added entities are detached instead.
func (s *Session) Remove(entity any) (*tracking.Entry, error) { return s.state.Remove(entity) }

// Detach stops tracking entity.
func (s *Session) Detach(entity any) error { return s.state.Detach(entity) }

// Entry returns the entry tracking entity.
func (s *Session) Entry(entity any) (e *tracking.Entry, ok bool, err error) {
	err = s.state.Read(false, func() error {
		e, ok = s.state.Entry(entity)
		return nil
	})
	return e, ok, err
}

// Find returns the tracked entity of the named type with the given key.
// Deleted entities are not found.
func (s *Session) Find(typeName string, key ...any) (e *tracking.Entry, ok bool, err error) {
	err = s.state.Read(false, func() error {
		e, ok = s.state.Find(typeName, key...)
		return nil
	})
	return e, ok, err
}

// Entries returns every tracked entry, detecting changes first when
// automatic detection is enabled.
func (s *Session) Entries() (entries []*tracking.Entry, err error) {
	err = s.state.Read(s.autoDetect, func() error {
		entries = s.state.Entries()
		return nil
	})
	return entries, err
}

// DetectChanges compares every snapshot-tracked entity with its original
// values.
func (s *Session) DetectChanges() error { return s.state.DetectChanges() }

// HasChanges reports whether any entry is Added, Modified or Deleted.
func (s *Session) HasChanges() (bool, error) {
	n, err := s.ChangedCount()
	return n > 0, err
}

// ChangedCount returns the number of Added, Modified and Deleted entries.
func (s *Session) ChangedCount() (n int, err error) {
	err = s.state.Read(s.autoDetect, func() error {
		n = s.state.ChangedCount()
		return nil
	})
	return n, err
}

// WithoutAutoDetectChanges runs fn with automatic change detection
// disabled. Changes made to snapshot-tracked entities inside fn are only
// seen after an explicit DetectChanges or once fn returns.
func (s *Session) WithoutAutoDetectChanges(fn func() error) error {
	prev := s.autoDetect
	s.autoDetect = false
	defer func() { s.autoDetect = prev }()
	return fn()
}

// SaveChanges saves every pending change and returns the number of rows
// the store reported as affected. Batches are committed one by one; on
// failure, entries saved by earlier batches are accepted and the others
// keep their state so the save can be repeated.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	if len(s.retry) == 0 {
		return s.save(ctx)
	}
	var rows int
	opts := append([]retry.Option{
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !tracker.IsLogical(err) && !privacy.IsDenied(err) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			s.log.WarnContext(ctx, "retrying save", "attempt", n+1, "rows", rows, "error", err)
		}),
	}, s.retry...)
	err := retry.Do(func() error {
		n, err := s.save(ctx)
		rows += n
		return err
	}, opts...)
	return rows, err
}

func (s *Session) save(ctx context.Context) (int, error) {
	if len(s.policy) > 0 {
		err := s.state.Read(s.autoDetect, func() error {
			return s.policy.Evaluate(ctx, s.state.Entries())
		})
		if err != nil {
			return 0, err
		}
	}
	return s.pipeline.Save(ctx, s.state, s.autoDetect)
}

// SaveChangesAsync runs SaveChanges in a new goroutine. Until the result
// is received, other calls on the session may fail with
// tracker.ErrConcurrentAccess.
func (s *Session) SaveChangesAsync(ctx context.Context) <-chan SaveResult {
	ch := make(chan SaveResult, 1)
	go func() {
		defer close(ch)
		n, err := s.SaveChanges(ctx)
		ch <- SaveResult{Rows: n, Err: err}
	}()
	return ch
}

// DebugView returns a textual dump of the tracked entries.
func (s *Session) DebugView() (view string, err error) {
	err = s.state.Read(false, func() error {
		view = s.state.DebugView()
		return nil
	})
	return view, err
}

// Close stops tracking every entity.
func (s *Session) Close() error { return s.state.Clear() }
