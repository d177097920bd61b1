package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
	"github.com/syssam/tracker/privacy"
	"github.com/syssam/tracker/session"
	"github.com/syssam/tracker/update"
)

func shopModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Build(
		model.Type("Customer").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.String("Name"),
			),
		model.Type("Order").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.Int64("CustomerID"),
			).
			Edges(model.From("Customer", "Customer").Field("CustomerID").Ref("Orders").OnDelete(model.Cascade)),
	)
	require.NoError(t, err)
	return m
}

// store hands out sequential keys. fail, when set, decides the error of
// each call; rows overrides the affected row count of non-insert commands.
type store struct {
	calls int
	next  int64
	fail  func(call int) error
	rows  *int64
}

func (s *store) ExecuteBatch(_ context.Context, b *update.Batch) ([]update.Result, error) {
	s.calls++
	if s.fail != nil {
		if err := s.fail(s.calls); err != nil {
			return nil, err
		}
	}
	out := make([]update.Result, 0, len(b.Commands))
	for _, c := range b.Commands {
		r := update.Result{RowsAffected: 1, Values: map[string]any{}}
		if c.Operation != update.Insert && s.rows != nil {
			r.RowsAffected = *s.rows
		}
		for _, cm := range c.Reads() {
			s.next++
			r.Values[cm.Column] = s.next
		}
		out = append(out, r)
	}
	return out, nil
}

func TestNewOptions(t *testing.T) {
	t.Parallel()
	m := shopModel(t)
	tests := []struct {
		name string
		opt  session.Option
	}{
		{"zero batch", session.WithMaxBatchSize(0)},
		{"nil logger", session.WithLogger(nil)},
		{"nil stats", session.WithStats(nil)},
		{"negative threshold", session.WithSlowBatchThreshold(-time.Second)},
		{"config", session.WithConfig(&session.Config{MaxBatchSize: -1})},
	}
	for _, tt := range tests {
		_, err := session.New(m, &store{}, tt.opt)
		assert.Error(t, err, tt.name)
	}
	s, err := session.New(m, &store{}, session.WithConfig(nil))
	require.NoError(t, err)
	assert.Same(t, m, s.Model())
}

func TestSaveChanges(t *testing.T) {
	t.Parallel()
	stats := &update.BatchStats{}
	s, err := session.New(shopModel(t), &store{}, session.WithStats(stats))
	require.NoError(t, err)

	c, err := s.Add(model.NewBag("Customer", map[string]any{"Name": "ada"}))
	require.NoError(t, err)
	o, err := s.Add(model.NewBag("Order", nil))
	require.NoError(t, err)
	require.NoError(t, o.SetReference("Customer", c))
	has, err := s.HasChanges()
	require.NoError(t, err)
	assert.True(t, has)

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []any{int64(1)}, c.KeyValues())
	v, err := o.Value("CustomerID")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	has, err = s.HasChanges()
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, int64(2), stats.Batches.Load())
	assert.Same(t, stats, s.Stats())

	found, ok, err := s.Find("Customer", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, c, found)
	entry, ok, err := s.Entry(c.Entity())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, c, entry)
	view, err := s.DebugView()
	require.NoError(t, err)
	assert.Contains(t, view, "Customer(1) Unchanged")
}

func TestAutoDetectChanges(t *testing.T) {
	t.Parallel()
	s, err := session.New(shopModel(t), &store{})
	require.NoError(t, err)
	bag := model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "ada"})
	_, err = s.Attach(bag)
	require.NoError(t, err)

	bag.Set("Name", "grace")
	err = s.WithoutAutoDetectChanges(func() error {
		n, err := s.ChangedCount()
		require.NoError(t, err)
		assert.Zero(t, n, "detection is off inside the scope")
		return nil
	})
	require.NoError(t, err)

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tracker.Modified, entries[0].State())

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAutoDetectDisabled(t *testing.T) {
	t.Parallel()
	s, err := session.New(shopModel(t), &store{}, session.WithAutoDetectChanges(false))
	require.NoError(t, err)
	bag := model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "ada"})
	e, err := s.Attach(bag)
	require.NoError(t, err)
	bag.Set("Name", "grace")

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.DetectChanges())
	assert.Equal(t, tracker.Modified, e.State())
	n, err = s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveChangesRetry(t *testing.T) {
	t.Parallel()
	st := &store{fail: func(call int) error {
		if call == 2 {
			return errors.New("connection reset")
		}
		return nil
	}}
	s, err := session.New(shopModel(t), st,
		session.WithMaxBatchSize(1),
		session.WithRetry(retry.Attempts(3), retry.Delay(time.Millisecond)),
	)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Add(model.NewBag("Customer", map[string]any{"Name": name}))
		require.NoError(t, err)
	}

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n, "rows of every attempt are counted")
	assert.Equal(t, 4, st.calls, "the second attempt resumes after the committed batch")
	cnt, err := s.ChangedCount()
	require.NoError(t, err)
	assert.Zero(t, cnt)
}

func TestSaveChangesNoRetryOnConflict(t *testing.T) {
	t.Parallel()
	zero := int64(0)
	st := &store{rows: &zero}
	s, err := session.New(shopModel(t), st, session.WithRetry(retry.Attempts(5), retry.Delay(time.Millisecond)))
	require.NoError(t, err)
	e, err := s.Attach(model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "ada"}))
	require.NoError(t, err)
	require.NoError(t, e.SetValue("Name", "grace"))

	_, err = s.SaveChanges(context.Background())
	require.Error(t, err)
	assert.True(t, tracker.IsConcurrencyError(err))
	assert.Equal(t, 1, st.calls)
	assert.Equal(t, tracker.Modified, e.State())
}

func TestSaveChangesAsync(t *testing.T) {
	t.Parallel()
	s, err := session.New(shopModel(t), &store{})
	require.NoError(t, err)
	_, err = s.Add(model.NewBag("Customer", map[string]any{"Name": "ada"}))
	require.NoError(t, err)

	res := <-s.SaveChangesAsync(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Rows)
}

func TestReadsDuringSave(t *testing.T) {
	t.Parallel()
	entered, release := make(chan struct{}), make(chan struct{})
	slow := update.StoreExecutorFunc(func(_ context.Context, b *update.Batch) ([]update.Result, error) {
		close(entered)
		<-release
		return []update.Result{{RowsAffected: 1, Values: map[string]any{"id": int64(1)}}}, nil
	})
	s, err := session.New(shopModel(t), slow)
	require.NoError(t, err)
	c, err := s.Add(model.NewBag("Customer", map[string]any{"Name": "ada"}))
	require.NoError(t, err)

	done := s.SaveChangesAsync(context.Background())
	<-entered
	_, _, err = s.Find("Customer", int64(1))
	assert.ErrorIs(t, err, tracker.ErrConcurrentAccess)
	_, _, err = s.Entry(c.Entity())
	assert.ErrorIs(t, err, tracker.ErrConcurrentAccess)
	_, err = s.Entries()
	assert.ErrorIs(t, err, tracker.ErrConcurrentAccess)
	_, err = s.ChangedCount()
	assert.ErrorIs(t, err, tracker.ErrConcurrentAccess)
	_, err = s.HasChanges()
	assert.ErrorIs(t, err, tracker.ErrConcurrentAccess)
	_, err = s.DebugView()
	assert.ErrorIs(t, err, tracker.ErrConcurrentAccess)
	close(release)

	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Rows)
	found, ok, err := s.Find("Customer", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, c, found)
}

func TestCascadeAndClose(t *testing.T) {
	t.Parallel()
	s, err := session.New(shopModel(t), &store{})
	require.NoError(t, err)
	c, err := s.Attach(model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "ada"}))
	require.NoError(t, err)
	o, err := s.Attach(model.NewBag("Order", map[string]any{"ID": int64(2), "CustomerID": int64(1)}))
	require.NoError(t, err)

	_, err = s.Remove(c.Entity())
	require.NoError(t, err)
	assert.Equal(t, tracker.Deleted, o.State())

	require.NoError(t, s.Close())
	entries, err := s.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCascadeDisabled(t *testing.T) {
	t.Parallel()
	s, err := session.New(shopModel(t), &store{}, session.WithCascadeDeletes(false))
	require.NoError(t, err)
	c, err := s.Attach(model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "ada"}))
	require.NoError(t, err)
	o, err := s.Attach(model.NewBag("Order", map[string]any{"ID": int64(2), "CustomerID": int64(1)}))
	require.NoError(t, err)
	require.NoError(t, c.SetState(tracker.Deleted))
	assert.Equal(t, tracker.Unchanged, o.State())
}

func TestConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_batch_size: 1
auto_detect_changes: false
cascade_deletes: false
delete_orphans: true
slow_batch_threshold: 250ms
retry:
  attempts: 3
  delay: 10ms
  max_delay: 1s
`), 0o600))

	cfg, err := session.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxBatchSize)
	require.NotNil(t, cfg.AutoDetectChanges)
	assert.False(t, *cfg.AutoDetectChanges)
	require.NotNil(t, cfg.CascadeDeletes)
	assert.False(t, *cfg.CascadeDeletes)
	assert.True(t, cfg.DeleteOrphans)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowBatchThreshold)
	assert.Equal(t, session.RetryConfig{Attempts: 3, Delay: 10 * time.Millisecond, MaxDelay: time.Second}, cfg.Retry)
	assert.Len(t, cfg.Options(), 6)

	st := &store{}
	s, err := session.New(shopModel(t), st, session.WithConfig(cfg))
	require.NoError(t, err)
	for range 2 {
		_, err := s.Add(model.NewBag("Customer", map[string]any{"Name": "x"}))
		require.NoError(t, err)
	}
	_, err = s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.calls, "one command per batch")
}

func TestParseConfig(t *testing.T) {
	t.Parallel()
	cfg, err := session.ParseConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Options())

	_, err = session.ParseConfig([]byte("max_batch: 3\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = session.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveChangesPolicy(t *testing.T) {
	t.Parallel()
	st := &store{}
	s, err := session.New(shopModel(t), st,
		session.WithRetry(retry.Attempts(3), retry.Delay(time.Millisecond)),
		session.WithPolicy(privacy.Policy{
			privacy.HasRole("admin"),
			privacy.DenyStateRule(tracker.Deleted),
		}),
	)
	require.NoError(t, err)
	c, err := s.Attach(model.NewBag("Customer", map[string]any{"ID": int64(1), "Name": "ada"}))
	require.NoError(t, err)
	require.NoError(t, c.SetState(tracker.Deleted))

	_, err = s.SaveChanges(context.Background())
	require.Error(t, err)
	assert.True(t, privacy.IsDenied(err))
	assert.Zero(t, st.calls, "denied saves send nothing and are not retried")

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"admin"}})
	n, err := s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
