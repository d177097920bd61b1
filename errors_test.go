package tracker_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/tracker"
)

type fakeEntry struct {
	typ   string
	state tracker.State
	keys  []any
}

func (f fakeEntry) Entity() any { return f }
func (f fakeEntry) TypeName() string { return f.typ }
func (f fakeEntry) State() tracker.State { return f.state }
func (f fakeEntry) KeyValues() []any { return f.keys }

func TestStateString(t *testing.T) {
	assert.Equal(t, "Detached", tracker.Detached.String())
	assert.Equal(t, "Unchanged", tracker.Unchanged.String())
	assert.Equal(t, "Added", tracker.Added.String())
	assert.Equal(t, "Modified", tracker.Modified.String())
	assert.Equal(t, "Deleted", tracker.Deleted.String())
	assert.Equal(t, "State(9)", tracker.State(9).String())
	assert.False(t, tracker.State(9).IsValid())
}

func TestFormatEntry(t *testing.T) {
	assert.Equal(t, "Customer(42)", tracker.FormatEntry(fakeEntry{typ: "Customer", keys: []any{42}}))
	assert.Equal(t, "Line(1, 2)", tracker.FormatEntry(fakeEntry{typ: "Line", keys: []any{1, 2}}))
	assert.Equal(t, "<nil>", tracker.FormatEntry(nil))
}

func TestInvalidOperationError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := tracker.NewInvalidOperationError(fakeEntry{typ: "Order", keys: []any{7}}, "entry is %s", tracker.Detached)
		assert.Equal(t, "tracker: invalid operation on Order(7): entry is Detached", err.Error())

		err = tracker.NewInvalidOperationError(nil, "no entry")
		assert.Equal(t, "tracker: invalid operation: no entry", err.Error())
	})

	t.Run("IsInvalidOperation", func(t *testing.T) {
		err := tracker.NewInvalidOperationError(nil, "boom")
		assert.True(t, errors.Is(err, tracker.ErrInvalidOperation))
		assert.True(t, tracker.IsInvalidOperation(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, tracker.IsInvalidOperation(tracker.ErrInvalidOperation))
		assert.False(t, tracker.IsInvalidOperation(errors.New("other error")))
		assert.False(t, tracker.IsInvalidOperation(nil))
	})
}

func TestConcurrencyError(t *testing.T) {
	e := fakeEntry{typ: "Customer", keys: []any{1}, state: tracker.Modified}
	err := tracker.NewConcurrencyError(1, 0, e)
	assert.Equal(t, "tracker: concurrency conflict: expected 1 row(s) affected but got 0 for Customer(1)", err.Error())
	assert.True(t, errors.Is(err, tracker.ErrConcurrencyConflict))
	assert.True(t, tracker.IsConcurrencyError(fmt.Errorf("save: %w", err)))
	assert.False(t, tracker.IsConcurrencyError(nil))
	assert.Len(t, err.Entries, 1)
}

func TestCycleError(t *testing.T) {
	err := tracker.NewCycleError(fakeEntry{typ: "A", keys: []any{-1}}, fakeEntry{typ: "B", keys: []any{-2}})
	assert.Contains(t, err.Error(), "A(-1), B(-2)")
	assert.True(t, errors.Is(err, tracker.ErrDependencyCycle))
	assert.True(t, tracker.IsCycleError(err))
	assert.False(t, tracker.IsCycleError(errors.New("x")))
}

func TestUpdateError(t *testing.T) {
	cause := errors.New("connection reset")
	err := tracker.NewUpdateError(cause, fakeEntry{typ: "Order", keys: []any{3}})
	assert.Equal(t, "tracker: update failed for Order(3): connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, tracker.ErrUpdate)
	assert.True(t, tracker.IsUpdateError(fmt.Errorf("x: %w", err)))

	bare := tracker.NewUpdateError(cause)
	assert.Equal(t, "tracker: update failed: connection reset", bare.Error())
}

func TestConstraintError(t *testing.T) {
	cause := errors.New("FOREIGN KEY constraint failed")
	err := tracker.NewConstraintError("insert orders", cause)
	assert.Equal(t, "tracker: constraint failed: insert orders", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, tracker.IsConstraintError(tracker.NewUpdateError(err)))
	assert.False(t, tracker.IsConstraintError(cause))
}

func TestRollbackError(t *testing.T) {
	cause := errors.New("tx done")
	err := &tracker.RollbackError{Err: cause}
	assert.Equal(t, "tracker: rollback failed: tx done", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestIsLogical(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid", tracker.NewInvalidOperationError(nil, "x"), true},
		{"conflict", tracker.NewConcurrencyError(1, 0), true},
		{"cycle", tracker.NewCycleError(), true},
		{"constraint", tracker.NewUpdateError(tracker.NewConstraintError("x", nil)), true},
		{"concurrent access", fmt.Errorf("save: %w", tracker.ErrConcurrentAccess), true},
		{"transient", tracker.NewUpdateError(errors.New("timeout")), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tracker.IsLogical(tt.err))
		})
	}
}
