// Package tracker is the root of an in-process change-tracking and update
// pipeline. It defines the entity lifecycle states, the minimal view of a
// tracked entry shared by every subpackage, and the error taxonomy surfaced
// by the save pipeline.
//
// The working parts live in subpackages:
//
//   - model: entity metadata and property accessors
//   - tracking: entries, relationship fixup and change detection
//   - update: dependency ordering, batching, execution and value propagation
//   - session: the Save Changes and Change Tracker API
//   - privacy: save policies evaluated before any command is sent
//   - dialect/sql: a database/sql backed store executor
package tracker

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a tracked entity.
type State uint8

// Entity states.
const (
	// Detached entities are not tracked.
	Detached State = iota
	// Unchanged entities exist in the store and have no pending changes.
	Unchanged
	// Added entities are pending insertion.
	Added
	// Modified entities exist in the store and have pending changes.
	Modified
	// Deleted entities are pending deletion.
	Deleted
)

var stateNames = [...]string{
	Detached:  "Detached",
	Unchanged: "Unchanged",
	Added:     "Added",
	Modified:  "Modified",
	Deleted:   "Deleted",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// IsValid reports whether s is one of the declared states.
func (s State) IsValid() bool { return s <= Deleted }

// Entry is the read-only view of a tracked entity used in errors and
// diagnostics.
type Entry interface {
	// Entity returns the tracked application object.
	Entity() any
	// TypeName returns the entity type name.
	TypeName() string
	// State returns the current lifecycle state.
	State() State
	// KeyValues returns the current primary key values.
	KeyValues() []any
}

// FormatEntry returns a short human readable identifier for an entry,
// e.g. Customer(42).
func FormatEntry(e Entry) string {
	if e == nil {
		return "<nil>"
	}
	keys := e.KeyValues()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(k)
	}
	return e.TypeName() + "(" + strings.Join(parts, ", ") + ")"
}

func formatEntries(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = FormatEntry(e)
	}
	return strings.Join(parts, ", ")
}
