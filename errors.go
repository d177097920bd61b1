package tracker

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for the save pipeline.
var (
	// ErrInvalidOperation is returned for usage errors detected before any
	// store interaction, such as mutating a detached entry.
	ErrInvalidOperation = errors.New("tracker: invalid operation")

	// ErrConcurrencyConflict is returned when an update or delete affected
	// no rows because its key or concurrency token no longer matched.
	ErrConcurrencyConflict = errors.New("tracker: concurrency conflict")

	// ErrDependencyCycle is returned when pending changes cannot be ordered.
	ErrDependencyCycle = errors.New("tracker: dependency cycle")

	// ErrUpdate is returned when the store fails to apply a batch.
	ErrUpdate = errors.New("tracker: update failed")

	// ErrConcurrentAccess is returned when an operation is started while
	// another operation on the same context is still in flight.
	ErrConcurrentAccess = errors.New("tracker: a second operation was started on this context before a previous operation completed")
)

// InvalidOperationError represents a usage error. Entry is nil when the
// error is not tied to a tracked entry.
type InvalidOperationError struct {
	Entry   Entry
	Message string
}

// Error returns the error string.
func (e *InvalidOperationError) Error() string {
	if e.Entry != nil {
		return fmt.Sprintf("tracker: invalid operation on %s: %s", FormatEntry(e.Entry), e.Message)
	}
	return "tracker: invalid operation: " + e.Message
}

// Is reports whether the target error matches InvalidOperationError.
func (e *InvalidOperationError) Is(err error) bool {
	return err == ErrInvalidOperation
}

// NewInvalidOperationError returns a new InvalidOperationError.
func NewInvalidOperationError(entry Entry, format string, args ...any) *InvalidOperationError {
	return &InvalidOperationError{Entry: entry, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidOperation returns true if the error is an InvalidOperationError.
func IsInvalidOperation(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidOperationError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidOperation)
}

// ConcurrencyError reports entries whose update or delete command affected
// fewer rows than expected.
type ConcurrencyError struct {
	Entries  []Entry
	Expected int64
	Actual   int64
}

// Error returns the error string.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("tracker: concurrency conflict: expected %d row(s) affected but got %d for %s",
		e.Expected, e.Actual, formatEntries(e.Entries))
}

// Is reports whether the target error matches ConcurrencyError.
func (e *ConcurrencyError) Is(err error) bool {
	return err == ErrConcurrencyConflict
}

// NewConcurrencyError returns a new ConcurrencyError.
func NewConcurrencyError(expected, actual int64, entries ...Entry) *ConcurrencyError {
	return &ConcurrencyError{Entries: entries, Expected: expected, Actual: actual}
}

// IsConcurrencyError returns true if the error is a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConcurrencyError
	return errors.As(err, &e) || errors.Is(err, ErrConcurrencyConflict)
}

// CycleError reports pending changes that reference each other in a way no
// command order can satisfy. Entries lists the cycle in dependency order.
type CycleError struct {
	Entries []Entry
}

// Error returns the error string.
func (e *CycleError) Error() string {
	return "tracker: dependency cycle detected between " + formatEntries(e.Entries) +
		"; make one of the foreign keys optional or save the entities separately"
}

// Is reports whether the target error matches CycleError.
func (e *CycleError) Is(err error) bool {
	return err == ErrDependencyCycle
}

// NewCycleError returns a new CycleError.
func NewCycleError(entries ...Entry) *CycleError {
	return &CycleError{Entries: entries}
}

// IsCycleError returns true if the error is a CycleError.
func IsCycleError(err error) bool {
	if err == nil {
		return false
	}
	var e *CycleError
	return errors.As(err, &e) || errors.Is(err, ErrDependencyCycle)
}

// UpdateError wraps a store failure with the entries whose commands were
// involved.
type UpdateError struct {
	Entries []Entry
	Err     error
}

// Error returns the error string.
func (e *UpdateError) Error() string {
	if len(e.Entries) == 0 {
		return fmt.Sprintf("tracker: update failed: %v", e.Err)
	}
	return fmt.Sprintf("tracker: update failed for %s: %v", formatEntries(e.Entries), e.Err)
}

// Unwrap returns the underlying error.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches UpdateError.
func (e *UpdateError) Is(err error) bool {
	return err == ErrUpdate
}

// NewUpdateError returns a new UpdateError.
func NewUpdateError(err error, entries ...Entry) *UpdateError {
	return &UpdateError{Entries: entries, Err: err}
}

// IsUpdateError returns true if the error is an UpdateError.
func IsUpdateError(err error) bool {
	if err == nil {
		return false
	}
	var e *UpdateError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("tracker: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("tracker: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// IsConcurrentAccess reports whether err was caused by overlapping
// operations on the same context.
func IsConcurrentAccess(err error) bool {
	return errors.Is(err, ErrConcurrentAccess)
}

// IsLogical reports whether err is a failure retrying cannot fix: a usage
// error, a concurrency conflict, a dependency cycle, a constraint violation
// or overlapping access.
func IsLogical(err error) bool {
	return IsInvalidOperation(err) || IsConcurrencyError(err) || IsCycleError(err) ||
		IsConstraintError(err) || IsConcurrentAccess(err)
}
