package tracking

import (
	"github.com/syssam/tracker"
)

// setState moves the entry to another lifecycle state and keeps the
// snapshot, modified markers and indexes consistent with it.
func (e *Entry) setState(to tracker.State) error {
	if !to.IsValid() {
		return tracker.NewInvalidOperationError(e, "invalid state %s", to)
	}
	from := e.state
	if from == to {
		return nil
	}
	if to == tracker.Detached || (from == tracker.Added && to == tracker.Deleted) {
		if to == tracker.Deleted && e.m.cascade {
			if err := e.m.cascadeDelete(e); err != nil {
				return err
			}
		}
		e.m.stopTracking(e)
		e.state = tracker.Detached
		e.m.log.Debug("entity detached", "entry", tracker.FormatEntry(e), "from", from)
		return nil
	}
	if from == tracker.Added && e.HasTemporaryKey() {
		return tracker.NewInvalidOperationError(e, "cannot change the state to %s while the key holds a temporary value", to)
	}
	if from == tracker.Detached {
		if to == tracker.Added {
			e.generateValues()
		}
		if err := e.m.startTracking(e, to); err != nil {
			clear(e.temporary)
			return err
		}
	}
	e.state = to
	switch to {
	case tracker.Added:
		clear(e.modified)
	case tracker.Unchanged:
		for _, p := range e.typ.Properties() {
			e.original[p.Index()] = e.Get(p)
		}
		clear(e.modified)
	case tracker.Modified:
		for _, p := range e.typ.Properties() {
			if !p.IsKey() && !p.IsComputed() {
				e.modified[p.Index()] = true
			}
		}
	}
	e.m.log.Debug("entity state changed", "entry", tracker.FormatEntry(e), "from", from, "to", to)
	if to == tracker.Deleted && e.m.cascade {
		return e.m.cascadeDelete(e)
	}
	return nil
}
