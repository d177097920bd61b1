package tracking

import (
	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
)

// SaveScope holds the critical section of a state manager for the duration
// of a save. Store generated values and acceptance flow through it.
type SaveScope struct {
	m     *StateManager
	exit  func()
	ended bool
}

// BeginSave claims the manager, optionally detects changes, reapplies
// pending cascades and returns the scope. End must be called.
func (m *StateManager) BeginSave(detect bool) (*SaveScope, error) {
	exit, err := m.guard.enter()
	if err != nil {
		return nil, err
	}
	if detect {
		if err := m.detectAll(); err != nil {
			exit()
			return nil, err
		}
	}
	if err := m.cascadePending(); err != nil {
		exit()
		return nil, err
	}
	return &SaveScope{m: m, exit: exit}, nil
}

// Entries returns the Added, Modified and Deleted entries in tracking order.
func (s *SaveScope) Entries() []*Entry {
	var out []*Entry
	for _, e := range s.m.entries {
		if e == nil {
			continue
		}
		switch e.state {
		case tracker.Added, tracker.Modified, tracker.Deleted:
			out = append(out, e)
		}
	}
	return out
}

// SetStoreValue records a value produced by the store. A new key value
// replaces a temporary one and is propagated to every dependent whose
// foreign key copied it.
func (s *SaveScope) SetStoreValue(e *Entry, p *model.Property, v any) error {
	cv, err := p.Convert(v)
	if err != nil {
		return err
	}
	i := p.Index()
	oldKey, hadOld := e.snapshotKey()
	old := e.Get(p)
	wasTemp := e.temporary[i]
	e.values.Set(p, cv)
	e.temporary[i] = false
	if p.IsKey() {
		if err := s.m.keyChanged(e, oldKey, hadOld); err != nil {
			e.values.Set(p, old)
			e.temporary[i] = wasTemp
			return err
		}
	}
	e.original[i] = cv
	e.modified[i] = false
	if p.IsForeignKey() {
		e.relSnap[i] = cv
		for _, fk := range p.ForeignKeys() {
			s.m.refreshForeignKey(e, fk, true)
		}
	}
	return nil
}

// Accept marks the entry saved: Deleted entries become Detached, the rest
// Unchanged with their current values as the new originals.
func (s *SaveScope) Accept(e *Entry) {
	e.acceptChanges()
}

// End releases the manager. It is safe to call more than once.
func (s *SaveScope) End() {
	if s.ended {
		return
	}
	s.ended = true
	s.exit()
}
