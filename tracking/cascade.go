package tracking

import (
	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
)

// cascadeDelete applies the delete behavior of every relationship that
// targets e to its tracked dependents.
func (m *StateManager) cascadeDelete(e *Entry) error {
	for _, fk := range e.typ.ReferencingForeignKeys() {
		for _, dep := range e.Dependents(fk) {
			if dep == e || dep.state == tracker.Deleted || dep.state == tracker.Detached {
				continue
			}
			switch fk.DeleteBehavior {
			case model.Cascade:
				m.log.Debug("cascading delete", "principal", tracker.FormatEntry(e), "dependent", tracker.FormatEntry(dep), "fk", fk.Name)
				if err := dep.setState(tracker.Deleted); err != nil {
					return err
				}
			case model.SetNull:
				if !fk.IsRequired() {
					m.sever(dep, fk)
				}
			}
		}
	}
	return nil
}

// cascadePending reapplies cascades to every Deleted entry so dependents
// tracked after their principal was deleted are handled before a save.
func (m *StateManager) cascadePending() error {
	if !m.cascade {
		return nil
	}
	for _, e := range m.Entries() {
		if e.state != tracker.Deleted {
			continue
		}
		if err := m.cascadeDelete(e); err != nil {
			return err
		}
	}
	return nil
}
