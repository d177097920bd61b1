package tracking

import (
	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
)

// detectChanges compares current values with the snapshot, marks changed
// properties modified and runs fixup for changed keys and foreign keys.
// Running it twice without intervening mutation changes nothing.
func (e *Entry) detectChanges() error {
	if e.state == tracker.Detached || e.state == tracker.Deleted {
		return nil
	}
	if err := e.detectKeyChange(); err != nil {
		return err
	}
	if e.state != tracker.Added {
		for _, p := range e.typ.Properties() {
			i := p.Index()
			if p.IsKey() || e.modified[i] {
				continue
			}
			if !p.Equal(e.Get(p), e.original[i]) {
				e.modified[i] = true
				if e.state == tracker.Unchanged {
					e.state = tracker.Modified
				}
			}
		}
	}
	for _, fk := range e.typ.ForeignKeys() {
		changed := false
		for _, p := range fk.Properties {
			if v := e.Get(p); !p.Equal(v, e.relSnap[p.Index()]) {
				e.relSnap[p.Index()] = v
				changed = true
			}
		}
		if changed {
			e.m.refreshForeignKey(e, fk, true)
		}
	}
	return nil
}

func (e *Entry) detectKeyChange() error {
	var changed *model.Property
	for _, p := range e.typ.PrimaryKey() {
		if !p.Equal(e.Get(p), e.relSnap[p.Index()]) {
			changed = p
			break
		}
	}
	if changed == nil {
		return nil
	}
	if e.state != tracker.Added {
		return tracker.NewInvalidOperationError(e, "property %s is part of the key and cannot be modified", changed.Name)
	}
	oldKey, hadOld := e.snapshotKey()
	for _, p := range e.typ.PrimaryKey() {
		if !p.Equal(e.Get(p), e.relSnap[p.Index()]) {
			e.temporary[p.Index()] = false
		}
	}
	return e.m.keyChanged(e, oldKey, hadOld)
}
