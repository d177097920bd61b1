package tracking

import (
	"slices"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
)

// link records that dep references principal through fk, replacing any
// previous principal.
func (m *StateManager) link(dep *Entry, fk *model.ForeignKey, principal *Entry) {
	if old, ok := dep.principals[fk]; ok {
		if old == principal.id {
			return
		}
		m.unlink(dep, fk)
	}
	dep.principals[fk] = principal.id
	principal.dependents[fk] = append(principal.dependents[fk], dep.id)
}

func (m *StateManager) unlink(dep *Entry, fk *model.ForeignKey) {
	id, ok := dep.principals[fk]
	if !ok {
		return
	}
	delete(dep.principals, fk)
	if p := m.entry(id); p != nil {
		p.dependents[fk] = slices.DeleteFunc(slices.Clone(p.dependents[fk]), func(d int) bool { return d == dep.id })
	}
}

func (m *StateManager) index(dep *Entry, fk *model.ForeignKey, key string) {
	if m.fkIndex[fk] == nil {
		m.fkIndex[fk] = make(map[string][]int)
	}
	m.fkIndex[fk][key] = append(m.fkIndex[fk][key], dep.id)
	dep.indexed[fk] = key
}

func (m *StateManager) unindex(dep *Entry, fk *model.ForeignKey) {
	key, ok := dep.indexed[fk]
	if !ok {
		return
	}
	delete(dep.indexed, fk)
	ids := slices.DeleteFunc(m.fkIndex[fk][key], func(d int) bool { return d == dep.id })
	if len(ids) == 0 {
		delete(m.fkIndex[fk], key)
		return
	}
	m.fkIndex[fk][key] = ids
}

// fixupOnTrack links a newly tracked entry to the principals its foreign
// keys identify and to the tracked dependents whose foreign keys match its
// key.
func (m *StateManager) fixupOnTrack(e *Entry) {
	for _, fk := range e.typ.ForeignKeys() {
		k, ok := e.fkKey(fk)
		if !ok {
			continue
		}
		m.index(e, fk, k)
		if p := m.lookup(fk.Principal, k); p != nil {
			m.link(e, fk, p)
			e.inheritTemporary(fk, p)
		}
	}
	key, ok := e.keyString()
	if !ok {
		return
	}
	for _, fk := range e.typ.ReferencingForeignKeys() {
		for _, id := range slices.Clone(m.fkIndex[fk][key]) {
			dep := m.entry(id)
			if dep == nil {
				continue
			}
			if _, linked := dep.principals[fk]; linked {
				continue
			}
			m.link(dep, fk, e)
			dep.inheritTemporary(fk, e)
		}
	}
}

// unlinkAll removes every relationship of e. Dependents keep their foreign
// key values, which stop being temporary once e no longer supplies them.
func (m *StateManager) unlinkAll(e *Entry) {
	for fk := range e.principals {
		m.unlink(e, fk)
	}
	for fk, ids := range e.dependents {
		for _, id := range ids {
			dep := m.entry(id)
			if dep == nil {
				continue
			}
			if pid, ok := dep.principals[fk]; !ok || pid != e.id {
				continue
			}
			delete(dep.principals, fk)
			for _, p := range fk.Properties {
				dep.temporary[p.Index()] = false
			}
		}
	}
	clear(e.dependents)
	for fk := range e.indexed {
		m.unindex(e, fk)
	}
}

// refreshForeignKey re-indexes dep after a property of fk changed and, when
// relink is set, links it to the principal the new values identify.
func (m *StateManager) refreshForeignKey(dep *Entry, fk *model.ForeignKey, relink bool) {
	k, ok := dep.fkKey(fk)
	if old, had := dep.indexed[fk]; !had || !ok || old != k {
		m.unindex(dep, fk)
		if ok {
			m.index(dep, fk, k)
		}
	}
	if !relink {
		return
	}
	var p *Entry
	if ok {
		p = m.lookup(fk.Principal, k)
	}
	if p == nil {
		m.unlink(dep, fk)
		for _, fp := range fk.Properties {
			dep.temporary[fp.Index()] = false
		}
		return
	}
	m.link(dep, fk, p)
	dep.inheritTemporary(fk, p)
}

// writeForeignKey assigns values to the properties of fk and refreshes the
// indexes of every foreign key sharing those properties.
func (m *StateManager) writeForeignKey(dep *Entry, fk *model.ForeignKey, values []any) {
	for i, p := range fk.Properties {
		if !dep.writeValue(p, values[i]) {
			continue
		}
		for _, other := range p.ForeignKeys() {
			if other != fk {
				m.refreshForeignKey(dep, other, true)
			}
		}
	}
	m.refreshForeignKey(dep, fk, false)
}

// setPrincipal makes dep reference principal through fk, copying the
// principal key into the foreign key.
func (m *StateManager) setPrincipal(dep *Entry, fk *model.ForeignKey, principal *Entry) error {
	switch {
	case dep.state == tracker.Detached:
		return tracker.NewInvalidOperationError(dep, "entity is not tracked")
	case principal.state == tracker.Detached:
		return tracker.NewInvalidOperationError(principal, "related entity is not tracked")
	case principal.typ != fk.Principal:
		return tracker.NewInvalidOperationError(principal, "expected an instance of %s", fk.Principal.Name)
	case dep.typ != fk.Dependent:
		return tracker.NewInvalidOperationError(dep, "expected an instance of %s", fk.Dependent.Name)
	}
	if fk.Unique {
		for _, other := range principal.Dependents(fk) {
			if other != dep {
				m.sever(other, fk)
			}
		}
	}
	m.writeForeignKey(dep, fk, principal.KeyValues())
	m.link(dep, fk, principal)
	dep.inheritTemporary(fk, principal)
	return nil
}

// sever removes the relationship of dep through fk. Optional foreign keys
// are set to nil. Required ones keep their value unless orphan deletion
// applies.
func (m *StateManager) sever(dep *Entry, fk *model.ForeignKey) {
	_, linked := dep.principals[fk]
	m.unlink(dep, fk)
	if !fk.IsRequired() {
		m.writeForeignKey(dep, fk, make([]any, len(fk.Properties)))
		for _, p := range fk.Properties {
			dep.temporary[p.Index()] = false
		}
		return
	}
	if linked && m.orphans && fk.DeleteBehavior == model.Cascade {
		m.log.Debug("deleting orphan", "entry", tracker.FormatEntry(dep), "fk", fk.Name)
		_ = dep.setState(tracker.Deleted)
	}
}

// navigationChanged propagates a navigation change on e to foreign keys and
// inverse navigations.
func (m *StateManager) navigationChanged(e *Entry, nav *model.Navigation, added, removed []*Entry) error {
	fk := nav.ForeignKey
	if nav.OnDependent {
		if len(added) > 0 {
			return m.setPrincipal(e, fk, added[0])
		}
		if len(removed) > 0 {
			m.sever(e, fk)
		}
		return nil
	}
	for _, r := range removed {
		if r == nil {
			continue
		}
		if id, ok := r.principals[fk]; ok && id == e.id {
			m.sever(r, fk)
		}
	}
	for _, a := range added {
		if a == nil {
			continue
		}
		if err := m.setPrincipal(a, fk, e); err != nil {
			return err
		}
	}
	return nil
}

// keyChanged moves e in the identity map after a key change and copies the
// new key into the foreign keys of its dependents.
func (m *StateManager) keyChanged(e *Entry, oldKey string, hadOld bool) error {
	key, ok := e.keyString()
	if !ok {
		return tracker.NewInvalidOperationError(e, "key cannot be nil")
	}
	if hadOld && oldKey == key {
		return nil
	}
	if other := m.lookup(e.typ, key); other != nil && other != e {
		return tracker.NewInvalidOperationError(e, "another instance with the same key is already tracked")
	}
	if hadOld && m.identity[e.typ][oldKey] == e {
		delete(m.identity[e.typ], oldKey)
	}
	m.identity[e.typ][key] = e
	for _, p := range e.typ.PrimaryKey() {
		e.relSnap[p.Index()] = e.Get(p)
	}
	values := e.KeyValues()
	for _, fk := range e.typ.ReferencingForeignKeys() {
		deps := e.Dependents(fk)
		if hadOld {
			for _, id := range m.fkIndex[fk][oldKey] {
				if d := m.entry(id); d != nil && !slices.Contains(deps, d) {
					deps = append(deps, d)
				}
			}
		}
		for _, d := range deps {
			m.writeForeignKey(d, fk, values)
			m.link(d, fk, e)
			d.inheritTemporary(fk, e)
		}
	}
	return nil
}
