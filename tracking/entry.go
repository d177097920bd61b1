package tracking

import (
	"slices"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
)

// Entry is the tracked state of one entity instance.
type Entry struct {
	id     int
	m      *StateManager
	typ    *model.EntityType
	entity any
	values model.Accessor
	state  tracker.State

	original  []any
	relSnap   []any
	modified  []bool
	temporary []bool

	principals map[*model.ForeignKey]int
	dependents map[*model.ForeignKey][]int
	indexed    map[*model.ForeignKey]string
}

var _ tracker.Entry = (*Entry)(nil)

func newEntry(m *StateManager, typ *model.EntityType, entity any, acc model.Accessor) *Entry {
	n := len(typ.Properties())
	return &Entry{
		id:         -1,
		m:          m,
		typ:        typ,
		entity:     entity,
		values:     acc,
		original:   make([]any, n),
		relSnap:    make([]any, n),
		modified:   make([]bool, n),
		temporary:  make([]bool, n),
		principals: make(map[*model.ForeignKey]int),
		dependents: make(map[*model.ForeignKey][]int),
		indexed:    make(map[*model.ForeignKey]string),
	}
}

// Entity returns the tracked object.
func (e *Entry) Entity() any { return e.entity }

// Type returns the entity type of the tracked object.
func (e *Entry) Type() *model.EntityType { return e.typ }

// TypeName returns the entity type name.
func (e *Entry) TypeName() string { return e.typ.Name }

// State returns the lifecycle state.
func (e *Entry) State() tracker.State { return e.state }

// KeyValues returns the current primary key values.
func (e *Entry) KeyValues() []any {
	key := e.typ.PrimaryKey()
	out := make([]any, len(key))
	for i, p := range key {
		out[i] = e.Get(p)
	}
	return out
}

// Get returns the current value of p.
func (e *Entry) Get(p *model.Property) any { return e.values.Get(p) }

// Original returns the snapshot value of p.
func (e *Entry) Original(p *model.Property) any { return e.original[p.Index()] }

// Modified reports whether p is marked modified.
func (e *Entry) Modified(p *model.Property) bool { return e.modified[p.Index()] }

// Temporary reports whether p holds a temporary value.
func (e *Entry) Temporary(p *model.Property) bool { return e.temporary[p.Index()] }

// Principal returns the tracked principal the entry references through fk.
func (e *Entry) Principal(fk *model.ForeignKey) *Entry {
	id, ok := e.principals[fk]
	if !ok {
		return nil
	}
	return e.m.entry(id)
}

// OriginalPrincipal returns the tracked principal identified by the
// original values of fk, which may differ from Principal after the
// relationship was changed.
func (e *Entry) OriginalPrincipal(fk *model.ForeignKey) *Entry {
	values := make([]any, len(fk.Properties))
	for i, p := range fk.Properties {
		values[i] = e.original[p.Index()]
	}
	k, ok := keyString(fk.PrincipalKey, values)
	if !ok {
		return nil
	}
	return e.m.lookup(fk.Principal, k)
}

// Dependents returns the tracked dependents that reference the entry
// through fk.
func (e *Entry) Dependents(fk *model.ForeignKey) []*Entry {
	var out []*Entry
	for _, id := range e.dependents[fk] {
		if d := e.m.entry(id); d != nil {
			out = append(out, d)
		}
	}
	return out
}

// HasTemporaryKey reports whether any key property holds a temporary value.
func (e *Entry) HasTemporaryKey() bool {
	for _, p := range e.typ.PrimaryKey() {
		if e.temporary[p.Index()] {
			return true
		}
	}
	return false
}

// Value returns the current value of the named property.
func (e *Entry) Value(name string) (any, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	return e.Get(p), nil
}

// OriginalValue returns the snapshot value of the named property.
func (e *Entry) OriginalValue(name string) (any, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	return e.Original(p), nil
}

// SetValue writes a property value through the tracker, marking it
// modified and running fixup when it is part of a key or foreign key.
func (e *Entry) SetValue(name string, v any) error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	p, err := e.property(name)
	if err != nil {
		return err
	}
	return e.setValue(p, v)
}

// IsModified reports whether the named property is marked modified.
func (e *Entry) IsModified(name string) (bool, error) {
	p, err := e.property(name)
	if err != nil {
		return false, err
	}
	return e.Modified(p), nil
}

// SetModified marks or unmarks the named property. Marking moves an
// Unchanged entry to Modified; unmarking the last modified property of a
// Modified entry moves it back to Unchanged.
func (e *Entry) SetModified(name string, modified bool) error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	p, err := e.property(name)
	if err != nil {
		return err
	}
	switch {
	case e.state == tracker.Detached:
		return tracker.NewInvalidOperationError(e, "entity is not tracked")
	case p.IsKey() && modified:
		return tracker.NewInvalidOperationError(e, "key property %s cannot be marked modified", p.Name)
	case e.state == tracker.Added || e.state == tracker.Deleted:
		return nil
	}
	e.modified[p.Index()] = modified
	switch {
	case modified && e.state == tracker.Unchanged:
		e.state = tracker.Modified
	case !modified && e.state == tracker.Modified && !slices.Contains(e.modified, true):
		e.state = tracker.Unchanged
	}
	return nil
}

// ModifiedProperties returns the properties marked modified.
func (e *Entry) ModifiedProperties() []*model.Property {
	var out []*model.Property
	for _, p := range e.typ.Properties() {
		if e.modified[p.Index()] {
			out = append(out, p)
		}
	}
	return out
}

// HasTemporaryValue reports whether the named property holds a temporary
// value.
func (e *Entry) HasTemporaryValue(name string) (bool, error) {
	p, err := e.property(name)
	if err != nil {
		return false, err
	}
	return e.Temporary(p), nil
}

// MarkTemporary flags the current value of the named property as a
// placeholder the store will replace. Only Added entries hold temporary
// values.
func (e *Entry) MarkTemporary(name string, temporary bool) error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	p, err := e.property(name)
	if err != nil {
		return err
	}
	if temporary && e.state != tracker.Added {
		return tracker.NewInvalidOperationError(e, "only added entities can hold temporary values")
	}
	e.temporary[p.Index()] = temporary
	if p.IsKey() {
		for _, fk := range e.typ.ReferencingForeignKeys() {
			for _, d := range e.Dependents(fk) {
				d.inheritTemporary(fk, e)
			}
		}
	}
	return nil
}

// SetState transitions the entry to s.
func (e *Entry) SetState(s tracker.State) error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	return e.setState(s)
}

// AcceptChanges makes the current values the new originals. Deleted
// entries become Detached, all others Unchanged.
func (e *Entry) AcceptChanges() error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	e.acceptChanges()
	return nil
}

// DetectChanges compares the entry against its snapshot.
func (e *Entry) DetectChanges() error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	return e.detectChanges()
}

// Reference returns the entry on the other side of a reference navigation.
func (e *Entry) Reference(name string) (*Entry, error) {
	nav, err := e.navigation(name, false)
	if err != nil {
		return nil, err
	}
	if nav.OnDependent {
		return e.Principal(nav.ForeignKey), nil
	}
	if deps := e.Dependents(nav.ForeignKey); len(deps) > 0 {
		return deps[0], nil
	}
	return nil, nil
}

// Collection returns the dependents reachable through a collection
// navigation.
func (e *Entry) Collection(name string) ([]*Entry, error) {
	nav, err := e.navigation(name, true)
	if err != nil {
		return nil, err
	}
	return e.Dependents(nav.ForeignKey), nil
}

// SetReference points a reference navigation at target, or clears it when
// target is nil. Foreign keys and inverse navigations follow.
func (e *Entry) SetReference(name string, target *Entry) error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	nav, err := e.navigation(name, false)
	if err != nil {
		return err
	}
	if e.state == tracker.Detached {
		return tracker.NewInvalidOperationError(e, "entity is not tracked")
	}
	if nav.OnDependent {
		if target == nil {
			e.m.sever(e, nav.ForeignKey)
			return nil
		}
		return e.m.setPrincipal(e, nav.ForeignKey, target)
	}
	current, _ := e.Reference(name)
	if current == target {
		return nil
	}
	var added, removed []*Entry
	if target != nil {
		added = []*Entry{target}
	}
	if current != nil {
		removed = []*Entry{current}
	}
	return e.m.navigationChanged(e, nav, added, removed)
}

// AddToCollection adds tracked dependents to a collection navigation.
func (e *Entry) AddToCollection(name string, targets ...*Entry) error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	nav, err := e.navigation(name, true)
	if err != nil {
		return err
	}
	if e.state == tracker.Detached {
		return tracker.NewInvalidOperationError(e, "entity is not tracked")
	}
	return e.m.navigationChanged(e, nav, targets, nil)
}

// RemoveFromCollection removes dependents from a collection navigation.
func (e *Entry) RemoveFromCollection(name string, targets ...*Entry) error {
	exit, err := e.m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	nav, err := e.navigation(name, true)
	if err != nil {
		return err
	}
	if e.state == tracker.Detached {
		return tracker.NewInvalidOperationError(e, "entity is not tracked")
	}
	return e.m.navigationChanged(e, nav, nil, targets)
}

func (e *Entry) String() string { return tracker.FormatEntry(e) }

func (e *Entry) property(name string) (*model.Property, error) {
	p := e.typ.Property(name)
	if p == nil {
		return nil, tracker.NewInvalidOperationError(e, "unknown property %q", name)
	}
	return p, nil
}

func (e *Entry) navigation(name string, collection bool) (*model.Navigation, error) {
	nav := e.typ.Navigation(name)
	switch {
	case nav == nil:
		return nil, tracker.NewInvalidOperationError(e, "unknown navigation %q", name)
	case nav.Collection != collection:
		if collection {
			return nil, tracker.NewInvalidOperationError(e, "navigation %q is a reference", name)
		}
		return nil, tracker.NewInvalidOperationError(e, "navigation %q is a collection", name)
	}
	return nav, nil
}

// setValue writes v to p and keeps keys, foreign keys and the identity map
// consistent.
func (e *Entry) setValue(p *model.Property, v any) error {
	if e.state == tracker.Detached {
		return tracker.NewInvalidOperationError(e, "entity is not tracked")
	}
	old := e.Get(p)
	if p.Equal(old, v) {
		return nil
	}
	if p.IsKey() && e.state != tracker.Added {
		return tracker.NewInvalidOperationError(e, "property %s is part of the key and cannot be modified", p.Name)
	}
	i := p.Index()
	oldKey, hadKey := e.snapshotKey()
	wasTemp := e.temporary[i]
	e.values.Set(p, v)
	e.temporary[i] = false
	if p.IsKey() {
		if err := e.m.keyChanged(e, oldKey, hadKey); err != nil {
			e.values.Set(p, old)
			e.temporary[i] = wasTemp
			return err
		}
	}
	e.markModified(p)
	if p.IsKey() || p.IsForeignKey() {
		e.relSnap[i] = v
	}
	for _, fk := range p.ForeignKeys() {
		e.m.refreshForeignKey(e, fk, true)
	}
	return nil
}

// writeValue assigns v without key checks. It reports whether the value
// changed.
func (e *Entry) writeValue(p *model.Property, v any) bool {
	if p.Equal(e.Get(p), v) {
		return false
	}
	e.values.Set(p, v)
	e.relSnap[p.Index()] = v
	e.markModified(p)
	return true
}

func (e *Entry) markModified(p *model.Property) {
	if p.IsKey() {
		return
	}
	switch e.state {
	case tracker.Unchanged:
		e.state = tracker.Modified
		fallthrough
	case tracker.Modified:
		e.modified[p.Index()] = true
	}
}

// keyUnset reports whether a generated key property still holds its
// default value.
func (e *Entry) keyUnset() bool {
	for _, p := range e.typ.PrimaryKey() {
		if p.Generated == model.OnAdd && p.IsDefault(e.Get(p)) {
			return true
		}
	}
	return false
}

func (e *Entry) keyString() (string, bool) {
	return keyString(e.typ.PrimaryKey(), e.KeyValues())
}

// snapshotKey is the key the entry is registered under in the identity map.
func (e *Entry) snapshotKey() (string, bool) {
	key := e.typ.PrimaryKey()
	values := make([]any, len(key))
	for i, p := range key {
		values[i] = e.relSnap[p.Index()]
	}
	return keyString(key, values)
}

// fkKey renders the current foreign key values of fk against the
// principal key. It fails when any value is nil.
func (e *Entry) fkKey(fk *model.ForeignKey) (string, bool) {
	return keyString(fk.PrincipalKey, e.fkValues(fk))
}

func (e *Entry) fkValues(fk *model.ForeignKey) []any {
	values := make([]any, len(fk.Properties))
	for i, p := range fk.Properties {
		values[i] = e.Get(p)
	}
	return values
}

// generateValues fills generated properties that hold a default value.
func (e *Entry) generateValues() {
	for _, p := range e.typ.Properties() {
		if p.Generated != model.OnAdd || !p.IsDefault(e.Get(p)) {
			continue
		}
		v, temp := p.GenerateValue(e.m.nextTemporary)
		if v == nil {
			continue
		}
		e.values.Set(p, v)
		e.temporary[p.Index()] = temp
	}
}

// inheritTemporary marks the foreign key properties of fk temporary when
// they copy a temporary key of principal.
func (e *Entry) inheritTemporary(fk *model.ForeignKey, principal *Entry) {
	for i, p := range fk.Properties {
		pk := fk.PrincipalKey[i]
		e.temporary[p.Index()] = principal.temporary[pk.Index()] && p.Equal(e.Get(p), principal.Get(pk))
	}
}

func (e *Entry) acceptChanges() {
	switch e.state {
	case tracker.Detached:
		return
	case tracker.Deleted:
		_ = e.setState(tracker.Detached)
		return
	}
	for _, p := range e.typ.Properties() {
		i := p.Index()
		e.original[i] = e.Get(p)
		e.modified[i] = false
		e.temporary[i] = false
	}
	e.state = tracker.Unchanged
}
