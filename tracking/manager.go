// Package tracking keeps the tracked state of entity instances: lifecycle
// states, original value snapshots, modified and temporary markers, and the
// relationship graph that fixup keeps consistent with foreign key values.
//
// Entries live in an arena owned by a StateManager and refer to each other by
// arena index, so self-referencing and cyclic graphs need no special
// handling. A StateManager is not safe for concurrent use; overlapping
// operations fail fast with tracker.ErrConcurrentAccess.
package tracking

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
)

// Option configures a StateManager.
type Option func(*StateManager)

// WithLogger sets the logger used for state transitions and cascades.
func WithLogger(l *slog.Logger) Option {
	return func(m *StateManager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithCascadeDeletes enables or disables cascading deletes to tracked
// dependents. Enabled by default.
func WithCascadeDeletes(enabled bool) Option {
	return func(m *StateManager) {
		m.cascade = enabled
	}
}

// WithDeleteOrphans makes severing a required cascade relationship delete
// the dependent. Disabled by default, in which case the foreign key is left
// unchanged and the store rejects the save.
func WithDeleteOrphans(enabled bool) Option {
	return func(m *StateManager) {
		m.orphans = enabled
	}
}

// StateManager owns the entries of one tracking context.
type StateManager struct {
	model    *model.Model
	log      *slog.Logger
	guard    *guard
	cascade  bool
	orphans  bool
	entries  []*Entry
	objects  map[any]*Entry
	identity map[*model.EntityType]map[string]*Entry
	fkIndex  map[*model.ForeignKey]map[string][]int
	nextTemp int64
}

// NewStateManager returns an empty state manager for m.
func NewStateManager(m *model.Model, opts ...Option) *StateManager {
	sm := &StateManager{
		model:    m,
		log:      slog.Default(),
		guard:    newGuard(),
		cascade:  true,
		objects:  make(map[any]*Entry),
		identity: make(map[*model.EntityType]map[string]*Entry),
		fkIndex:  make(map[*model.ForeignKey]map[string][]int),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Model returns the model the manager tracks instances of.
func (m *StateManager) Model() *model.Model { return m.model }

// Add begins tracking entity as Added. Generated key properties holding a
// default value receive a generated or temporary value.
func (m *StateManager) Add(entity any) (*Entry, error) {
	return m.track(entity, func(e *Entry) tracker.State { return tracker.Added })
}

// Attach begins tracking entity as Unchanged. Entities whose generated key
// is not set are tracked as Added instead.
func (m *StateManager) Attach(entity any) (*Entry, error) {
	return m.track(entity, func(e *Entry) tracker.State {
		if e.state == tracker.Detached && e.keyUnset() {
			return tracker.Added
		}
		return tracker.Unchanged
	})
}

// Update begins tracking entity as Modified with every non-key property
// marked modified. Entities whose generated key is not set are tracked as
// Added instead.
func (m *StateManager) Update(entity any) (*Entry, error) {
	return m.track(entity, func(e *Entry) tracker.State {
		if e.state == tracker.Detached && e.keyUnset() {
			return tracker.Added
		}
		return tracker.Modified
	})
}

// Remove marks entity Deleted, attaching it first when it is not tracked.
// Added entities become Detached.
func (m *StateManager) Remove(entity any) (*Entry, error) {
	exit, err := m.guard.enter()
	if err != nil {
		return nil, err
	}
	defer exit()
	e, err := m.entryFor(entity)
	if err != nil {
		return nil, err
	}
	if e.state == tracker.Detached {
		if err := e.setState(tracker.Unchanged); err != nil {
			return nil, err
		}
	}
	if err := e.setState(tracker.Deleted); err != nil {
		return nil, err
	}
	return e, nil
}

// Detach stops tracking entity. Detaching an untracked entity is a no-op.
func (m *StateManager) Detach(entity any) error {
	exit, err := m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	if e, ok := m.objects[entity]; ok {
		return e.setState(tracker.Detached)
	}
	return nil
}

func (m *StateManager) track(entity any, target func(*Entry) tracker.State) (*Entry, error) {
	exit, err := m.guard.enter()
	if err != nil {
		return nil, err
	}
	defer exit()
	e, err := m.entryFor(entity)
	if err != nil {
		return nil, err
	}
	if err := e.setState(target(e)); err != nil {
		return nil, err
	}
	return e, nil
}

// entryFor returns the tracked entry of entity, or a new detached entry.
func (m *StateManager) entryFor(entity any) (*Entry, error) {
	if entity == nil {
		return nil, tracker.NewInvalidOperationError(nil, "cannot track a nil entity")
	}
	if e, ok := m.objects[entity]; ok {
		return e, nil
	}
	typ, err := m.model.TypeOf(entity)
	if err != nil {
		return nil, tracker.NewInvalidOperationError(nil, "%v", err)
	}
	acc, err := typ.Accessor(entity)
	if err != nil {
		return nil, tracker.NewInvalidOperationError(nil, "%v", err)
	}
	return newEntry(m, typ, entity, acc), nil
}

// Read claims the manager, detects changes first when detect is set, and
// runs fn. It fails with tracker.ErrConcurrentAccess while another
// operation such as a save holds the manager. The read methods below do
// not claim the manager themselves; callers sharing a manager with a
// running save call them inside fn.
func (m *StateManager) Read(detect bool, fn func() error) error {
	exit, err := m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	if detect {
		if err := m.detectAll(); err != nil {
			return err
		}
	}
	return fn()
}

// Entry returns the entry tracking entity.
func (m *StateManager) Entry(entity any) (*Entry, bool) {
	e, ok := m.objects[entity]
	return e, ok
}

// Find returns the tracked entry of the named type with the given key.
// Deleted entries are not returned.
func (m *StateManager) Find(typeName string, key ...any) (*Entry, bool) {
	typ := m.model.Type(typeName)
	if typ == nil || len(key) != len(typ.PrimaryKey()) {
		return nil, false
	}
	k, ok := keyString(typ.PrimaryKey(), key)
	if !ok {
		return nil, false
	}
	e := m.lookup(typ, k)
	if e == nil || e.state == tracker.Deleted {
		return nil, false
	}
	return e, true
}

// Entries returns the tracked entries in tracking order.
func (m *StateManager) Entries() []*Entry {
	out := make([]*Entry, 0, len(m.objects))
	for _, e := range m.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// ChangedCount returns the number of Added, Modified and Deleted entries.
func (m *StateManager) ChangedCount() int {
	n := 0
	for _, e := range m.entries {
		if e != nil && e.state != tracker.Unchanged {
			n++
		}
	}
	return n
}

// DetectChanges runs change detection over every entry of a snapshot
// tracked type.
func (m *StateManager) DetectChanges() error {
	exit, err := m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	return m.detectAll()
}

// Clear detaches every entry.
func (m *StateManager) Clear() error {
	exit, err := m.guard.enter()
	if err != nil {
		return err
	}
	defer exit()
	for _, e := range m.entries {
		if e != nil {
			e.state = tracker.Detached
		}
	}
	m.entries = nil
	m.objects = make(map[any]*Entry)
	m.identity = make(map[*model.EntityType]map[string]*Entry)
	m.fkIndex = make(map[*model.ForeignKey]map[string][]int)
	return nil
}

// DebugView returns a textual dump of the tracked entries.
func (m *StateManager) DebugView() string {
	var b strings.Builder
	for _, e := range m.Entries() {
		fmt.Fprintf(&b, "%s %s\n", tracker.FormatEntry(e), e.state)
		for _, p := range e.typ.Properties() {
			fmt.Fprintf(&b, "  %s: %v", p.Name, e.Get(p))
			if p.IsKey() {
				b.WriteString(" PK")
			}
			if e.temporary[p.Index()] {
				b.WriteString(" Temporary")
			}
			if e.modified[p.Index()] {
				fmt.Fprintf(&b, " Modified Originally %v", e.original[p.Index()])
			}
			b.WriteByte('\n')
		}
		for _, fk := range e.typ.ForeignKeys() {
			if p := e.Principal(fk); p != nil {
				fmt.Fprintf(&b, "  -> %s via %s\n", tracker.FormatEntry(p), fk.Name)
			}
		}
	}
	return b.String()
}

func (m *StateManager) nextTemporary() int64 {
	m.nextTemp--
	return m.nextTemp
}

func (m *StateManager) lookup(typ *model.EntityType, key string) *Entry {
	return m.identity[typ][key]
}

func (m *StateManager) entry(id int) *Entry {
	if id < 0 || id >= len(m.entries) {
		return nil
	}
	return m.entries[id]
}

// startTracking registers e in the arena, identity map and relationship
// indexes and snapshots its values.
func (m *StateManager) startTracking(e *Entry, to tracker.State) error {
	for _, p := range e.typ.PrimaryKey() {
		v := e.Get(p)
		if v == nil {
			return tracker.NewInvalidOperationError(e, "key property %s is nil", p.Name)
		}
		if to != tracker.Added && p.IsStoreGenerated() && p.IsDefault(v) {
			return tracker.NewInvalidOperationError(e, "generated key property %s has no value and the entity is not being added", p.Name)
		}
	}
	key, _ := e.keyString()
	if other := m.lookup(e.typ, key); other != nil {
		return tracker.NewInvalidOperationError(e, "another instance with the same key is already tracked")
	}
	if m.identity[e.typ] == nil {
		m.identity[e.typ] = make(map[string]*Entry)
	}
	m.identity[e.typ][key] = e
	e.id = len(m.entries)
	m.entries = append(m.entries, e)
	m.objects[e.entity] = e
	for _, p := range e.typ.Properties() {
		v := e.Get(p)
		e.original[p.Index()] = v
		e.relSnap[p.Index()] = v
	}
	m.fixupOnTrack(e)
	return nil
}

// stopTracking removes e from every index. Dependents keep their foreign key
// values and relink if the principal is tracked again.
func (m *StateManager) stopTracking(e *Entry) {
	m.unlinkAll(e)
	if key, ok := e.snapshotKey(); ok && m.identity[e.typ][key] == e {
		delete(m.identity[e.typ], key)
	}
	delete(m.objects, e.entity)
	if m.entry(e.id) == e {
		m.entries[e.id] = nil
	}
	e.id = -1
}

func (m *StateManager) detectAll() error {
	for _, e := range m.entries {
		if e == nil || e.typ.Strategy == model.Notifications {
			continue
		}
		if err := e.detectChanges(); err != nil {
			return err
		}
	}
	return nil
}

// keyString renders key values as an identity map key. Values are
// normalized through props so that e.g. int and int64 keys match.
func keyString(props []*model.Property, values []any) (string, bool) {
	var b strings.Builder
	for i, p := range props {
		v := values[i]
		if v == nil {
			return "", false
		}
		if c, err := p.Convert(v); err == nil {
			v = c
		}
		if i > 0 {
			b.WriteByte(0x1f)
		}
		fmt.Fprintf(&b, "%T:%v", v, v)
	}
	return b.String(), true
}
