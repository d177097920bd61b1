package model

import (
	"fmt"
	"reflect"
)

// Kind is the value kind of a property. It drives conversion of store
// values, default-value detection and temporary value generation.
type Kind uint8

// Property kinds.
const (
	KindAny Kind = iota
	KindInt64
	KindString
	KindBool
	KindFloat64
	KindBytes
	KindTime
	KindUUID
)

var kindNames = [...]string{
	KindAny:     "any",
	KindInt64:   "int64",
	KindString:  "string",
	KindBool:    "bool",
	KindFloat64: "float64",
	KindBytes:   "bytes",
	KindTime:    "time",
	KindUUID:    "uuid",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ValueGenerated describes when the store (or a client generator) produces
// a property value.
type ValueGenerated uint8

const (
	// Never means the application always supplies the value.
	Never ValueGenerated = iota
	// OnAdd means the value is generated when the entity is inserted.
	OnAdd
	// OnAddOrUpdate means the value is computed by the store on every write.
	OnAddOrUpdate
)

// DeleteBehavior controls what happens to tracked dependents when their
// principal is deleted.
type DeleteBehavior uint8

const (
	// Restrict leaves dependents untouched; the store enforces the constraint.
	Restrict DeleteBehavior = iota
	// Cascade deletes dependents together with the principal.
	Cascade
	// SetNull clears the foreign key of dependents when it is nullable.
	SetNull
)

// String returns the behavior name.
func (b DeleteBehavior) String() string {
	switch b {
	case Cascade:
		return "Cascade"
	case SetNull:
		return "SetNull"
	default:
		return "Restrict"
	}
}

// TrackingStrategy selects how changes to an entity type are discovered.
type TrackingStrategy uint8

const (
	// Snapshot compares current values against the original snapshot.
	Snapshot TrackingStrategy = iota
	// Notifications relies on every mutation going through the tracker.
	Notifications
)

// Property describes one scalar value of an entity type.
type Property struct {
	Name             string
	Column           string
	Kind             Kind
	Nullable         bool
	Generated        ValueGenerated
	ConcurrencyToken bool

	index       int
	keyIndex    int
	temporary   bool
	generator   func() any
	comparer    Comparer
	declaring   *EntityType
	foreignKeys []*ForeignKey
}

// Index returns the ordinal of the property within its declaring type.
func (p *Property) Index() int { return p.index }

// DeclaringType returns the entity type the property belongs to.
func (p *Property) DeclaringType() *EntityType { return p.declaring }

// IsKey reports whether the property is part of the primary key.
func (p *Property) IsKey() bool { return p.keyIndex >= 0 }

// IsForeignKey reports whether the property participates in a foreign key.
func (p *Property) IsForeignKey() bool { return len(p.foreignKeys) > 0 }

// ForeignKeys returns the foreign keys the property participates in.
func (p *Property) ForeignKeys() []*ForeignKey { return p.foreignKeys }

// UsesTemporaryValues reports whether the property receives a temporary
// placeholder on add that the store later replaces.
func (p *Property) UsesTemporaryValues() bool { return p.temporary }

// IsStoreGenerated reports whether the store produces the value on insert.
func (p *Property) IsStoreGenerated() bool {
	return p.Generated == OnAddOrUpdate || (p.Generated == OnAdd && p.generator == nil)
}

// IsComputed reports whether the store computes the value on every write.
func (p *Property) IsComputed() bool { return p.Generated == OnAddOrUpdate }

// Equal compares two values with the configured comparer.
func (p *Property) Equal(a, b any) bool {
	return p.comparer(p.normalize(a), p.normalize(b))
}

// IsDefault reports whether v is nil or the zero value of the property kind.
func (p *Property) IsDefault(v any) bool {
	return isDefault(p.normalize(v))
}

// Convert normalizes a value read from the store or supplied by the
// application into the canonical Go type of the property kind.
func (p *Property) Convert(v any) (any, error) {
	c, err := convert(p.Kind, v)
	if err != nil {
		return nil, fmt.Errorf("model: property %s.%s: %w", p.declaring.Name, p.Name, err)
	}
	return c, nil
}

// GenerateValue produces a value for a generated property of an added
// entity. The second result reports whether the value is temporary.
func (p *Property) GenerateValue(next func() int64) (any, bool) {
	switch {
	case p.generator != nil:
		return p.generator(), false
	case p.temporary:
		return temporaryValue(p.Kind, next), true
	default:
		return nil, false
	}
}

func (p *Property) normalize(v any) any {
	if c, err := convert(p.Kind, v); err == nil {
		return c
	}
	return v
}

func (p *Property) String() string { return p.declaring.Name + "." + p.Name }

// ForeignKey relates a dependent entity type to the primary key of a
// principal entity type.
type ForeignKey struct {
	Name           string
	Dependent      *EntityType
	Properties     []*Property
	Principal      *EntityType
	PrincipalKey   []*Property
	Unique         bool
	DeleteBehavior DeleteBehavior

	// DependentToPrincipal is the reference navigation on the dependent,
	// PrincipalToDependent the reference or collection on the principal.
	// Either may be nil.
	DependentToPrincipal *Navigation
	PrincipalToDependent *Navigation
}

// IsRequired reports whether any foreign key property is non-nullable.
func (fk *ForeignKey) IsRequired() bool {
	for _, p := range fk.Properties {
		if !p.Nullable {
			return true
		}
	}
	return false
}

// IsSelfReferencing reports whether dependent and principal are the same type.
func (fk *ForeignKey) IsSelfReferencing() bool { return fk.Dependent == fk.Principal }

func (fk *ForeignKey) String() string { return fk.Name }

// Navigation exposes one side of a foreign key as a reference or collection.
type Navigation struct {
	Name        string
	ForeignKey  *ForeignKey
	OnDependent bool
	Collection  bool
	declaring   *EntityType
}

// DeclaringType returns the entity type that exposes the navigation.
func (n *Navigation) DeclaringType() *EntityType { return n.declaring }

// TargetType returns the entity type the navigation points at.
func (n *Navigation) TargetType() *EntityType {
	if n.OnDependent {
		return n.ForeignKey.Principal
	}
	return n.ForeignKey.Dependent
}

// Inverse returns the navigation on the other side, or nil.
func (n *Navigation) Inverse() *Navigation {
	if n.OnDependent {
		return n.ForeignKey.PrincipalToDependent
	}
	return n.ForeignKey.DependentToPrincipal
}

func (n *Navigation) String() string { return n.declaring.Name + "." + n.Name }

// EntityType describes the shape of one kind of tracked object.
type EntityType struct {
	Name     string
	Table    string
	Strategy TrackingStrategy
	// NoBatching marks types whose commands must each run in their own batch,
	// e.g. types mapped to stored procedures.
	NoBatching bool

	props       []*Property
	byName      map[string]*Property
	key         []*Property
	fks         []*ForeignKey
	referencing []*ForeignKey
	navs        map[string]*Navigation
	navList     []*Navigation
	goType      reflect.Type
	access      func(entity any) (Accessor, bool)
	model       *Model
}

// Properties returns the properties in declaration order.
func (t *EntityType) Properties() []*Property { return t.props }

// Property returns the named property or nil.
func (t *EntityType) Property(name string) *Property { return t.byName[name] }

// PrimaryKey returns the key properties in key order.
func (t *EntityType) PrimaryKey() []*Property { return t.key }

// ForeignKeys returns the foreign keys declared on this type as dependent.
func (t *EntityType) ForeignKeys() []*ForeignKey { return t.fks }

// ReferencingForeignKeys returns the foreign keys that target this type.
func (t *EntityType) ReferencingForeignKeys() []*ForeignKey { return t.referencing }

// Navigation returns the named navigation or nil.
func (t *EntityType) Navigation(name string) *Navigation { return t.navs[name] }

// Navigations returns the navigations in declaration order.
func (t *EntityType) Navigations() []*Navigation { return t.navList }

// ConcurrencyTokens returns the properties used as concurrency tokens.
func (t *EntityType) ConcurrencyTokens() []*Property {
	var tokens []*Property
	for _, p := range t.props {
		if p.ConcurrencyToken {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Accessor returns the value accessor of entity, which must be an instance
// of this type.
func (t *EntityType) Accessor(entity any) (Accessor, error) {
	if entity == nil {
		return nil, fmt.Errorf("model: nil entity for type %s", t.Name)
	}
	a, ok := t.access(entity)
	if !ok {
		return nil, fmt.Errorf("model: %T is not an instance of entity type %s", entity, t.Name)
	}
	return a, nil
}

func (t *EntityType) String() string { return t.Name }

// Model is an immutable set of entity types.
type Model struct {
	types   []*EntityType
	byName  map[string]*EntityType
	byGoTyp map[reflect.Type]*EntityType
}

// Types returns the entity types in declaration order.
func (m *Model) Types() []*EntityType { return m.types }

// Type returns the named entity type or nil.
func (m *Model) Type(name string) *EntityType { return m.byName[name] }

// TypeOf resolves the entity type of an application object. Objects are
// matched by their EntityType() name when they implement Named, otherwise
// by the Go type bound with Struct.
func (m *Model) TypeOf(entity any) (*EntityType, error) {
	if n, ok := entity.(Named); ok {
		if t := m.byName[n.EntityType()]; t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("model: unknown entity type %q", n.EntityType())
	}
	if t := m.byGoTyp[reflect.TypeOf(entity)]; t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("model: %T is not a mapped entity type", entity)
}

// Named is implemented by objects that carry their entity type name.
type Named interface {
	EntityType() string
}
