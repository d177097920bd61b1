package model

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"
)

// FieldBuilder configures a property.
type FieldBuilder struct {
	p        *Property
	key      bool
	generate bool
}

// Any returns a builder for a property of any kind.
func Any(name string) *FieldBuilder { return newField(name, KindAny) }

// Int64 returns a builder for an integer property.
func Int64(name string) *FieldBuilder { return newField(name, KindInt64) }

// String returns a builder for a string property.
func String(name string) *FieldBuilder { return newField(name, KindString) }

// Bool returns a builder for a boolean property.
func Bool(name string) *FieldBuilder { return newField(name, KindBool) }

// Float64 returns a builder for a floating point property.
func Float64(name string) *FieldBuilder { return newField(name, KindFloat64) }

// Bytes returns a builder for a byte slice property.
func Bytes(name string) *FieldBuilder { return newField(name, KindBytes) }

// Time returns a builder for a time property.
func Time(name string) *FieldBuilder { return newField(name, KindTime) }

// UUID returns a builder for a UUID property.
func UUID(name string) *FieldBuilder { return newField(name, KindUUID) }

func newField(name string, k Kind) *FieldBuilder {
	return &FieldBuilder{p: &Property{Name: name, Kind: k, keyIndex: -1}}
}

// Column sets the storage column name. Defaults to the snake-cased name.
func (b *FieldBuilder) Column(name string) *FieldBuilder {
	b.p.Column = name
	return b
}

// Key adds the property to the primary key, in declaration order.
func (b *FieldBuilder) Key() *FieldBuilder {
	b.key = true
	return b
}

// Optional makes the property nullable.
func (b *FieldBuilder) Optional() *FieldBuilder {
	b.p.Nullable = true
	return b
}

// Generated marks the value as generated on insert. Integer and string
// properties receive a temporary placeholder that the store replaces;
// UUID properties are generated on the client.
func (b *FieldBuilder) Generated() *FieldBuilder {
	b.p.Generated = OnAdd
	b.generate = true
	return b
}

// GeneratedBy marks the value as generated on insert by fn on the client.
func (b *FieldBuilder) GeneratedBy(fn func() any) *FieldBuilder {
	b.p.Generated = OnAdd
	b.p.generator = fn
	return b
}

// Computed marks the value as computed by the store on every write. The
// tracker never writes it and reads it back after inserts and updates.
func (b *FieldBuilder) Computed() *FieldBuilder {
	b.p.Generated = OnAddOrUpdate
	return b
}

// ConcurrencyToken adds the original value of the property to the
// predicate of updates and deletes.
func (b *FieldBuilder) ConcurrencyToken() *FieldBuilder {
	b.p.ConcurrencyToken = true
	return b
}

// Comparer overrides the equality used by change detection.
func (b *FieldBuilder) Comparer(c Comparer) *FieldBuilder {
	b.p.comparer = c
	return b
}

// EdgeBuilder configures a foreign key from the dependent side.
type EdgeBuilder struct {
	nav        string
	target     string
	fields     []string
	ref        string
	unique     bool
	onDelete   DeleteBehavior
	onDeleteOK bool
	name       string
}

// From declares a relationship to the target principal type. nav names the
// reference navigation on the dependent and may be empty.
func From(nav, target string) *EdgeBuilder {
	return &EdgeBuilder{nav: nav, target: target}
}

// Field sets the foreign key properties of the dependent, matching the
// principal primary key in order.
func (b *EdgeBuilder) Field(names ...string) *EdgeBuilder {
	b.fields = append(b.fields, names...)
	return b
}

// Ref names the navigation on the principal. It is a collection unless
// Unique is set.
func (b *EdgeBuilder) Ref(name string) *EdgeBuilder {
	b.ref = name
	return b
}

// Unique makes the relationship one-to-one.
func (b *EdgeBuilder) Unique() *EdgeBuilder {
	b.unique = true
	return b
}

// OnDelete sets the delete behavior. Required relationships default to
// Cascade, optional ones to SetNull.
func (b *EdgeBuilder) OnDelete(d DeleteBehavior) *EdgeBuilder {
	b.onDelete = d
	b.onDeleteOK = true
	return b
}

// Name overrides the generated foreign key name.
func (b *EdgeBuilder) Name(name string) *EdgeBuilder {
	b.name = name
	return b
}

// TypeBuilder configures an entity type.
type TypeBuilder struct {
	t       *EntityType
	fields  []*FieldBuilder
	edges   []*EdgeBuilder
	binding Binding
}

// Type returns a builder for the named entity type.
func Type(name string) *TypeBuilder {
	return &TypeBuilder{t: &EntityType{Name: name}}
}

// Table sets the table name. Defaults to the pluralized snake-cased name.
func (b *TypeBuilder) Table(name string) *TypeBuilder {
	b.t.Table = name
	return b
}

// Fields adds properties.
func (b *TypeBuilder) Fields(fields ...*FieldBuilder) *TypeBuilder {
	b.fields = append(b.fields, fields...)
	return b
}

// Edges adds relationships in which this type is the dependent.
func (b *TypeBuilder) Edges(edges ...*EdgeBuilder) *TypeBuilder {
	b.edges = append(b.edges, edges...)
	return b
}

// Bind sets how instances are represented. Defaults to Bags.
func (b *TypeBuilder) Bind(binding Binding) *TypeBuilder {
	b.binding = binding
	return b
}

// Notifications switches the type to change notifications: snapshot
// detection skips it and every mutation must go through the tracker.
func (b *TypeBuilder) Notifications() *TypeBuilder {
	b.t.Strategy = Notifications
	return b
}

// StoredProcedures marks the type as mapped to stored procedures, whose
// calls cannot share a batch.
func (b *TypeBuilder) StoredProcedures() *TypeBuilder {
	b.t.NoBatching = true
	return b
}

// Build validates the builders and returns the model.
func Build(types ...*TypeBuilder) (*Model, error) {
	m := &Model{
		byName:  make(map[string]*EntityType, len(types)),
		byGoTyp: make(map[reflect.Type]*EntityType),
	}
	for _, tb := range types {
		if err := tb.buildType(m); err != nil {
			return nil, err
		}
	}
	for _, tb := range types {
		if err := tb.buildEdges(m); err != nil {
			return nil, err
		}
	}
	for _, tb := range types {
		binding := tb.binding
		if binding == nil {
			binding = Bags()
		}
		if err := binding.bind(tb.t); err != nil {
			return nil, err
		}
		if gt := tb.t.goType; gt != nil {
			if other, ok := m.byGoTyp[gt]; ok {
				return nil, NewSchemaError(tb.t.Name, "", fmt.Sprintf("Go type %s already bound to %s", gt, other.Name), nil)
			}
			m.byGoTyp[gt] = tb.t
		}
	}
	return m, nil
}

func (b *TypeBuilder) buildType(m *Model) error {
	t := b.t
	if t.Name == "" {
		return NewSchemaError("", "", "entity type name is required", nil)
	}
	if _, ok := m.byName[t.Name]; ok {
		return NewSchemaError(t.Name, "", "duplicate entity type", nil)
	}
	if t.Table == "" {
		t.Table = inflect.Pluralize(snake(t.Name))
	}
	t.byName = make(map[string]*Property, len(b.fields))
	t.navs = make(map[string]*Navigation)
	t.model = m
	for _, fb := range b.fields {
		p := fb.p
		if p.Name == "" {
			return NewSchemaError(t.Name, "", "property name is required", nil)
		}
		if _, ok := t.byName[p.Name]; ok {
			return NewSchemaError(t.Name, p.Name, "duplicate property", nil)
		}
		if p.Column == "" {
			p.Column = snake(p.Name)
		}
		if fb.generate {
			switch p.Kind {
			case KindInt64, KindString:
				p.temporary = true
			case KindUUID:
				p.generator = func() any { return uuid.New() }
			default:
				return NewSchemaError(t.Name, p.Name, fmt.Sprintf("kind %s cannot be generated", p.Kind), nil)
			}
		}
		if p.comparer == nil {
			p.comparer = DefaultComparer(p.Kind)
		}
		p.index = len(t.props)
		p.declaring = t
		if fb.key {
			if p.Nullable {
				return NewSchemaError(t.Name, p.Name, "key property cannot be optional", nil)
			}
			if p.Generated == OnAddOrUpdate {
				return NewSchemaError(t.Name, p.Name, "key property cannot be computed", nil)
			}
			p.keyIndex = len(t.key)
			t.key = append(t.key, p)
		}
		t.props = append(t.props, p)
		t.byName[p.Name] = p
	}
	if len(t.key) == 0 {
		return NewSchemaError(t.Name, "", "primary key is required", nil)
	}
	m.types = append(m.types, t)
	m.byName[t.Name] = t
	return nil
}

func (b *TypeBuilder) buildEdges(m *Model) error {
	t := b.t
	for _, eb := range b.edges {
		principal := m.byName[eb.target]
		if principal == nil {
			return NewSchemaError(t.Name, eb.nav, fmt.Sprintf("unknown principal type %q", eb.target), nil)
		}
		if len(eb.fields) != len(principal.key) {
			return NewSchemaError(t.Name, eb.nav, fmt.Sprintf("foreign key has %d properties, principal key of %s has %d",
				len(eb.fields), principal.Name, len(principal.key)), nil)
		}
		fk := &ForeignKey{
			Name:      eb.name,
			Dependent: t,
			Principal: principal,
			Unique:    eb.unique,
		}
		for i, name := range eb.fields {
			p := t.byName[name]
			if p == nil {
				return NewSchemaError(t.Name, name, "unknown foreign key property", nil)
			}
			if pk := principal.key[i]; p.Kind != pk.Kind && p.Kind != KindAny && pk.Kind != KindAny {
				return NewSchemaError(t.Name, name, fmt.Sprintf("kind %s does not match principal key %s of kind %s", p.Kind, pk, pk.Kind), nil)
			}
			fk.Properties = append(fk.Properties, p)
			p.foreignKeys = append(p.foreignKeys, fk)
		}
		fk.PrincipalKey = principal.key
		if fk.Name == "" {
			fk.Name = fmt.Sprintf("FK_%s_%s_%s", t.Table, principal.Table, fk.Properties[0].Column)
		}
		switch {
		case eb.onDeleteOK:
			fk.DeleteBehavior = eb.onDelete
		case fk.IsRequired():
			fk.DeleteBehavior = Cascade
		default:
			fk.DeleteBehavior = SetNull
		}
		if eb.nav != "" {
			nav := &Navigation{Name: eb.nav, ForeignKey: fk, OnDependent: true, declaring: t}
			if err := t.addNavigation(nav); err != nil {
				return err
			}
			fk.DependentToPrincipal = nav
		}
		if eb.ref != "" {
			nav := &Navigation{Name: eb.ref, ForeignKey: fk, Collection: !eb.unique, declaring: principal}
			if err := principal.addNavigation(nav); err != nil {
				return err
			}
			fk.PrincipalToDependent = nav
		}
		t.fks = append(t.fks, fk)
		principal.referencing = append(principal.referencing, fk)
	}
	return nil
}

func (t *EntityType) addNavigation(n *Navigation) error {
	if _, ok := t.navs[n.Name]; ok {
		return NewSchemaError(t.Name, n.Name, "duplicate navigation", nil)
	}
	if _, ok := t.byName[n.Name]; ok {
		return NewSchemaError(t.Name, n.Name, "navigation name collides with a property", nil)
	}
	t.navs[n.Name] = n
	t.navList = append(t.navList, n)
	return nil
}

// snake converts a type or property name to snake_case.
//
//	Customer   => customer
//	CustomerID => customer_id
//	HTTPCode   => http_code
func snake(s string) string {
	var (
		j int
		b strings.Builder
	)
	for i := 0; i < len(s); i++ {
		r := rune(s[i])
		// Put '_' if it is not a start or end of a word, current letter is
		// uppercase, and previous is lowercase, or next letter is lowercase
		// and previous letter is not '_'.
		if i > 0 && i < len(s)-1 && unicode.IsUpper(r) {
			if unicode.IsLower(rune(s[i-1])) ||
				j != i-1 && unicode.IsLower(rune(s[i+1])) && unicode.IsLetter(rune(s[i-1])) {
				j = i
				b.WriteString("_")
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
