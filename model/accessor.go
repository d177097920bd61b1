package model

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// Accessor reads and writes the property values of one entity instance.
// Accessors are produced per entity type at configuration time, so the
// tracker never inspects application objects through reflection.
type Accessor interface {
	Get(p *Property) any
	Set(p *Property, v any)
}

// Binding connects an entity type to the Go representation of its
// instances.
type Binding interface {
	bind(t *EntityType) error
}

// Bag is a dynamic entity whose values are kept in a map. Bags are useful
// for shared-type entities and tests.
type Bag struct {
	typ    string
	values map[string]any
}

// NewBag returns a bag entity of the named type holding a copy of values.
func NewBag(typeName string, values map[string]any) *Bag {
	b := &Bag{typ: typeName, values: make(map[string]any, len(values))}
	maps.Copy(b.values, values)
	return b
}

// EntityType implements Named.
func (b *Bag) EntityType() string { return b.typ }

// Get returns the named value.
func (b *Bag) Get(name string) any { return b.values[name] }

// Set assigns the named value directly, bypassing the tracker.
func (b *Bag) Set(name string, v any) { b.values[name] = v }

// Names returns the names of the stored values in sorted order.
func (b *Bag) Names() []string { return slices.Sorted(maps.Keys(b.values)) }

func (b *Bag) String() string { return fmt.Sprintf("%s%v", b.typ, b.values) }

type bagAccessor struct{ b *Bag }

func (a bagAccessor) Get(p *Property) any    { return a.b.values[p.Name] }
func (a bagAccessor) Set(p *Property, v any) { a.b.values[p.Name] = v }

type bagBinding struct{}

func (bagBinding) bind(t *EntityType) error {
	t.access = func(entity any) (Accessor, bool) {
		b, ok := entity.(*Bag)
		if !ok || b.typ != t.Name {
			return nil, false
		}
		return bagAccessor{b}, true
	}
	return nil
}

// Bags binds an entity type to *Bag instances. It is the default binding.
func Bags() Binding { return bagBinding{} }

// Field accesses one property of a struct entity.
type Field[T any] struct {
	Get func(*T) any
	Set func(*T, any)
}

// Fields is an accessor table keyed by property name.
type Fields[T any] map[string]Field[T]

type structBinding[T any] struct {
	fields Fields[T]
}

// Struct binds an entity type to *T instances through an accessor table.
// Every property of the type must have an entry.
//
//	model.Type("Customer").Bind(model.Struct(model.Fields[Customer]{
//	    "ID":   {Get: func(c *Customer) any { return c.ID }, Set: func(c *Customer, v any) { c.ID = v.(int64) }},
//	    "Name": {Get: func(c *Customer) any { return c.Name }, Set: func(c *Customer, v any) { c.Name = v.(string) }},
//	}))
func Struct[T any](fields Fields[T]) Binding {
	return structBinding[T]{fields: fields}
}

func (s structBinding[T]) bind(t *EntityType) error {
	table := make([]Field[T], len(t.props))
	for _, p := range t.props {
		f, ok := s.fields[p.Name]
		if !ok || f.Get == nil || f.Set == nil {
			return NewSchemaError(t.Name, p.Name, "missing accessor", nil)
		}
		table[p.index] = f
	}
	t.goType = reflect.TypeFor[*T]()
	t.access = func(entity any) (Accessor, bool) {
		v, ok := entity.(*T)
		if !ok || v == nil {
			return nil, false
		}
		return structAccessor[T]{v: v, table: table}, true
	}
	return nil
}

type structAccessor[T any] struct {
	v     *T
	table []Field[T]
}

func (a structAccessor[T]) Get(p *Property) any    { return a.table[p.index].Get(a.v) }
func (a structAccessor[T]) Set(p *Property, v any) { a.table[p.index].Set(a.v, v) }
