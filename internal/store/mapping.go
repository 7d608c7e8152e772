package store

import (
	"fmt"

	"github.com/roach88/persistkit/internal/config"
)

// PropertyType is the storage type of a mapped property. It drives value
// conversion on load and parameter coercion in filters.
type PropertyType int

const (
	TypeText PropertyType = iota
	TypeInt64
	TypeInt32
	TypeFloat
	TypeBool
	TypeDate
	TypeTimestamp
	TypeEnum
)

var propertyTypeNames = map[PropertyType]string{
	TypeText:      "text",
	TypeInt64:     "int64",
	TypeInt32:     "int32",
	TypeFloat:     "float",
	TypeBool:      "bool",
	TypeDate:      "date",
	TypeTimestamp: "timestamp",
	TypeEnum:      "enum",
}

func (t PropertyType) String() string {
	if name, ok := propertyTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PropertyType(%d)", int(t))
}

// ParseType resolves a configuration type name.
func ParseType(name string) (PropertyType, error) {
	for t, n := range propertyTypeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeText, fmt.Errorf("unknown property type %q", name)
}

// Property is one mapped field of an entity.
type Property struct {
	Name   string       // logical name used by filters and interceptors
	Column string       // storage column; empty means Name
	Type   PropertyType
	Enum   []string // allowed values for TypeEnum
}

// ColumnName returns the storage column of the property.
func (p Property) ColumnName() string {
	if p.Column == "" {
		return p.Name
	}
	return p.Column
}

// Relation links an entity to another through a foreign key column, so that
// filters can reach related properties with dotted paths such as
// "audienceTypes.id".
type Relation struct {
	Target       *Mapping
	LocalColumn  string // column on the owning table
	TargetColumn string // column on the target table
}

// Mapping describes how an entity type is stored.
//
// Entity state is exchanged as a slice ordered like Properties, so interceptors
// can address fields by index the same way for every entity type.
type Mapping struct {
	Entity     string
	Table      string
	ID         string // name of the identity property
	Generated  bool   // identity assigned by the engine on insert
	Properties []Property
	Relations  map[string]Relation
	New        func() Persistable
}

// Index returns the position of the named property, or -1.
func (m *Mapping) Index(name string) int {
	for i, p := range m.Properties {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Property looks up a property by name.
func (m *Mapping) Property(name string) (Property, bool) {
	if i := m.Index(name); i >= 0 {
		return m.Properties[i], true
	}
	return Property{}, false
}

// IndexOfColumn returns the position of the property stored in column, or -1.
func (m *Mapping) IndexOfColumn(column string) int {
	for i, p := range m.Properties {
		if p.ColumnName() == column {
			return i
		}
	}
	return -1
}

// IDIndex returns the position of the identity property.
func (m *Mapping) IDIndex() int {
	return m.Index(m.ID)
}

// IDColumn returns the storage column of the identity property.
func (m *Mapping) IDColumn() string {
	if p, ok := m.Property(m.ID); ok {
		return p.ColumnName()
	}
	return m.ID
}

// Columns returns the storage columns in property order.
func (m *Mapping) Columns() []string {
	cols := make([]string, len(m.Properties))
	for i, p := range m.Properties {
		cols[i] = p.ColumnName()
	}
	return cols
}

// Validate checks that the mapping is usable.
func (m *Mapping) Validate() error {
	if m.Table == "" {
		return fmt.Errorf("mapping %q: missing table", m.Entity)
	}
	if m.IDIndex() < 0 {
		return fmt.Errorf("mapping %q: identity %q is not a property", m.Entity, m.ID)
	}
	if m.New == nil {
		return fmt.Errorf("mapping %q: missing constructor", m.Entity)
	}
	seen := make(map[string]bool, len(m.Properties))
	for _, p := range m.Properties {
		if seen[p.Name] {
			return fmt.Errorf("mapping %q: duplicate property %q", m.Entity, p.Name)
		}
		seen[p.Name] = true
		if p.Type == TypeEnum && len(p.Enum) == 0 {
			return fmt.Errorf("mapping %q: enum property %q has no values", m.Entity, p.Name)
		}
	}
	return nil
}

// MappingFromConfig builds a Record-backed mapping from a configured entity.
func MappingFromConfig(e config.Entity) (*Mapping, error) {
	m := &Mapping{
		Entity:    e.Name,
		Table:     e.Table,
		ID:        e.ID,
		Generated: e.Generated,
	}
	for _, p := range e.Properties {
		t, err := ParseType(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("entity %q property %q: %w", e.Name, p.Name, err)
		}
		m.Properties = append(m.Properties, Property{
			Name:   p.Name,
			Column: p.Column,
			Type:   t,
			Enum:   p.Enum,
		})
	}
	m.New = func() Persistable { return NewRecord(m) }
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Persistable is an entity the store can save, load and track.
type Persistable interface {
	// Mapping describes the entity's storage.
	Mapping() *Mapping
	// State returns the property values in mapping order. The returned
	// slice is owned by the caller.
	State() []any
	// SetState replaces the property values, in mapping order.
	SetState(state []any) error
}

// Auditable is implemented by entities that carry the acting user for the
// audit trail.
type Auditable interface {
	AuditUser() string
}

// IDOf returns the identity value of an entity.
func IDOf(e Persistable) any {
	i := e.Mapping().IDIndex()
	if i < 0 {
		return nil
	}
	return e.State()[i]
}
