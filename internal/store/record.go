package store

import (
	"encoding/json"
	"fmt"
)

// Record is a map-like entity whose shape comes from its Mapping. It backs
// entities declared in configuration rather than compiled in.
type Record struct {
	mapping *Mapping
	values  []any
	user    string
}

// NewRecord creates an empty record for m.
func NewRecord(m *Mapping) *Record {
	return &Record{mapping: m, values: make([]any, len(m.Properties))}
}

func (r *Record) Mapping() *Mapping { return r.mapping }

func (r *Record) State() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

func (r *Record) SetState(state []any) error {
	if len(state) != len(r.values) {
		return fmt.Errorf("%s: state has %d values, want %d", r.mapping.Entity, len(state), len(r.values))
	}
	copy(r.values, state)
	return nil
}

// Get returns the value of the named property, or nil.
func (r *Record) Get(name string) any {
	if i := r.mapping.Index(name); i >= 0 {
		return r.values[i]
	}
	return nil
}

// Set assigns the named property.
func (r *Record) Set(name string, v any) error {
	i := r.mapping.Index(name)
	if i < 0 {
		return fmt.Errorf("%s has no property %q", r.mapping.Entity, name)
	}
	r.values[i] = v
	return nil
}

// ID returns the identity value.
func (r *Record) ID() any {
	return r.Get(r.mapping.ID)
}

// SetAuditUser records the user responsible for the next write.
func (r *Record) SetAuditUser(user string) { r.user = user }

// AuditUser implements Auditable.
func (r *Record) AuditUser() string { return r.user }

// Fields returns the record as a name to value map.
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, p := range r.mapping.Properties {
		out[p.Name] = r.values[i]
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields())
}
