// Package filter compiles filter specifications into queries.
//
// A specification maps field names to candidate values. Values of one field
// are alternatives (field IN values); fields are combined with AND. A field
// whose value set is empty or exactly the sentinel {"1"} places no
// restriction. Every value passes through the field's coercion rule before
// it reaches the query, and a coercion failure aborts the whole compilation.
//
// Dotted field names such as "audienceTypes.id" address a property of a
// related entity; the join for each related path is created once per query.
package filter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/persistkit/internal/queryir"
	"github.com/roach88/persistkit/internal/store"
)

// Sentinel is the single value that means "do not restrict this field".
const Sentinel = "1"

const rootAlias = "t0"

// Spec maps field names to candidate values.
type Spec map[string][]any

// Where returns a copy of s with field restricted to values.
func (s Spec) Where(field string, values ...any) Spec {
	out := make(Spec, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[field] = values
	return out
}

// IsPassthrough reports whether a value set places no restriction: nil,
// empty, or exactly the sentinel "1".
func IsPassthrough(values []any) bool {
	if len(values) == 0 {
		return true
	}
	if len(values) != 1 {
		return false
	}
	s, ok := values[0].(string)
	return ok && s == Sentinel
}

type options struct {
	orderNames []orderName
	limit      int
	projection string
	aggregate  *aggregate
	exact      bool
}

type orderName struct {
	field string
	desc  bool
}

type aggregate struct {
	fn    queryir.AggregateFunc
	field string
}

// Option shapes the compiled query.
type Option func(*options)

// WithOrder sorts by a property of the root entity. The identity column is
// always appended as the final tiebreaker.
func WithOrder(field string, desc bool) Option {
	return func(o *options) { o.orderNames = append(o.orderNames, orderName{field, desc}) }
}

// WithLimit caps the number of rows.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithProjection selects a single property of the root entity.
func WithProjection(field string) Option {
	return func(o *options) { o.projection = field }
}

// WithAggregate replaces the result with an aggregate over a root property.
// An empty field with queryir.Count counts rows.
func WithAggregate(fn queryir.AggregateFunc, field string) Option {
	return func(o *options) { o.aggregate = &aggregate{fn, field} }
}

// Exact disables the sentinel: a value set of exactly {"1"} restricts the
// field to "1" like any other value. Empty sets still place no restriction.
func Exact() Option {
	return func(o *options) { o.exact = true }
}

// compiler holds per-query alias state.
type compiler struct {
	root    *store.Mapping
	rules   Rules
	joins   []queryir.Join
	aliases map[string]string // related path -> alias
}

// Compile builds a query over m restricted by spec. Fields are processed
// in sorted order so the same spec always yields the same query.
func Compile(m *store.Mapping, spec Spec, rules Rules, opts ...Option) (queryir.Select, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &compiler{root: m, rules: rules, aliases: make(map[string]string)}

	fields := make([]string, 0, len(spec))
	for f := range spec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var preds []queryir.Predicate
	for _, field := range fields {
		values := spec[field]
		if len(values) == 0 || (!o.exact && IsPassthrough(values)) {
			slog.Debug("no restriction on property", "entity", m.Entity, "field", field)
			continue
		}
		pred, err := c.predicate(field, values)
		if err != nil {
			return queryir.Select{}, err
		}
		preds = append(preds, pred)
	}

	q := queryir.Select{
		From:     m.Table,
		Alias:    rootAlias,
		Key:      qualify(rootAlias, m.IDColumn()),
		Joins:    c.joins,
		Filter:   queryir.Conjoin(preds...),
		Distinct: len(c.joins) > 0,
		Limit:    o.limit,
	}

	for _, on := range o.orderNames {
		col, err := c.rootColumn(on.field)
		if err != nil {
			return queryir.Select{}, err
		}
		q.Order = append(q.Order, queryir.Order{Field: col, Desc: on.desc})
	}
	if o.projection != "" {
		col, err := c.rootColumn(o.projection)
		if err != nil {
			return queryir.Select{}, err
		}
		q.Columns = []string{col}
	}
	if o.aggregate != nil {
		agg := &queryir.Aggregate{Func: o.aggregate.fn}
		if o.aggregate.field != "" {
			col, err := c.rootColumn(o.aggregate.field)
			if err != nil {
				return queryir.Select{}, err
			}
			agg.Field = col
		}
		q.Aggregate = agg
	}
	return q, nil
}

func (c *compiler) predicate(field string, values []any) (queryir.Predicate, error) {
	col, prop, known, err := c.resolve(field)
	if err != nil {
		return nil, err
	}

	coerce, ok := c.rules.Lookup(field)
	switch {
	case ok:
	case known:
		coerce = ForType(prop)
	default:
		coerce = Identity
	}

	seen := make(map[string]bool, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		cv, err := coerce(v)
		if err != nil {
			return nil, store.NewError(store.KindCoercion, "compile filter",
				fmt.Errorf("field %q value %v: %w", field, v, err))
		}
		key := fmt.Sprintf("%T:%v", cv, cv)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cv)
	}
	return queryir.In{Field: col, Values: out}, nil
}

// resolve maps a field name to a qualified column, joining related
// entities along dotted paths. A name the mapping does not know is used as
// a root column as-is.
func (c *compiler) resolve(field string) (string, store.Property, bool, error) {
	parts := strings.Split(field, ".")
	m := c.root
	alias := rootAlias
	for i, rel := range parts[:len(parts)-1] {
		r, ok := m.Relations[rel]
		if !ok || r.Target == nil {
			return "", store.Property{}, false, store.NewError(store.KindGeneral, "compile filter",
				fmt.Errorf("%s has no relation %q", m.Entity, rel))
		}
		path := strings.Join(parts[:i+1], ".")
		next, ok := c.aliases[path]
		if !ok {
			next = fmt.Sprintf("j%d", len(c.joins)+1)
			c.aliases[path] = next
			c.joins = append(c.joins, queryir.Join{
				Table:  r.Target.Table,
				Alias:  next,
				From:   qualify(alias, r.LocalColumn),
				Column: r.TargetColumn,
			})
		}
		m, alias = r.Target, next
	}

	name := parts[len(parts)-1]
	if p, ok := m.Property(name); ok {
		return qualify(alias, p.ColumnName()), p, true, nil
	}
	return qualify(alias, name), store.Property{}, false, nil
}

func (c *compiler) rootColumn(name string) (string, error) {
	p, ok := c.root.Property(name)
	if !ok {
		return "", store.NewError(store.KindGeneral, "compile filter",
			fmt.Errorf("%s has no property %q", c.root.Entity, name))
	}
	return qualify(rootAlias, p.ColumnName()), nil
}

func qualify(alias, column string) string {
	return alias + "." + column
}
