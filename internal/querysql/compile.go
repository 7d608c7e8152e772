// Package querysql compiles queryir selects and entity write statements to
// parameterized SQL.
//
// All values are parameterized, never interpolated. Every non-aggregate
// select ends with a deterministic ORDER BY whose last term is the identity
// column, so repeated reads return rows in the same order.
package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/persistkit/internal/queryir"
)

// Dialect selects placeholder and quoting style.
type Dialect int

const (
	// SQLite uses "?" placeholders (mattn/go-sqlite3, modernc.org/sqlite).
	SQLite Dialect = iota
	// Postgres uses "$n" placeholders (pgx stdlib).
	Postgres
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) Dialect {
	switch driver {
	case "pgx", "postgres", "pgx/v5":
		return Postgres
	default:
		return SQLite
	}
}

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLCompiler compiles queries for one dialect.
type SQLCompiler struct {
	Dialect Dialect
}

// NewSQLCompiler creates a compiler for the given dialect.
func NewSQLCompiler(d Dialect) *SQLCompiler {
	return &SQLCompiler{Dialect: d}
}

// builder accumulates SQL text and arguments with dialect-aware placeholders.
type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(s string) { b.sb.WriteString(s) }

func (b *builder) bind(v any) {
	b.args = append(b.args, v)
	if b.d == Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
		return
	}
	b.sb.WriteString("?")
}

// Compile converts a Select into SQL and its ordered arguments.
func (c *SQLCompiler) Compile(q queryir.Select) (string, []any, error) {
	if err := queryir.Validate(q).Err(); err != nil {
		return "", nil, err
	}

	b := &builder{d: c.Dialect}

	if q.Aggregate != nil && q.Distinct {
		// Aggregate over distinct root rows so joins cannot inflate the result.
		inner := q
		inner.Aggregate = nil
		inner.Columns = nil
		inner.Order = nil
		inner.Limit = 0
		b.write("SELECT ")
		if err := c.writeAggregate(b, q.Aggregate, "sub"); err != nil {
			return "", nil, err
		}
		b.write(" FROM (")
		if err := c.writeSelect(b, inner, false); err != nil {
			return "", nil, err
		}
		b.write(") AS " + QuoteIdent("sub"))
		return b.sb.String(), b.args, nil
	}

	if err := c.writeSelect(b, q, q.Aggregate == nil); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

func (c *SQLCompiler) writeSelect(b *builder, q queryir.Select, ordered bool) error {
	b.write("SELECT ")
	if q.Distinct {
		b.write("DISTINCT ")
	}

	switch {
	case q.Aggregate != nil:
		if err := c.writeAggregate(b, q.Aggregate, ""); err != nil {
			return err
		}
	case len(q.Columns) == 0:
		b.write(QuoteIdent(q.Alias) + ".*")
	default:
		cols := make([]string, len(q.Columns))
		for i, col := range q.Columns {
			cols[i] = QuoteField(col)
		}
		b.write(strings.Join(cols, ", "))
	}

	b.write(" FROM " + QuoteIdent(q.From) + " AS " + QuoteIdent(q.Alias))

	for _, j := range q.Joins {
		b.write(fmt.Sprintf(" INNER JOIN %s AS %s ON %s = %s.%s",
			QuoteIdent(j.Table), QuoteIdent(j.Alias),
			QuoteField(j.From), QuoteIdent(j.Alias), QuoteIdent(j.Column)))
	}

	if q.Filter != nil {
		b.write(" WHERE ")
		if err := c.writePredicate(b, q.Filter); err != nil {
			return fmt.Errorf("compile filter: %w", err)
		}
	}

	if ordered {
		if order := stableOrder(q); order != "" {
			b.write(" ORDER BY " + order)
		}
	}

	if q.Limit > 0 {
		b.write(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return nil
}

// writeAggregate emits the aggregate expression. When outer is set the
// field is re-qualified against the derived table of distinct root rows.
func (c *SQLCompiler) writeAggregate(b *builder, agg *queryir.Aggregate, outer string) error {
	switch agg.Func {
	case queryir.Count, queryir.Sum, queryir.Max:
	default:
		return fmt.Errorf("unsupported aggregate %q", agg.Func)
	}
	if agg.Field == "" {
		if agg.Func != queryir.Count {
			return fmt.Errorf("%s requires a field", agg.Func)
		}
		b.write("COUNT(*)")
		return nil
	}
	field := QuoteField(agg.Field)
	if outer != "" {
		_, col, _ := strings.Cut(agg.Field, ".")
		field = QuoteIdent(outer) + "." + QuoteIdent(col)
	}
	b.write(fmt.Sprintf("%s(%s)", agg.Func, field))
	return nil
}

// stableOrder returns the ORDER BY terms. The identity column is always the
// final tiebreaker unless the caller already ordered by it.
func stableOrder(q queryir.Select) string {
	var parts []string
	hasKey := false
	for _, o := range q.Order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, QuoteField(o.Field)+" "+dir)
		if o.Field == q.Key {
			hasKey = true
		}
	}
	if q.Key != "" && !hasKey {
		parts = append(parts, QuoteField(q.Key)+" ASC")
	}
	return strings.Join(parts, ", ")
}

// writePredicate compiles a predicate tree.
// CRITICAL: values are never interpolated.
func (c *SQLCompiler) writePredicate(b *builder, p queryir.Predicate) error {
	switch pred := p.(type) {
	case queryir.Equals:
		return c.writeEquals(b, pred.Field, pred.Value)
	case *queryir.Equals:
		return c.writeEquals(b, pred.Field, pred.Value)
	case queryir.In:
		return c.writeIn(b, pred)
	case *queryir.In:
		return c.writeIn(b, *pred)
	case queryir.And:
		return c.writeAnd(b, pred)
	case *queryir.And:
		return c.writeAnd(b, *pred)
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) writeEquals(b *builder, field string, value any) error {
	if value == nil {
		b.write(QuoteField(field) + " IS NULL")
		return nil
	}
	b.write(QuoteField(field) + " = ")
	b.bind(value)
	return nil
}

func (c *SQLCompiler) writeIn(b *builder, in queryir.In) error {
	switch len(in.Values) {
	case 0:
		return fmt.Errorf("empty value set for %s", in.Field)
	case 1:
		return c.writeEquals(b, in.Field, in.Values[0])
	}
	b.write(QuoteField(in.Field) + " IN (")
	for i, v := range in.Values {
		if i > 0 {
			b.write(", ")
		}
		b.bind(v)
	}
	b.write(")")
	return nil
}

func (c *SQLCompiler) writeAnd(b *builder, and queryir.And) error {
	if len(and.Predicates) == 0 {
		b.write("1 = 1")
		return nil
	}
	for i, p := range and.Predicates {
		if i > 0 {
			b.write(" AND ")
		}
		_, nested := p.(queryir.And)
		if nested {
			b.write("(")
		}
		if err := c.writePredicate(b, p); err != nil {
			return err
		}
		if nested {
			b.write(")")
		}
	}
	return nil
}

// QuoteIdent double-quotes an identifier, escaping embedded quotes.
// Double quotes are the identifier quote in both SQLite and Postgres.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteField quotes each dot-separated part of a qualified reference.
func QuoteField(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}
