package querysql

import (
	"strings"
)

// Insert builds an INSERT for the given columns. When returning is set the
// statement reads the generated column back with RETURNING, which both
// SQLite (3.35+) and Postgres support.
func (c *SQLCompiler) Insert(table string, columns []string, returning string) string {
	b := &builder{d: c.Dialect}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = QuoteIdent(col)
	}
	b.write("INSERT INTO " + QuoteIdent(table) + " (" + strings.Join(quoted, ", ") + ") VALUES (")
	for i := range columns {
		if i > 0 {
			b.write(", ")
		}
		b.bind(nil)
	}
	b.write(")")
	if returning != "" {
		b.write(" RETURNING " + QuoteIdent(returning))
	}
	return b.sb.String()
}

// Update builds an UPDATE setting columns by key. Arguments are the column
// values in order followed by the key value.
func (c *SQLCompiler) Update(table string, columns []string, key string) string {
	b := &builder{d: c.Dialect}
	b.write("UPDATE " + QuoteIdent(table) + " SET ")
	for i, col := range columns {
		if i > 0 {
			b.write(", ")
		}
		b.write(QuoteIdent(col) + " = ")
		b.bind(nil)
	}
	b.write(" WHERE " + QuoteIdent(key) + " = ")
	b.bind(nil)
	return b.sb.String()
}

// Delete builds a DELETE by key.
func (c *SQLCompiler) Delete(table, key string) string {
	b := &builder{d: c.Dialect}
	b.write("DELETE FROM " + QuoteIdent(table) + " WHERE " + QuoteIdent(key) + " = ")
	b.bind(nil)
	return b.sb.String()
}

// SelectByKey builds a single-row lookup of the given columns by key.
func (c *SQLCompiler) SelectByKey(table string, columns []string, key string) string {
	b := &builder{d: c.Dialect}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = QuoteIdent(col)
	}
	b.write("SELECT " + strings.Join(quoted, ", ") + " FROM " + QuoteIdent(table) +
		" WHERE " + QuoteIdent(key) + " = ")
	b.bind(nil)
	return b.sb.String()
}

// SelectColumn builds a read of every value of one column.
func (c *SQLCompiler) SelectColumn(table, column string) string {
	return "SELECT " + QuoteIdent(column) + " FROM " + QuoteIdent(table)
}
