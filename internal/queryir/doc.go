// Package queryir provides the query intermediate representation shared by
// the filter compiler, the streaming reader and the SQL backend.
//
// The IR describes the shape of a read against one root table:
//
//	[filter.Spec] → [queryir.Select] → [querysql] → SQL + args
//
// A Select names its root table and alias, the inner joins needed to reach
// related tables, a predicate tree, ordering, an optional limit and an
// optional projection or aggregate. Field references are always qualified
// with an alias ("t0.status", "j1.id") so that the backend never has to
// resolve names.
//
// Predicate is a sealed interface using the marker method pattern. Only
// Equals, In and And implement it, which keeps backend type switches
// exhaustive:
//
//	switch p := pred.(type) {
//	case Equals:
//	case In:
//	case And:
//	}
//
// Values carried by predicates are already coerced to their Go types
// (int64, time.Time, bool, string, ...). The IR never holds untyped input.
package queryir
