package queryir

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Select is a read against one root table.
//
// Semantics:
//
//	SELECT [DISTINCT] <columns|aggregate> FROM <from> AS <alias>
//	  [INNER JOIN <join.table> AS <join.alias> ON ...]
//	  [WHERE <filter>] [ORDER BY <order>, <key> ASC] [LIMIT <limit>]
type Select struct {
	From  string // root table
	Alias string // root alias, e.g. "t0"
	Key   string // qualified identity column used as the ordering tiebreaker

	// Columns are qualified column references. Empty selects every column
	// of the root alias.
	Columns []string

	// Distinct collapses duplicate root rows produced by joins.
	Distinct bool

	Joins     []Join
	Filter    Predicate // nil = no filter
	Order     []Order
	Limit     int // 0 = unbounded
	Aggregate *Aggregate
}

// Join is an inner join from an already-declared alias to a related table.
//
//	INNER JOIN <Table> AS <Alias> ON <From> = <Alias>.<Column>
type Join struct {
	Table  string
	Alias  string
	From   string // qualified column on the left side, e.g. "t0.owner_id"
	Column string // column on the joined table
}

// Order sorts results by a qualified column.
type Order struct {
	Field string
	Desc  bool
}

// AggregateFunc names a supported aggregate.
type AggregateFunc string

const (
	Count AggregateFunc = "COUNT"
	Sum   AggregateFunc = "SUM"
	Max   AggregateFunc = "MAX"
)

// Aggregate replaces the column list with a single aggregate value.
// An empty Field means COUNT(*).
type Aggregate struct {
	Func  AggregateFunc
	Field string
}

// Equals represents a field-equals-value predicate.
//
//	<field> = <value>
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// In represents a field-in-set predicate: the field matches any of the
// values (field = v1 OR field = v2 ...). An In with one value compiles to
// Equals.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// And requires every predicate to hold. An empty And is vacuously true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Conjoin flattens predicates into a single And, dropping nils.
// Returns nil when nothing remains, and the lone predicate when only one does.
func Conjoin(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
			continue
		case And:
			out = append(out, v.Predicates...)
		case *And:
			out = append(out, v.Predicates...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return And{Predicates: out}
	}
}
