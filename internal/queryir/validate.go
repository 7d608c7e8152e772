package queryir

import (
	"fmt"
	"strings"
)

// ValidationResult lists structural problems found in a Select.
type ValidationResult struct {
	Errors []string
}

// OK reports whether the query is structurally sound.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Err folds the result into a single error, or nil.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("invalid query: %s", strings.Join(r.Errors, "; "))
}

// Validate checks that every alias is declared once, that joins only
// reference aliases declared before them and that every field reference
// is qualified with a known alias.
//
// Validate is a pure function with no side effects.
func Validate(q Select) ValidationResult {
	v := &validator{aliases: map[string]bool{}}
	v.validateSelect(q)
	return ValidationResult{Errors: v.errs}
}

type validator struct {
	aliases map[string]bool
	errs    []string
}

func (v *validator) addError(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *validator) validateSelect(q Select) {
	if q.From == "" {
		v.addError("missing root table")
	}
	if q.Alias == "" {
		v.addError("missing root alias")
	}
	v.aliases[q.Alias] = true

	for _, j := range q.Joins {
		v.checkField("join "+j.Alias, j.From)
		if j.Alias == "" || j.Table == "" || j.Column == "" {
			v.addError("incomplete join %q", j.Alias)
			continue
		}
		if v.aliases[j.Alias] {
			v.addError("alias %q declared twice", j.Alias)
		}
		v.aliases[j.Alias] = true
	}

	if q.Key != "" {
		v.checkField("key", q.Key)
	}
	for _, c := range q.Columns {
		v.checkField("column", c)
	}
	for _, o := range q.Order {
		v.checkField("order", o.Field)
	}
	if q.Limit < 0 {
		v.addError("negative limit %d", q.Limit)
	}
	if q.Aggregate != nil && q.Aggregate.Field != "" {
		v.checkField("aggregate", q.Aggregate.Field)
	}
	if q.Filter != nil {
		v.validatePredicate(q.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.checkField("equals", pred.Field)
	case *Equals:
		v.checkField("equals", pred.Field)
	case In:
		v.checkField("in", pred.Field)
		if len(pred.Values) == 0 {
			v.addError("empty value set for %q", pred.Field)
		}
	case *In:
		v.validatePredicate(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case *And:
		v.validatePredicate(*pred)
	case nil:
	default:
		v.addError("unsupported predicate type %T", p)
	}
}

func (v *validator) checkField(where, field string) {
	alias, col, ok := strings.Cut(field, ".")
	if !ok || alias == "" || col == "" {
		v.addError("%s: field %q is not qualified", where, field)
		return
	}
	if !v.aliases[alias] {
		v.addError("%s: unknown alias %q", where, alias)
	}
}
