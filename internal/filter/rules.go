package filter

import (
	"fmt"
	"reflect"
)

// Rule is the coercion applied to every value of one field.
type Rule struct {
	Coerce Coercer
}

// Rules maps field or parameter names to coercion rules. Names without a
// rule fall back to the mapped property type, then to Identity.
type Rules map[string]Rule

// DefaultRules returns the rules for the well-known parameter names shared
// by the entity model.
func DefaultRules() Rules {
	return Rules{
		"id":                {Coerce: Int64},
		"campaignId":        {Coerce: Int32},
		"displayDate":       {Coerce: Date},
		"userId":            {Coerce: Text},
		"screenId":          {Coerce: Text},
		"screenIds":         {Coerce: Text},
		"uploadId":          {Coerce: Text},
		"internalPaymentID": {Coerce: Text},
		"isUploadedToDSM":   {Coerce: Bool},
		"ispreferred":       {Coerce: Bool},
		"area":              {Coerce: Text},
		"audienceTypes.id":  {Coerce: Int64},
	}
}

// With returns a copy of r with an added or replaced rule.
func (r Rules) With(name string, c Coercer) Rules {
	out := make(Rules, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[name] = Rule{Coerce: c}
	return out
}

// Lookup returns the explicit rule for name.
func (r Rules) Lookup(name string) (Coercer, bool) {
	rule, ok := r[name]
	if !ok || rule.Coerce == nil {
		return nil, false
	}
	return rule.Coerce, true
}

// Coerce applies the rule for name to v. Slices are coerced element-wise
// into a []any so list parameters keep their shape.
func (r Rules) Coerce(name string, v any) (any, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if v != nil && rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			cv, err := c(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", name, err)
			}
			out[i] = cv
		}
		return out, nil
	}
	cv, err := c(v)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}
	return cv, nil
}

// CoerceParams coerces every named query parameter. The input is not modified.
func (r Rules) CoerceParams(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for name, v := range params {
		cv, err := r.Coerce(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}
