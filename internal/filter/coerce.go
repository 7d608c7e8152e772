package filter

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/persistkit/internal/store"
)

// Coercer converts one caller-supplied value into the type a field expects.
type Coercer func(v any) (any, error)

// Identity passes values through unchanged.
func Identity(v any) (any, error) { return v, nil }

// Int64 coerces integers, integral floats and numeric strings to int64.
func Int64(v any) (any, error) { return convert(store.TypeInt64, v) }

// Int32 coerces like Int64 and rejects values outside the int32 range.
func Int32(v any) (any, error) { return convert(store.TypeInt32, v) }

// Float coerces numbers and numeric strings to float64.
func Float(v any) (any, error) { return convert(store.TypeFloat, v) }

// Bool coerces booleans, 0/1 and strings accepted by strconv.ParseBool.
func Bool(v any) (any, error) { return convert(store.TypeBool, v) }

// Date coerces times and date strings to midnight UTC of that day.
func Date(v any) (any, error) { return convert(store.TypeDate, v) }

// Timestamp coerces times and timestamp strings to time.Time.
func Timestamp(v any) (any, error) { return convert(store.TypeTimestamp, v) }

// Text coerces any value to its string form, normalized to NFC so that
// visually identical input matches stored text.
func Text(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return norm.NFC.String(s), nil
}

// Enum coerces to one of the allowed values. Matching is exact first, then
// case-insensitive; the canonical spelling is returned.
func Enum(allowed ...string) Coercer {
	return func(v any) (any, error) {
		t, err := Text(v)
		if err != nil || t == nil {
			return t, err
		}
		s := strings.TrimSpace(t.(string))
		for _, a := range allowed {
			if a == s {
				return a, nil
			}
		}
		for _, a := range allowed {
			if strings.EqualFold(a, s) {
				return a, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(allowed, ", "))
	}
}

// ForType returns the coercer matching a property type.
func ForType(p store.Property) Coercer {
	switch p.Type {
	case store.TypeInt64:
		return Int64
	case store.TypeInt32:
		return Int32
	case store.TypeFloat:
		return Float
	case store.TypeBool:
		return Bool
	case store.TypeDate:
		return Date
	case store.TypeTimestamp:
		return Timestamp
	case store.TypeEnum:
		return Enum(p.Enum...)
	default:
		return Text
	}
}

// convert widens Go numeric kinds before handing off to the store's value
// conversion.
func convert(t store.PropertyType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return nil, fmt.Errorf("value %d overflows int64", u)
		}
		v = int64(u)
	case reflect.Float32:
		v = rv.Float()
	case reflect.String:
		v = rv.String()
	}
	return store.ConvertValue(t, v)
}
