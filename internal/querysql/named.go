package querysql

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// MissingParamError reports a :name placeholder with no bound value.
type MissingParamError struct {
	Name string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("no value bound for parameter :%s", e.Name)
}

// BindNamed rewrites :name placeholders into dialect placeholders and returns
// the positional arguments.
//
// Placeholders inside quoted strings or identifiers are left alone, as is the
// Postgres cast operator "::". A slice value expands to one placeholder per
// element so "IN (:ids)" works with a list; an empty slice binds NULL, which
// matches nothing. []byte is bound as a single value.
func BindNamed(d Dialect, text string, params map[string]any) (string, []any, error) {
	b := &builder{d: d}
	var quote byte
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			b.sb.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch {
		case ch == '\'' || ch == '"':
			quote = ch
			b.sb.WriteByte(ch)
		case ch == ':' && i+1 < len(text) && text[i+1] == ':':
			b.write("::")
			i++
		case ch == ':' && i+1 < len(text) && isNameStart(text[i+1]):
			j := i + 1
			for j < len(text) && isNamePart(text[j]) {
				j++
			}
			name := text[i+1 : j]
			v, ok := params[name]
			if !ok {
				return "", nil, &MissingParamError{Name: name}
			}
			bindExpanded(b, v)
			i = j - 1
		default:
			b.sb.WriteByte(ch)
		}
	}
	return b.sb.String(), b.args, nil
}

func bindExpanded(b *builder, v any) {
	rv := reflect.ValueOf(v)
	if v == nil || rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		b.bind(v)
		return
	}
	if rv.Len() == 0 {
		b.write("NULL")
		return
	}
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.write(", ")
		}
		b.bind(rv.Index(i).Interface())
	}
}

func isNameStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isNamePart(ch byte) bool {
	return isNameStart(ch) || (ch >= '0' && ch <= '9')
}

// Placeholder returns the n-th (1-based) placeholder for the dialect.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Rebind rewrites "?" placeholders for the dialect. Question marks inside
// quoted strings are left alone.
func Rebind(d Dialect, text string) string {
	if d != Postgres {
		return text
	}
	var sb strings.Builder
	var quote byte
	n := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '?':
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}
