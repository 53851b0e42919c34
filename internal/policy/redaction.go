package policy

import (
	"reflect"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card numbers first so they are not classified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Redactor applies RedactPII to content and annotation values before they are
// persisted. The zero value is disabled and returns its input untouched.
type Redactor struct {
	Enabled bool
}

func (r Redactor) Text(s string) string {
	if !r.Enabled {
		return s
	}
	out, _ := RedactPII(s)
	return out
}

// Values redacts every string found in v, descending into maps and slices.
// The input is never modified; a redacted copy is returned.
func (r Redactor) Values(v map[string]any) map[string]any {
	if !r.Enabled || v == nil {
		return v
	}
	out, _ := r.value(v).(map[string]any)
	return out
}

func (r Redactor) value(v any) any {
	switch t := v.(type) {
	case string:
		out, _ := RedactPII(t)
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = r.value(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.value(item)
		}
		return out
	default:
		return r.reflected(v)
	}
}

// reflected covers named map and slice types such as a nested annotation bag,
// and typed slices like []string. Redacted copies come back in their generic
// map[string]any and []any shapes.
func (r Redactor) reflected(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = r.value(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = r.value(rv.Index(i).Interface())
		}
		return out
	case reflect.String:
		return r.value(rv.String())
	default:
		return v
	}
}
