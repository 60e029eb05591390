// Package normalize enforces per-field cardinality rules on raw provider
// suggestions and repairs the malformed shapes models commonly return.
package normalize

import (
	"strings"

	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// MaxMultiValue is the most values a multi-value field may receive.
const MaxMultiValue = 10

// Suggestions returns the corrected suggestion list for fieldType.
// raw may be a list or a scalar. The result is never nil and
// Suggestions(t, Suggestions(t, x)) equals Suggestions(t, x).
func Suggestions(fieldType models.FieldType, raw any) []any {
	items := asList(raw)
	if fieldType.IsMultiValue() {
		return multiValue(items)
	}
	return singleValue(items)
}

// singleValue keeps exactly one element, substituting "" for an empty list.
func singleValue(items []any) []any {
	if len(items) == 0 {
		return []any{""}
	}
	return []any{items[0]}
}

// multiValue splits comma-joined strings into separate values, then caps the
// list. Splitting first keeps the cap meaningful for repaired lists.
func multiValue(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || !strings.Contains(s, ",") {
			out = append(out, item)
			continue
		}
		fragments := splitCommas(s)
		if len(fragments) <= 1 {
			out = append(out, s)
			continue
		}
		for _, f := range fragments {
			out = append(out, f)
		}
	}
	if len(out) > MaxMultiValue {
		out = out[:MaxMultiValue]
	}
	return out
}

func splitCommas(s string) []string {
	parts := strings.Split(s, ",")
	fragments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			fragments = append(fragments, p)
		}
	}
	return fragments
}

// asList wraps scalars in a one-element list. nil is an empty list.
func asList(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items
	default:
		return []any{v}
	}
}
