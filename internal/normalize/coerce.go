// Package normalize turns raw extraction output into a validated
// CapabilityRegistry. Nothing in this package returns an error: malformed
// input collapses to documented defaults.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String coerces v to a trimmed string. nil, blank and literal "null" values
// yield def.
func String(v any, def string) string {
	var s string
	switch t := v.(type) {
	case nil:
		return def
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return def
	}
	return s
}

// Int coerces v to an integer, or nil when it is not one.
func Int(v any) *int {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		n := int(t)
		return &n
	case int:
		return &t
	case int64:
		n := int(t)
		return &n
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

// Float coerces v to a float, or nil when it is not one.
func Float(v any) *float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return &t
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%")), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// Bool coerces v to a bool. Strings "true", "yes" and "1" are true; numbers
// are true when non-zero; anything else yields def.
func Bool(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		default:
			return false
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return def
	}
}

// StringList coerces v to a list of non-blank strings. A lone string becomes a
// one-element list. The result is never nil.
func StringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := String(item, ""); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Map returns v as an object, or an empty one.
func Map(v any) map[string]any {
	if m, ok := v.(map[string]any); ok && m != nil {
		return m
	}
	return map[string]any{}
}

// List returns v as an array, or nil.
func List(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

// truthy mirrors the loose presence check used by confidence scoring.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
