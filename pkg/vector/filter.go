package vector

import (
	"fmt"
	"sort"
	"strings"
)

// FilterOp enumerates the supported metadata predicates
type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpIn  FilterOp = "in"
	OpGte FilterOp = "gte"
	OpLte FilterOp = "lte"
)

// Filter is a single predicate over entry metadata. Eq and In compare
// string representations; Gte and Lte compare numerically.
type Filter struct {
	Field  string        `json:"field"`
	Op     FilterOp      `json:"op"`
	Value  interface{}   `json:"value,omitempty"`
	Values []interface{} `json:"values,omitempty"`
}

// Eq builds an equality filter
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// In builds a set-membership filter
func In(field string, values ...interface{}) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Gte builds a lower-bound filter
func Gte(field string, value float64) Filter {
	return Filter{Field: field, Op: OpGte, Value: value}
}

// Lte builds an upper-bound filter
func Lte(field string, value float64) Filter {
	return Filter{Field: field, Op: OpLte, Value: value}
}

// Matches reports whether metadata satisfies the filter. A missing field
// never matches.
func (f Filter) Matches(metadata map[string]interface{}) bool {
	raw, ok := metadata[f.Field]
	if !ok {
		return false
	}

	switch f.Op {
	case OpEq:
		return asString(raw) == asString(f.Value)
	case OpIn:
		have := asString(raw)
		for _, v := range f.Values {
			if asString(v) == have {
				return true
			}
		}
		return false
	case OpGte:
		n, ok := asFloat(raw)
		want, ok2 := asFloat(f.Value)
		return ok && ok2 && n >= want
	case OpLte:
		n, ok := asFloat(raw)
		want, ok2 := asFloat(f.Value)
		return ok && ok2 && n <= want
	default:
		return false
	}
}

// MatchesAll reports whether metadata satisfies every filter
func MatchesAll(metadata map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(metadata) {
			return false
		}
	}
	return true
}

// Fingerprint renders filters deterministically for cache keys
func Fingerprint(filters []Filter) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		if f.Op == OpIn {
			vals := make([]string, len(f.Values))
			for j, v := range f.Values {
				vals[j] = asString(v)
			}
			sort.Strings(vals)
			parts[i] = fmt.Sprintf("%s %s [%s]", f.Field, f.Op, strings.Join(vals, ","))
		} else {
			parts[i] = fmt.Sprintf("%s %s %s", f.Field, f.Op, asString(f.Value))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	default:
		return 0, false
	}
}
