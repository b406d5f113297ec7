package localbase

import (
	"reflect"
	"strings"
)

// compareValues orders two normalized field values. Values of different
// types order by type: bools, numbers, strings, arrays, objects, then nil
// (which is also what a missing field reads as), so nulls sort last ascending
// and first descending. Numbers compare numerically, strings by bytes, bools
// false before true. Arrays and objects compare equal among themselves.
func compareValues(a, b any) int {
	if ra, rb := typeRank(a), typeRank(b); ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a := a.(type) {
	case float64:
		b := b.(float64)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	case string:
		return strings.Compare(a, b.(string))
	case bool:
		if b := b.(bool); a != b {
			if b {
				return -1
			}
			return 1
		}
	}
	return 0
}

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	case nil:
		return 7
	default:
		return 6
	}
}

// valuesEqual reports whether a stored field value matches a filter value.
// Both sides must be normalized; a missing field reads as nil.
func valuesEqual(a, b any) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case float64:
		b, ok := b.(float64)
		return ok && a == b
	case string:
		b, ok := b.(string)
		return ok && a == b
	case bool:
		b, ok := b.(bool)
		return ok && a == b
	default:
		return reflect.DeepEqual(a, b)
	}
}
