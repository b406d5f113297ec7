package localbase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"time"
)

const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
)

// Record is one schema-less row. Values are JSON-representable: nil, bool,
// float64, string, []any and map[string]any.
type Record map[string]any

// ID returns the generated identifier, or "" if the record has none.
func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

// CreatedAt parses the creation timestamp, returning zero time if absent or malformed.
func (r Record) CreatedAt() time.Time {
	s, _ := r[FieldCreatedAt].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// String returns the value of a field if it is a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Clone returns a deep copy, so callers can never mutate rows held by a transaction.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

// merged returns a shallow merge: patch fields win, unmentioned fields survive.
func (r Record) merged(patch Record) Record {
	out := make(Record, len(r)+len(patch))
	maps.Copy(out, r)
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case Record:
		return cloneValue(map[string]any(v))
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// normalizeRecord converts caller-supplied values to the form they take after
// a round trip through storage, so in-memory and persisted rows compare equal.
func normalizeRecord(r Record) (Record, error) {
	out := make(Record, len(r))
	for k, v := range r {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// maxExactInt is the largest magnitude a float64 holds without rounding.
const maxExactInt = 1 << 53

func exactFloat(v int64) (any, error) {
	if v > maxExactInt || v < -maxExactInt {
		return nil, fmt.Errorf("%w: %d", ErrInexactNumber, v)
	}
	return float64(v), nil
}

func exactUnsignedFloat(v uint64) (any, error) {
	if v > maxExactInt {
		return nil, fmt.Errorf("%w: %d", ErrInexactNumber, v)
	}
	return float64(v), nil
}

func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, string, float64:
		return v, nil
	case int:
		return exactFloat(int64(v))
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return exactFloat(v)
	case uint:
		return exactUnsignedFloat(uint64(v))
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return exactUnsignedFloat(v)
	case float32:
		return float64(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return exactFloat(n)
		}
		if _, err := strconv.ParseUint(string(v), 10, 64); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrInexactNumber, v)
		}
		return v.Float64()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case Record:
		return normalizeValue(map[string]any(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = ne
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}

	// Anything else (typed slices, structs, custom marshalers) takes the same
	// path it would take through JSON.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value of type %T is not JSON-representable: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return normalizeValue(out)
}
