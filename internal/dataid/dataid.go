// Package dataid defines the dataset identifier type shared by the mapper
// engine and the metadata registries.
package dataid

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DataID is a set of named constraints (e.g. visit, ccd, filter) designating
// one instance of a dataset type. Values are int64, float64 or string after
// normalization. A DataID may be partial; the engine fills in missing keys by
// querying a registry. The engine never mutates a DataID in place: every
// operation that adds keys works on a copy.
type DataID map[string]any

// New builds a normalized DataID from an existing map.
func New(values map[string]any) DataID {
	id := make(DataID, len(values))
	for k, v := range values {
		id[k] = Normalize(v)
	}
	return id
}

// Parse builds a DataID from "key=value" pairs, e.g. "visit=42,ccd=3".
// Values parse as int64, then float64, then fall back to string.
func Parse(s string) (DataID, error) {
	id := DataID{}
	if strings.TrimSpace(s) == "" {
		return id, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || k == "" {
			return nil, fmt.Errorf("malformed data id element %q, want key=value", pair)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			id[k] = n
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			id[k] = f
		} else {
			id[k] = v
		}
	}
	return id, nil
}

// Normalize maps a raw value onto the three identifier value types. Integer
// variants collapse to int64, float32 widens to float64, byte slices decode
// as strings. Anything else is stringified.
func Normalize(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		// Registry drivers may hand back native timestamps; identifiers
		// carry observation times as ISO8601 strings.
		return val.UTC().Format("2006-01-02T15:04:05")
	case nil:
		return nil
	default:
		return fmt.Sprint(val)
	}
}

// Copy returns an independent copy of the identifier.
func (id DataID) Copy() DataID {
	out := make(DataID, len(id))
	for k, v := range id {
		out[k] = v
	}
	return out
}

// Has reports whether the key is present, whatever its value.
func (id DataID) Has(key string) bool {
	_, ok := id[key]
	return ok
}

// With returns a copy of the identifier with one key set.
func (id DataID) With(key string, value any) DataID {
	out := id.Copy()
	out[key] = Normalize(value)
	return out
}

// Without returns a copy of the identifier with one key removed.
func (id DataID) Without(key string) DataID {
	out := id.Copy()
	delete(out, key)
	return out
}

// Keys returns the identifier's keys in sorted order.
func (id DataID) Keys() []string {
	keys := make([]string, 0, len(id))
	for k := range id {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the identifier with sorted keys, for logs and errors.
func (id DataID) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range id.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %v", k, id[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Hash folds the identifier's items into a non-negative 31-bit integer. The
// hash is content-based and independent of insertion order, so it is stable
// across process runs for the same identifier. Used to seed per-dataset
// quantization fuzzing in write recipes.
func (id DataID) Hash() int64 {
	h := fnv.New64a()
	for _, k := range id.Keys() {
		fmt.Fprintf(h, "%s=%v;", k, id[k])
	}
	return int64(h.Sum64() % (1 << 31))
}

// AsInt64 coerces an identifier value for an integer template conversion.
// Floats truncate toward zero; strings never convert.
func AsInt64(v any) (int64, bool) {
	switch val := Normalize(v).(type) {
	case int64:
		return val, true
	case float64:
		return int64(val), true
	default:
		return 0, false
	}
}

// AsFloat64 coerces an identifier value for a floating-point template
// conversion.
func AsFloat64(v any) (float64, bool) {
	switch val := Normalize(v).(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// AsString renders an identifier value the way a string template conversion
// expects it.
func AsString(v any) string {
	switch val := Normalize(v).(type) {
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
