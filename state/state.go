// Package state provides the shared graph state: named channels with
// per-channel merge policies, the schema that declares them, and the value
// map nodes read from and write deltas to.
package state

import "strings"

// State is the shared value map keyed by channel name. Instances are
// value-like: the executor clones a state before handing it to concurrently
// running nodes, and mutates its own copy only during the atomic merge at
// the end of a superstep.
type State map[string]interface{}

// New creates an empty state.
func New() State {
	return make(State)
}

// Clone returns a deep copy. Nested maps and slices are copied recursively
// so no mutation through the clone can reach the original.
func (s State) Clone() State {
	if s == nil {
		return New()
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// Get returns the value for key and whether it is present.
func (s State) Get(key string) (interface{}, bool) {
	v, ok := s[key]
	return v, ok
}

// GetString returns the value for key as a string, or "" when missing or
// not a string.
func (s State) GetString(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the value for key as a bool, or false when missing or
// not a bool.
func (s State) GetBool(key string) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return false
}

// GetInt returns the value for key coerced to int, or 0 when missing or
// non-numeric. Floats are truncated, which matches how JSON round-trips
// store numbers.
func (s State) GetInt(key string) int {
	f, ok := toFloat64(s[key])
	if !ok {
		return 0
	}
	return int(f)
}

// GetFloat64 returns the value for key coerced to float64, or 0 when
// missing or non-numeric.
func (s State) GetFloat64(key string) float64 {
	f, _ := toFloat64(s[key])
	return f
}

// GetSlice returns the value for key as a []interface{}, or nil.
func (s State) GetSlice(key string) []interface{} {
	if v, ok := s[key].([]interface{}); ok {
		return v
	}
	return nil
}

// GetMap returns the value for key as a map[string]interface{}, or nil.
func (s State) GetMap(key string) map[string]interface{} {
	if v, ok := s[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// IsReservedKey reports whether key names an engine-internal channel.
// Reserved keys are always writable with overwrite semantics and need no
// declaration.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, "__")
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case State:
		return map[string]interface{}(val.Clone())
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
