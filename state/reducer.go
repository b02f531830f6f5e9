package state

// ReducerFunc combines the current channel value with an incoming update
// and returns the merged value. Reducers must be pure: the same pair always
// yields the same result.
type ReducerFunc func(current, update interface{}) interface{}

// ReducerKind names a channel's merge policy.
type ReducerKind string

const (
	// ReducerOverwrite replaces the current value. When several nodes
	// write in one superstep the write from the last node in compile-time
	// node order wins.
	ReducerOverwrite ReducerKind = "overwrite"
	// ReducerAppend accumulates values into a list, concatenating deltas
	// in compile-time node order.
	ReducerAppend ReducerKind = "append"
	// ReducerSum adds numeric updates to the current value. Non-numeric
	// operands count as zero.
	ReducerSum ReducerKind = "sum"
	// ReducerCustom applies a caller-supplied combine function pairwise.
	ReducerCustom ReducerKind = "custom"
)

// Reducer is a channel's merge policy. The zero value is overwrite.
type Reducer struct {
	Kind ReducerKind
	// Fn is the combine function for custom reducers; ignored otherwise.
	Fn ReducerFunc
}

// Overwrite returns the last-write-wins policy.
func Overwrite() Reducer {
	return Reducer{Kind: ReducerOverwrite}
}

// Append returns the list-accumulation policy.
func Append() Reducer {
	return Reducer{Kind: ReducerAppend}
}

// Sum returns the numeric-accumulation policy.
func Sum() Reducer {
	return Reducer{Kind: ReducerSum}
}

// Custom wraps fn as a merge policy.
func Custom(fn ReducerFunc) Reducer {
	return Reducer{Kind: ReducerCustom, Fn: fn}
}

// Apply merges update into current according to the policy.
func (r Reducer) Apply(current, update interface{}) interface{} {
	switch r.Kind {
	case ReducerAppend:
		return applyAppend(current, update)
	case ReducerSum:
		cur, _ := toFloat64(current)
		add, _ := toFloat64(update)
		return cur + add
	case ReducerCustom:
		if r.Fn != nil {
			return r.Fn(current, update)
		}
		return update
	default:
		return update
	}
}

// applyAppend folds update into the current value as a list. A missing or
// nil current starts an empty list; a scalar current is wrapped. A list
// update is concatenated element-wise; a scalar update is appended.
func applyAppend(current, update interface{}) interface{} {
	var arr []interface{}
	switch cur := current.(type) {
	case nil:
		arr = make([]interface{}, 0, 1)
	case []interface{}:
		arr = make([]interface{}, len(cur), len(cur)+1)
		copy(arr, cur)
	default:
		arr = []interface{}{cur}
	}

	switch upd := update.(type) {
	case []interface{}:
		arr = append(arr, upd...)
	default:
		arr = append(arr, upd)
	}
	return arr
}
