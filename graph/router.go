package graph

import (
	"fmt"

	"github.com/stategraph-go/stategraph/state"
)

// Router decides where execution goes after a node. Route inspects the
// merged state and returns one or more targets; returning more than one
// fans execution out. Routers must be pure and must not panic.
type Router interface {
	Name() string
	Route(st state.State) []string
}

// RouterFunc adapts a plain function to the Router interface.
type RouterFunc func(st state.State) []string

// Name implements Router.
func (f RouterFunc) Name() string { return "custom" }

// Route implements Router.
func (f RouterFunc) Route(st state.State) []string { return f(st) }

type namedRouter struct {
	name string
	fn   func(st state.State) []string
}

func (r namedRouter) Name() string                  { return r.name }
func (r namedRouter) Route(st state.State) []string { return r.fn(st) }

// NamedRouter wraps fn with a display name used in visualizations.
func NamedRouter(name string, fn func(st state.State) []string) Router {
	return namedRouter{name: name, fn: fn}
}

// ByField routes to the string value stored under key. A missing or
// non-string value ends the branch.
func ByField(key string) Router {
	return namedRouter{
		name: fmt.Sprintf("by_field(%s)", key),
		fn: func(st state.State) []string {
			value, ok := st[key].(string)
			if !ok {
				return []string{End}
			}
			return []string{value}
		},
	}
}

// ByBool routes on a boolean value stored under key. A missing or
// non-boolean value takes the false branch.
func ByBool(key, trueTarget, falseTarget string) Router {
	return namedRouter{
		name: fmt.Sprintf("by_bool(%s)", key),
		fn: func(st state.State) []string {
			if value, ok := st[key].(bool); ok && value {
				return []string{trueTarget}
			}
			return []string{falseTarget}
		},
	}
}

// HasToolCalls inspects the last message stored under key and routes to
// withTools when it carries a non-empty tool_calls list.
func HasToolCalls(key, withTools, without string) Router {
	return namedRouter{
		name: fmt.Sprintf("has_tool_calls(%s)", key),
		fn: func(st state.State) []string {
			msgs := st.GetSlice(key)
			if len(msgs) == 0 {
				return []string{without}
			}
			last, ok := msgs[len(msgs)-1].(map[string]interface{})
			if !ok {
				return []string{without}
			}
			if calls, ok := last["tool_calls"].([]interface{}); ok && len(calls) > 0 {
				return []string{withTools}
			}
			return []string{without}
		},
	}
}

// MaxIterations routes to continueTarget while the counter under key is
// below max, and to stopTarget once it reaches max.
func MaxIterations(key string, max int, continueTarget, stopTarget string) Router {
	return namedRouter{
		name: fmt.Sprintf("max_iterations(%s, %d)", key, max),
		fn: func(st state.State) []string {
			if st.GetInt(key) < max {
				return []string{continueTarget}
			}
			return []string{stopTarget}
		},
	}
}

// OnError routes to handleTarget when the value under key is present and
// non-nil, and to continueTarget otherwise.
func OnError(key, handleTarget, continueTarget string) Router {
	return namedRouter{
		name: fmt.Sprintf("on_error(%s)", key),
		fn: func(st state.State) []string {
			if value, ok := st[key]; ok && value != nil {
				return []string{handleTarget}
			}
			return []string{continueTarget}
		},
	}
}
