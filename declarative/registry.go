package declarative

import (
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/state"
)

// Registry holds the Go implementations a definition may reference by
// name. Registration methods chain; registering a name twice replaces
// the earlier entry. Not safe for concurrent use.
type Registry struct {
	nodes    map[string]graph.NodeFunc
	routers  map[string]graph.Router
	reducers map[string]state.Reducer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes:    make(map[string]graph.NodeFunc),
		routers:  make(map[string]graph.Router),
		reducers: make(map[string]state.Reducer),
	}
}

// RegisterNode makes fn available to node declarations under name.
func (r *Registry) RegisterNode(name string, fn graph.NodeFunc) *Registry {
	r.nodes[name] = fn
	return r
}

// RegisterNodeInstance makes a prebuilt node available under its own
// name. Only the behavior is taken; the definition chooses the name the
// node runs under.
func (r *Registry) RegisterNodeInstance(node graph.Node) *Registry {
	r.nodes[node.Name()] = node.Run
	return r
}

// RegisterRouter makes router available to conditional edges under name.
func (r *Registry) RegisterRouter(name string, router graph.Router) *Registry {
	r.routers[name] = router
	return r
}

// RegisterReducer makes a merge policy available to channel
// declarations under name.
func (r *Registry) RegisterReducer(name string, reducer state.Reducer) *Registry {
	r.reducers[name] = reducer
	return r
}

func (r *Registry) node(name string) (graph.NodeFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.nodes[name]
	return fn, ok
}

func (r *Registry) router(name string) (graph.Router, bool) {
	if r == nil {
		return nil, false
	}
	router, ok := r.routers[name]
	return router, ok
}

func (r *Registry) reducer(name string) (state.Reducer, bool) {
	if r == nil {
		return state.Reducer{}, false
	}
	reducer, ok := r.reducers[name]
	return reducer, ok
}
