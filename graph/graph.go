// Package graph provides the state graph builder and its execution
// engine: nodes communicate through a shared, schema-governed state,
// executing in parallel supersteps until every branch reaches End.
package graph

import (
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/stategraph-go/stategraph/checkpoint"
	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/store"
	"github.com/stategraph-go/stategraph/types"
)

// StateGraph builds a graph. Builder methods chain and never fail;
// structural problems surface from Compile. Not safe for concurrent use.
type StateGraph struct {
	schema           *state.Schema
	nodes            map[string]Node
	order            []string
	edges            []Edge
	conditionalEdges []ConditionalEdge
	buildErr         error
}

// NewStateGraph creates a builder over the given state schema.
func NewStateGraph(schema *state.Schema) *StateGraph {
	if schema == nil {
		schema = state.NewSchema().Build()
	}
	return &StateGraph{
		schema: schema,
		nodes:  make(map[string]Node),
	}
}

// Schema returns the graph's state schema.
func (g *StateGraph) Schema() *state.Schema {
	return g.schema
}

func (g *StateGraph) fail(message string) *StateGraph {
	if g.buildErr == nil {
		g.buildErr = &errs.InvalidGraphError{Message: message}
	}
	return g
}

// AddNode registers fn as a node. Re-registering a name replaces the node
// but keeps its position in the registration order.
func (g *StateGraph) AddNode(name string, fn NodeFunc) *StateGraph {
	return g.AddNodeInstance(NewFunctionNode(name, fn))
}

// AddNodeInstance registers a prebuilt node under its own name.
func (g *StateGraph) AddNodeInstance(node Node) *StateGraph {
	if node == nil {
		return g.fail("node is nil")
	}
	name := node.Name()
	if name == "" {
		return g.fail("node name is empty")
	}
	if strings.HasPrefix(name, "__") {
		return g.fail("node name " + name + " is reserved")
	}
	if _, exists := g.nodes[name]; !exists {
		g.order = append(g.order, name)
	}
	g.nodes[name] = node
	return g
}

// AddSubgraph registers a compiled graph as a node named name.
func (g *StateGraph) AddSubgraph(name string, sub *CompiledGraph) *StateGraph {
	if sub == nil {
		return g.fail("subgraph " + name + " is nil")
	}
	return g.AddNodeInstance(NewSubgraphNode(name, sub))
}

// AddEdge adds an unconditional edge. Use Start as the source to choose
// entry nodes and End as the target to finish a branch.
func (g *StateGraph) AddEdge(from, to string) *StateGraph {
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdge routes from a node through router; the router
// returns target node names directly, validated at execution time.
func (g *StateGraph) AddConditionalEdge(from string, router Router) *StateGraph {
	if router == nil {
		return g.fail("router is nil for conditional edge from " + from)
	}
	g.conditionalEdges = append(g.conditionalEdges, ConditionalEdge{From: from, Router: router})
	return g
}

// AddConditionalEdges routes from a node through router, mapping router
// labels to target nodes. Targets are validated at compile time.
func (g *StateGraph) AddConditionalEdges(from string, router Router, targets map[string]string) *StateGraph {
	if router == nil {
		return g.fail("router is nil for conditional edge from " + from)
	}
	g.conditionalEdges = append(g.conditionalEdges, ConditionalEdge{From: from, Router: router, Targets: targets})
	return g
}

// SetEntryPoint marks name as an entry node. Equivalent to
// AddEdge(Start, name).
func (g *StateGraph) SetEntryPoint(name string) *StateGraph {
	return g.AddEdge(Start, name)
}

// SetFinishPoint marks name as a finishing node. Equivalent to
// AddEdge(name, End).
func (g *StateGraph) SetFinishPoint(name string) *StateGraph {
	return g.AddEdge(name, End)
}

// validate checks the graph structure. Conditional targets in the direct
// router form stay unvalidated until execution.
func (g *StateGraph) validate() error {
	if g.buildErr != nil {
		return g.buildErr
	}
	if len(g.nodes) == 0 {
		return &errs.InvalidGraphError{Message: "graph has no nodes"}
	}

	hasEntry := false
	for _, edge := range g.edges {
		if edge.From == Start {
			hasEntry = true
			if edge.To == End {
				return &errs.InvalidGraphError{Message: "edge from Start to End is not allowed"}
			}
		} else if _, ok := g.nodes[edge.From]; !ok {
			return &errs.NodeNotFoundError{Node: edge.From}
		}
		if edge.To != End {
			if _, ok := g.nodes[edge.To]; !ok {
				return &errs.EdgeTargetNotFoundError{Source: edge.From, Target: edge.To}
			}
		}
	}
	if !hasEntry {
		return &errs.NoEntryPointError{}
	}

	for _, ce := range g.conditionalEdges {
		if _, ok := g.nodes[ce.From]; !ok {
			return &errs.NodeNotFoundError{Node: ce.From}
		}
		for _, target := range ce.Targets {
			if target == End {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				return &errs.EdgeTargetNotFoundError{Source: ce.From, Target: target}
			}
		}
	}
	return nil
}

// CompileOption configures the compiled graph.
type CompileOption func(*CompiledGraph)

// WithCheckpointer persists a checkpoint after every superstep and at
// interrupts, enabling pause and resume.
func WithCheckpointer(saver checkpoint.Saver) CompileOption {
	return func(cg *CompiledGraph) {
		cg.checkpointer = saver
	}
}

// WithInterruptBefore pauses execution before any listed node runs.
func WithInterruptBefore(nodes ...string) CompileOption {
	return func(cg *CompiledGraph) {
		for _, node := range nodes {
			cg.interruptBefore[node] = true
		}
	}
}

// WithInterruptAfter pauses execution after any listed node ran.
func WithInterruptAfter(nodes ...string) CompileOption {
	return func(cg *CompiledGraph) {
		for _, node := range nodes {
			cg.interruptAfter[node] = true
		}
	}
}

// WithRecursionLimit caps the number of supersteps per run. Per-run
// configs may override it.
func WithRecursionLimit(limit int) CompileOption {
	return func(cg *CompiledGraph) {
		if limit > 0 {
			cg.recursionLimit = limit
		}
	}
}

// WithStore exposes a shared store to nodes via NodeContext.Store.
func WithStore(s store.Store) CompileOption {
	return func(cg *CompiledGraph) {
		cg.store = s
	}
}

// WithDebug emits engine diagnostics into the event stream.
func WithDebug() CompileOption {
	return func(cg *CompiledGraph) {
		cg.debug = true
	}
}

// WithName names the graph for visualization and tracing.
func WithName(name string) CompileOption {
	return func(cg *CompiledGraph) {
		cg.name = name
	}
}

// WithTracing records a span per run and per node execution.
func WithTracing(tracer trace.Tracer) CompileOption {
	return func(cg *CompiledGraph) {
		cg.tracer = tracer
	}
}

// Compile validates the graph and freezes it into an executable form.
func (g *StateGraph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	cg := &CompiledGraph{
		name:             "stategraph",
		schema:           g.schema,
		nodes:            make(map[string]Node, len(g.nodes)),
		order:            make([]string, len(g.order)),
		orderIndex:       make(map[string]int, len(g.order)),
		edges:            make(map[string][]Edge),
		conditionalEdges: make(map[string][]ConditionalEdge),
		interruptBefore:  make(map[string]bool),
		interruptAfter:   make(map[string]bool),
		recursionLimit:   types.DefaultRecursionLimit,
	}

	copy(cg.order, g.order)
	for i, name := range g.order {
		cg.orderIndex[name] = i
		cg.nodes[name] = g.nodes[name]
	}
	for _, edge := range g.edges {
		if edge.From == Start {
			if !contains(cg.entry, edge.To) {
				cg.entry = append(cg.entry, edge.To)
			}
			continue
		}
		cg.edges[edge.From] = append(cg.edges[edge.From], edge)
	}
	for _, ce := range g.conditionalEdges {
		cg.conditionalEdges[ce.From] = append(cg.conditionalEdges[ce.From], ce)
	}

	for _, opt := range opts {
		opt(cg)
	}

	for name := range cg.interruptBefore {
		if _, ok := cg.nodes[name]; !ok {
			return nil, &errs.NodeNotFoundError{Node: name}
		}
	}
	for name := range cg.interruptAfter {
		if _, ok := cg.nodes[name]; !ok {
			return nil, &errs.NodeNotFoundError{Node: name}
		}
	}

	return cg, nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
