package graph

import (
	"context"
	"fmt"

	"github.com/stategraph-go/stategraph/interrupt"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/store"
	"github.com/stategraph-go/stategraph/stream"
	"github.com/stategraph-go/stategraph/types"
)

// Node is a unit of work in the graph. Run receives a snapshot of the
// state and returns the updates to merge; it must not mutate shared
// structures outside its own snapshot.
type Node interface {
	Name() string
	Run(ctx context.Context, nc *NodeContext) (*NodeOutput, error)
}

// NodeFunc is the function form of a node body.
type NodeFunc func(ctx context.Context, nc *NodeContext) (*NodeOutput, error)

// NodeContext carries everything a node may read during one superstep.
// State is the node's own clone; mutating it does not affect siblings.
type NodeContext struct {
	State  state.State
	Config *types.ExecutionConfig
	Step   int

	store store.Store
}

// NewNodeContext creates a context for one node invocation.
func NewNodeContext(st state.State, cfg *types.ExecutionConfig, step int) *NodeContext {
	return &NodeContext{State: st, Config: cfg, Step: step}
}

// Get returns the raw state value under key.
func (nc *NodeContext) Get(key string) (interface{}, bool) {
	return nc.State.Get(key)
}

// GetString returns the string under key, or "".
func (nc *NodeContext) GetString(key string) string {
	return nc.State.GetString(key)
}

// GetInt returns the integer under key, or 0.
func (nc *NodeContext) GetInt(key string) int {
	return nc.State.GetInt(key)
}

// GetBool returns the boolean under key, or false.
func (nc *NodeContext) GetBool(key string) bool {
	return nc.State.GetBool(key)
}

// GetFloat returns the float under key, or 0.
func (nc *NodeContext) GetFloat(key string) float64 {
	return nc.State.GetFloat64(key)
}

// Messages returns the conversation list under the messages channel.
func (nc *NodeContext) Messages() []interface{} {
	return nc.State.GetSlice("messages")
}

// Resume returns the value supplied when the run was resumed after an
// interrupt, if any.
func (nc *NodeContext) Resume() (interface{}, bool) {
	return nc.State.Get(interrupt.ResumeKey)
}

// Store returns the shared store the graph was compiled with.
func (nc *NodeContext) Store() (store.Store, bool) {
	return nc.store, nc.store != nil
}

// NodeOutput is what a node hands back to the scheduler: state updates,
// an optional dynamic interrupt, and stream events to publish.
type NodeOutput struct {
	Updates   map[string]interface{}
	Interrupt *interrupt.Interrupt
	Events    []stream.Event
}

// NewNodeOutput creates an empty output.
func NewNodeOutput() *NodeOutput {
	return &NodeOutput{Updates: make(map[string]interface{})}
}

// WithUpdate records one state update.
func (o *NodeOutput) WithUpdate(key string, value interface{}) *NodeOutput {
	if o.Updates == nil {
		o.Updates = make(map[string]interface{})
	}
	o.Updates[key] = value
	return o
}

// WithUpdates records several state updates.
func (o *NodeOutput) WithUpdates(updates map[string]interface{}) *NodeOutput {
	if o.Updates == nil {
		o.Updates = make(map[string]interface{}, len(updates))
	}
	for k, v := range updates {
		o.Updates[k] = v
	}
	return o
}

// WithInterrupt pauses the run before any of this superstep's updates are
// applied.
func (o *NodeOutput) WithInterrupt(intr *interrupt.Interrupt) *NodeOutput {
	o.Interrupt = intr
	return o
}

// WithEvent queues a stream event. The scheduler stamps the node name and
// step before publishing.
func (o *NodeOutput) WithEvent(ev stream.Event) *NodeOutput {
	o.Events = append(o.Events, ev)
	return o
}

// FunctionNode wraps a plain function as a node.
type FunctionNode struct {
	name string
	fn   NodeFunc
}

// NewFunctionNode creates a node running fn.
func NewFunctionNode(name string, fn NodeFunc) *FunctionNode {
	return &FunctionNode{name: name, fn: fn}
}

// Name implements Node.
func (n *FunctionNode) Name() string { return n.name }

// Run implements Node.
func (n *FunctionNode) Run(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	if n.fn == nil {
		return nil, fmt.Errorf("node %s has no function", n.name)
	}
	out, err := n.fn(ctx, nc)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = NewNodeOutput()
	}
	return out, nil
}

// PassthroughNode forwards state unchanged. Useful as a join point for
// fan-in edges.
type PassthroughNode struct {
	name string
}

// NewPassthroughNode creates a node that produces no updates.
func NewPassthroughNode(name string) *PassthroughNode {
	return &PassthroughNode{name: name}
}

// Name implements Node.
func (n *PassthroughNode) Name() string { return n.name }

// Run implements Node.
func (n *PassthroughNode) Run(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	return NewNodeOutput(), nil
}
