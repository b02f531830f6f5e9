package graph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stategraph-go/stategraph/checkpoint"
	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/store"
	"github.com/stategraph-go/stategraph/stream"
	"github.com/stategraph-go/stategraph/types"
)

var errNoCheckpointer = errors.New("no checkpointer configured")

// CompiledGraph is an immutable, executable graph. One compiled graph can
// serve many concurrent executions.
type CompiledGraph struct {
	name             string
	schema           *state.Schema
	nodes            map[string]Node
	order            []string
	orderIndex       map[string]int
	edges            map[string][]Edge
	conditionalEdges map[string][]ConditionalEdge
	entry            []string
	checkpointer     checkpoint.Saver
	store            store.Store
	interruptBefore  map[string]bool
	interruptAfter   map[string]bool
	recursionLimit   int
	debug            bool
	tracer           trace.Tracer
}

// Name returns the graph name.
func (cg *CompiledGraph) Name() string {
	return cg.name
}

// Schema returns the state schema.
func (cg *CompiledGraph) Schema() *state.Schema {
	return cg.schema
}

// NodeNames returns all node names in registration order.
func (cg *CompiledGraph) NodeNames() []string {
	out := make([]string, len(cg.order))
	copy(out, cg.order)
	return out
}

// HasNode reports whether the graph declares the node.
func (cg *CompiledGraph) HasNode(name string) bool {
	_, ok := cg.nodes[name]
	return ok
}

// EntryNodes returns the nodes reached from Start.
func (cg *CompiledGraph) EntryNodes() []string {
	out := make([]string, len(cg.entry))
	copy(out, cg.entry)
	return out
}

// Edges returns every direct edge, in registration order by source.
func (cg *CompiledGraph) Edges() []Edge {
	var out []Edge
	for _, name := range cg.order {
		out = append(out, cg.edges[name]...)
	}
	return out
}

// ConditionalEdges returns every conditional edge, in registration order
// by source.
func (cg *CompiledGraph) ConditionalEdges() []ConditionalEdge {
	var out []ConditionalEdge
	for _, name := range cg.order {
		out = append(out, cg.conditionalEdges[name]...)
	}
	return out
}

// InterruptNodes returns the before and after interrupt sets.
func (cg *CompiledGraph) InterruptNodes() (before, after []string) {
	for _, name := range cg.order {
		if cg.interruptBefore[name] {
			before = append(before, name)
		}
		if cg.interruptAfter[name] {
			after = append(after, name)
		}
	}
	return before, after
}

// NextNodes evaluates the outgoing edges of from against st and returns
// the resulting targets, End excluded.
func (cg *CompiledGraph) NextNodes(from string, st state.State) ([]string, error) {
	if _, ok := cg.nodes[from]; !ok {
		return nil, &errs.NodeNotFoundError{Node: from}
	}
	targets, err := cg.successors(from, st)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t != End {
			out = append(out, t)
		}
	}
	return out, nil
}

// successors returns the deduplicated targets of one node, End included.
func (cg *CompiledGraph) successors(from string, st state.State) ([]string, error) {
	var targets []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}

	for _, e := range cg.edges[from] {
		add(e.To)
	}
	for _, ce := range cg.conditionalEdges[from] {
		for _, label := range ce.Router.Route(st) {
			target := label
			if ce.Targets != nil {
				mapped, ok := ce.Targets[label]
				if !ok {
					return nil, &errs.UnknownRouteTargetError{Source: from, Target: label}
				}
				target = mapped
			}
			if target == End {
				add(End)
				continue
			}
			if _, ok := cg.nodes[target]; !ok {
				return nil, &errs.UnknownRouteTargetError{Source: from, Target: target}
			}
			add(target)
		}
	}
	return targets, nil
}

// runInput is the normalized form of the values accepted by Invoke and
// Stream.
type runInput struct {
	updates   map[string]interface{}
	resume    interface{}
	hasResume bool
	gotoNodes []string
}

func normalizeInput(input interface{}) (runInput, error) {
	switch v := input.(type) {
	case nil:
		return runInput{}, nil
	case map[string]interface{}:
		return runInput{updates: v}, nil
	case state.State:
		return runInput{updates: v}, nil
	case *types.Command:
		if v == nil {
			return runInput{}, nil
		}
		return runInput{updates: v.Update, resume: v.Resume, hasResume: v.Resume != nil, gotoNodes: v.Goto}, nil
	case types.Command:
		return runInput{updates: v.Update, resume: v.Resume, hasResume: v.Resume != nil, gotoNodes: v.Goto}, nil
	default:
		return runInput{}, &errs.InvalidUpdateError{Key: "input", Message: fmt.Sprintf("unsupported input type %T", input)}
	}
}

// Invoke runs the graph to completion and returns the final state. Input
// may be nil, a state map, or a Command. A typed InterruptedError marks a
// paused run rather than a failure.
func (cg *CompiledGraph) Invoke(ctx context.Context, input interface{}, cfg *types.ExecutionConfig) (state.State, error) {
	in, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}
	return cg.execute(ctx, in, cfg, nil)
}

// Stream runs the graph and delivers events for the subscribed modes on
// the returned channel. The channel closes after a terminal Done,
// Interrupted, or Error event.
func (cg *CompiledGraph) Stream(ctx context.Context, input interface{}, cfg *types.ExecutionConfig, modes ...types.StreamMode) (<-chan stream.Event, error) {
	in, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}

	em := stream.NewEmitter(stream.DefaultBuffer, modes...)
	go func() {
		defer em.Close()
		cg.execute(ctx, in, cfg, em)
	}()
	return em.Events(), nil
}

// GetState returns the latest checkpointed state for a thread, or
// (nil, nil) when the thread has never run.
func (cg *CompiledGraph) GetState(ctx context.Context, threadID string) (state.State, error) {
	if cg.checkpointer == nil {
		return nil, &errs.CheckpointError{Op: "get_state", Err: errNoCheckpointer}
	}
	cp, err := cg.checkpointer.LoadLatest(ctx, threadID)
	if err != nil {
		return nil, &errs.CheckpointError{Op: "get_state", Err: err}
	}
	if cp == nil {
		return nil, nil
	}
	return state.State(cp.State), nil
}

// History returns up to limit checkpoints for a thread, newest first. A
// non-positive limit returns the full history.
func (cg *CompiledGraph) History(ctx context.Context, threadID string, limit int) ([]*checkpoint.Checkpoint, error) {
	if cg.checkpointer == nil {
		return nil, &errs.CheckpointError{Op: "history", Err: errNoCheckpointer}
	}
	cps, err := cg.checkpointer.List(ctx, threadID, limit)
	if err != nil {
		return nil, &errs.CheckpointError{Op: "history", Err: err}
	}
	return cps, nil
}

// UpdateState patches a thread's state through the schema reducers and
// records the result as a new checkpoint. A thread with no history is
// seeded from the schema defaults with the entry nodes pending.
func (cg *CompiledGraph) UpdateState(ctx context.Context, threadID string, updates map[string]interface{}) error {
	if cg.checkpointer == nil {
		return &errs.CheckpointError{Op: "update_state", Err: errNoCheckpointer}
	}

	cp, err := cg.checkpointer.LoadLatest(ctx, threadID)
	if err != nil {
		return &errs.CheckpointError{Op: "update_state", Err: err}
	}

	var st state.State
	var step int
	var pending []string
	if cp != nil {
		st = state.State(cp.State)
		step = cp.Step
		pending = cp.PendingNodes
	} else {
		st = cg.schema.InitialState()
		pending = cg.EntryNodes()
	}

	if err := cg.schema.ApplyUpdates(st, updates); err != nil {
		return err
	}

	next := checkpoint.New(threadID, step, st, pending)
	if cp != nil {
		next.Interrupt = cp.Interrupt
	}
	if err := cg.checkpointer.Save(ctx, next); err != nil {
		return &errs.CheckpointError{Op: "update_state", Err: err}
	}
	return nil
}

// Checkpointer returns the saver the graph was compiled with, if any.
func (cg *CompiledGraph) Checkpointer() (checkpoint.Saver, bool) {
	return cg.checkpointer, cg.checkpointer != nil
}

// Store returns the shared store the graph was compiled with, if any.
func (cg *CompiledGraph) Store() (store.Store, bool) {
	return cg.store, cg.store != nil
}
