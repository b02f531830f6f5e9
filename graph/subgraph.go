package graph

import (
	"context"
	"fmt"
	"reflect"

	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/interrupt"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/types"
)

// SubgraphNamespaceSeparator joins the parent thread id and the subgraph
// node name into the child's thread id, so a child graph checkpoints under
// its own namespace within the parent thread. Nested subgraphs chain.
const SubgraphNamespaceSeparator = "::"

// SubgraphNode runs a compiled graph as a single node of a parent graph.
// The parent state channels the child schema declares flow in as input;
// the child's final state is diffed against the parent view and folded
// back as this node's updates.
//
// A child halted at an interrupt surfaces as a dynamic interrupt on the
// parent. When the parent superstep re-runs on resume, the child resumes
// from its own checkpoint instead of replaying the parent input.
type SubgraphNode struct {
	name string
	sub  *CompiledGraph
}

// NewSubgraphNode wraps a compiled graph as a node named name.
func NewSubgraphNode(name string, sub *CompiledGraph) *SubgraphNode {
	return &SubgraphNode{name: name, sub: sub}
}

// Name returns the node name.
func (n *SubgraphNode) Name() string {
	return n.name
}

// Subgraph returns the embedded compiled graph.
func (n *SubgraphNode) Subgraph() *CompiledGraph {
	return n.sub
}

func (n *SubgraphNode) Run(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	childCfg := nc.Config.Clone()
	childCfg.ResumeFrom = ""
	if childCfg.ThreadID != "" {
		childCfg.ThreadID = childCfg.ThreadID + SubgraphNamespaceSeparator + n.name
	}

	input := make(map[string]interface{})
	for k, v := range nc.State {
		if state.IsReservedKey(k) {
			continue
		}
		if n.sub.schema.Has(k) {
			input[k] = v
		}
	}

	var arg interface{} = input
	if saver, ok := n.sub.Checkpointer(); ok && childCfg.ThreadID != "" {
		cp, err := saver.LoadLatest(ctx, childCfg.ThreadID)
		if err != nil {
			return nil, &errs.CheckpointError{Op: "subgraph_load", Err: err}
		}
		if cp != nil && cp.Interrupt != nil && len(cp.PendingNodes) > 0 {
			// The child is halted mid-flight. Resume it in place; replaying
			// the parent input would re-apply reducers over state the child
			// already holds.
			cmd := types.NewCommand()
			if v, ok := nc.Resume(); ok {
				cmd.WithResume(v)
			}
			arg = cmd
		}
	}

	final, err := n.sub.Invoke(ctx, arg, childCfg)
	if err != nil {
		if ierr, ok := errs.AsInterrupted(err); ok {
			msg := fmt.Sprintf("subgraph %q interrupted", n.name)
			if ierr.Interrupt != nil && ierr.Interrupt.Message != "" {
				msg = ierr.Interrupt.Message
			}
			return NewNodeOutput().WithInterrupt(interrupt.DynamicWithData(msg, map[string]interface{}{
				"subgraph":      n.name,
				"thread_id":     ierr.ThreadID,
				"checkpoint_id": ierr.CheckpointID,
			})), nil
		}
		return nil, fmt.Errorf("subgraph %q: %w", n.name, err)
	}

	return NewNodeOutput().WithUpdates(n.foldback(nc.State, final)), nil
}

// foldback turns the child's final state into parent updates. Channels are
// compared against the parent view; unchanged ones are skipped. Accumulating
// channels fold back deltas rather than absolute values so the parent's own
// reducer does not double-apply what both sides already share.
func (n *SubgraphNode) foldback(parent state.State, child state.State) map[string]interface{} {
	updates := make(map[string]interface{})
	for _, ch := range n.sub.schema.Channels() {
		after, ok := child[ch.Name]
		if !ok {
			continue
		}
		before, had := parent[ch.Name]
		if had && reflect.DeepEqual(before, after) {
			continue
		}

		switch ch.Reducer.Kind {
		case state.ReducerAppend:
			if suffix, ok := sliceSuffix(before, after); ok {
				if len(suffix) > 0 {
					updates[ch.Name] = suffix
				}
				continue
			}
			updates[ch.Name] = after
		case state.ReducerSum:
			if delta := numeric(after) - numeric(before); delta != 0 {
				updates[ch.Name] = delta
			}
		default:
			updates[ch.Name] = after
		}
	}
	return updates
}

// sliceSuffix returns the elements after extends before with, when before is
// a strict element-wise prefix of after.
func sliceSuffix(before, after interface{}) ([]interface{}, bool) {
	var bs []interface{}
	if before != nil {
		typed, ok := before.([]interface{})
		if !ok {
			return nil, false
		}
		bs = typed
	}
	as, ok := after.([]interface{})
	if !ok {
		return nil, false
	}
	if len(as) < len(bs) {
		return nil, false
	}
	for i := range bs {
		if !reflect.DeepEqual(bs[i], as[i]) {
			return nil, false
		}
	}
	out := make([]interface{}, len(as)-len(bs))
	copy(out, as[len(bs):])
	return out, true
}

func numeric(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
