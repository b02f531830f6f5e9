package graph

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stategraph-go/stategraph/checkpoint"
	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/interrupt"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/stream"
	"github.com/stategraph-go/stategraph/types"
)

// executor drives one run of a compiled graph. It owns the canonical state
// between supersteps; nodes only ever see clones of it.
type executor struct {
	g       *CompiledGraph
	cfg     *types.ExecutionConfig
	emitter *stream.Emitter
	limit   int

	st      state.State
	step    int
	pending []string

	// resumedInterrupt is the interrupt recorded in the checkpoint the run
	// resumed from. A before or dynamic halt suppresses the before-node
	// check for the first superstep so a resumed run can move past its own
	// halt point. An after halt does not: the pending nodes' own gates have
	// not been honored yet.
	resumedInterrupt *interrupt.Interrupt
}

// nodeResult is one node's outcome within a superstep. Results are indexed
// by the node's position in the active set, which is kept in registration
// order, so merging is deterministic.
type nodeResult struct {
	node   string
	output *NodeOutput
}

func (cg *CompiledGraph) execute(ctx context.Context, in runInput, cfg *types.ExecutionConfig, em *stream.Emitter) (state.State, error) {
	runCfg := cfg.Clone()
	limit := cg.recursionLimit
	if runCfg.RecursionLimit > 0 {
		limit = runCfg.RecursionLimit
	}
	if limit <= 0 {
		limit = types.DefaultRecursionLimit
	}

	e := &executor{g: cg, cfg: runCfg, emitter: em, limit: limit}

	var span trace.Span
	if cg.tracer != nil {
		ctx, span = cg.tracer.Start(ctx, "stategraph.run", trace.WithAttributes(
			attribute.String("graph.name", cg.name),
			attribute.String("graph.thread_id", runCfg.ThreadID),
		))
		defer span.End()
	}

	final, err := e.run(ctx, in)

	if span != nil {
		span.SetAttributes(attribute.Int("graph.steps", e.step))
		if err != nil && !errs.IsInterrupted(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	if err != nil {
		// Interrupted runs already emitted their halt event.
		if !errs.IsInterrupted(err) {
			e.emit(ctx, stream.NewErrorEvent(err.Error(), "", e.step))
		}
		return nil, err
	}
	if emitErr := e.emit(ctx, stream.NewDoneEvent(final.Clone(), e.step)); emitErr != nil {
		return nil, emitErr
	}
	return final, nil
}

func (e *executor) run(ctx context.Context, in runInput) (state.State, error) {
	if err := e.init(ctx, in); err != nil {
		return nil, err
	}

	if err := e.emit(ctx, stream.NewStateEvent(e.st.Clone(), e.step)); err != nil {
		return nil, err
	}

	skipBefore := e.resumedInterrupt != nil && e.resumedInterrupt.Kind != interrupt.KindAfter

	for len(e.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, &errs.ExecutionCancelledError{Step: e.step, Err: err}
		}
		if e.step >= e.limit {
			return nil, &errs.RecursionLimitExceededError{Limit: e.limit}
		}

		if !skipBefore {
			if node, ok := e.matchInterrupt(e.pending, e.g.interruptBefore); ok {
				return nil, e.halt(ctx, interrupt.Before(node), e.pending)
			}
		}
		skipBefore = false

		if e.g.debug {
			if err := e.emit(ctx, stream.NewDebugEvent("superstep_start", map[string]interface{}{
				"pending": append([]string(nil), e.pending...),
			}, e.step)); err != nil {
				return nil, err
			}
		}

		results, err := e.runNodes(ctx)
		if err != nil {
			return nil, err
		}

		// A dynamic interrupt rolls the whole superstep back: no delta is
		// merged, and the same active set re-runs on resume.
		for _, r := range results {
			if r.output == nil || r.output.Interrupt == nil {
				continue
			}
			iv := r.output.Interrupt
			if iv.Node == "" {
				iv.Node = r.node
			}
			return nil, e.halt(ctx, iv, e.pending)
		}

		merged := e.st.Clone()
		for _, r := range results {
			if r.output == nil || len(r.output.Updates) == 0 {
				continue
			}
			if err := e.g.schema.ApplyUpdates(merged, r.output.Updates); err != nil {
				return nil, &errs.NodeExecutionFailedError{Node: r.node, Step: e.step, Message: err.Error(), Err: err}
			}
		}
		e.st = merged

		executed := make([]string, len(results))
		for i, r := range results {
			executed[i] = r.node
		}

		if err := e.emitSuperstep(ctx, results, executed); err != nil {
			return nil, err
		}

		next, err := e.nextActiveSet(executed)
		if err != nil {
			return nil, err
		}

		e.step++

		if node, ok := e.matchInterrupt(executed, e.g.interruptAfter); ok {
			return nil, e.halt(ctx, interrupt.After(node), next)
		}

		if _, err := e.saveCheckpoint(ctx, nil, next); err != nil {
			return nil, err
		}
		e.pending = next
	}

	return e.st, nil
}

// init builds the starting state and active set from the schema defaults,
// the thread's checkpoint when one exists, and the caller's input.
func (e *executor) init(ctx context.Context, in runInput) error {
	var cp *checkpoint.Checkpoint
	if e.g.checkpointer != nil {
		if e.cfg.ResumeFrom != "" {
			loaded, err := e.g.checkpointer.Load(ctx, e.cfg.ThreadID, e.cfg.ResumeFrom)
			if err != nil {
				return &errs.CheckpointError{Op: "load", Err: err}
			}
			cp = loaded
		} else if e.cfg.ThreadID != "" {
			loaded, err := e.g.checkpointer.LoadLatest(ctx, e.cfg.ThreadID)
			if err != nil {
				return &errs.CheckpointError{Op: "load_latest", Err: err}
			}
			cp = loaded
		}
	}

	st := e.g.schema.InitialState()
	e.pending = e.g.EntryNodes()

	if cp != nil {
		for k, v := range cp.State {
			st[k] = v
		}
		e.step = cp.Step
		e.resumedInterrupt = cp.Interrupt
		switch {
		case len(cp.PendingNodes) > 0:
			e.pending = append([]string(nil), cp.PendingNodes...)
		case cp.Interrupt != nil:
			// Halted after the final superstep: nothing is left to run.
			e.pending = nil
		default:
			// Completed thread: a new turn starts from the entry nodes
			// over the inherited state.
			e.step = 0
		}
	}

	if len(in.updates) > 0 {
		if err := e.g.schema.ApplyUpdates(st, in.updates); err != nil {
			return err
		}
	}
	if in.hasResume {
		st[interrupt.ResumeKey] = in.resume
	}
	if len(in.gotoNodes) > 0 {
		for _, name := range in.gotoNodes {
			if _, ok := e.g.nodes[name]; !ok {
				return &errs.NodeNotFoundError{Node: name}
			}
		}
		e.pending = append([]string(nil), in.gotoNodes...)
	}

	e.st = st
	e.sortByNodeOrder(e.pending)
	return nil
}

// runNodes executes every pending node concurrently and joins at the
// barrier. The first node failure cancels its siblings and aborts the
// superstep with no merge.
func (e *executor) runNodes(ctx context.Context) ([]nodeResult, error) {
	results := make([]nodeResult, len(e.pending))

	grp, gctx := errgroup.WithContext(ctx)
	for i, name := range e.pending {
		i, name := i, name
		node := e.g.nodes[name]
		results[i] = nodeResult{node: name}
		grp.Go(func() error {
			if err := e.emit(gctx, stream.NewNodeStartEvent(name, e.step)); err != nil {
				return err
			}
			started := time.Now()

			nctx := NewNodeContext(e.st.Clone(), e.cfg.Clone(), e.step)
			nctx.store = e.g.store

			runCtx := gctx
			var span trace.Span
			if e.g.tracer != nil {
				runCtx, span = e.g.tracer.Start(gctx, "stategraph.node", trace.WithAttributes(
					attribute.String("node.name", name),
					attribute.Int("graph.step", e.step),
				))
			}
			out, err := node.Run(runCtx, nctx)
			if span != nil {
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
			}
			if err != nil {
				return &errs.NodeExecutionFailedError{Node: name, Step: e.step, Message: err.Error(), Err: err}
			}
			results[i].output = out
			return e.emit(gctx, stream.NewNodeEndEvent(name, e.step, time.Since(started)))
		})
	}

	if err := grp.Wait(); err != nil {
		if errs.IsExecutionCancelled(err) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &errs.ExecutionCancelledError{Step: e.step, Err: ctxErr}
		}
		return nil, err
	}
	return results, nil
}

// emitSuperstep publishes the per-node and per-step events after a merge.
func (e *executor) emitSuperstep(ctx context.Context, results []nodeResult, executed []string) error {
	for _, r := range results {
		if r.output == nil {
			continue
		}
		for _, ev := range r.output.Events {
			ev.Step = e.step
			if ev.Node == "" {
				ev.Node = r.node
			}
			if err := e.emit(ctx, ev); err != nil {
				return err
			}
		}
	}
	for _, r := range results {
		var updates map[string]interface{}
		if r.output != nil {
			updates = r.output.Updates
		}
		if err := e.emit(ctx, stream.NewUpdatesEvent(r.node, updates, e.step)); err != nil {
			return err
		}
	}
	if err := e.emit(ctx, stream.NewStateEvent(e.st.Clone(), e.step)); err != nil {
		return err
	}
	return e.emit(ctx, stream.NewStepCompleteEvent(e.step, executed))
}

// nextActiveSet evaluates the outgoing edges of every executed node against
// the merged state and returns the deduplicated targets in registration
// order. End is dropped; it only ever terminates a path.
func (e *executor) nextActiveSet(executed []string) ([]string, error) {
	var next []string
	seen := make(map[string]bool)
	for _, name := range executed {
		targets, err := e.g.successors(name, e.st)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if t == End || seen[t] {
				continue
			}
			seen[t] = true
			next = append(next, t)
		}
	}
	e.sortByNodeOrder(next)
	return next, nil
}

// halt persists an interrupt checkpoint and returns the InterruptedError
// the caller surfaces. pending is the active set a resumed run continues
// with: the current set for before and dynamic halts, the computed next
// set for after halts.
func (e *executor) halt(ctx context.Context, iv *interrupt.Interrupt, pending []string) error {
	cp, err := e.saveCheckpoint(ctx, iv, pending)
	if err != nil {
		return err
	}

	ierr := &errs.InterruptedError{
		ThreadID:  e.cfg.ThreadID,
		Interrupt: iv,
		State:     e.st.Clone(),
		Step:      e.step,
	}
	if cp != nil {
		ierr.CheckpointID = cp.CheckpointID
	}
	if emitErr := e.emit(ctx, stream.NewInterruptedEvent(iv.Node, iv.String(), e.step)); emitErr != nil {
		return emitErr
	}
	return ierr
}

// saveCheckpoint persists the current state with the given pending set.
// A nil saver or empty thread id makes it a no-op so unpersisted graphs
// still run.
func (e *executor) saveCheckpoint(ctx context.Context, iv *interrupt.Interrupt, pending []string) (*checkpoint.Checkpoint, error) {
	if e.g.checkpointer == nil || e.cfg.ThreadID == "" {
		return nil, nil
	}
	cp := checkpoint.New(e.cfg.ThreadID, e.step, e.st.Clone(), append([]string(nil), pending...))
	if iv != nil {
		cp.WithInterrupt(iv)
	}
	if len(e.cfg.Metadata) > 0 {
		md := make(map[string]interface{}, len(e.cfg.Metadata))
		for k, v := range e.cfg.Metadata {
			md[k] = v
		}
		cp.WithMetadata(md)
	}
	if err := e.g.checkpointer.Save(ctx, cp); err != nil {
		return nil, &errs.CheckpointError{Op: "save", Err: err}
	}
	return cp, nil
}

// matchInterrupt returns the first candidate, in registration order, that
// is present in the registered interrupt set.
func (e *executor) matchInterrupt(candidates []string, registered map[string]bool) (string, bool) {
	if len(registered) == 0 {
		return "", false
	}
	match := ""
	best := -1
	for _, name := range candidates {
		if !registered[name] {
			continue
		}
		if idx := e.g.orderIndex[name]; best == -1 || idx < best {
			match = name
			best = idx
		}
	}
	return match, best != -1
}

func (e *executor) sortByNodeOrder(nodes []string) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return e.g.orderIndex[nodes[i]] < e.g.orderIndex[nodes[j]]
	})
}

func (e *executor) emit(ctx context.Context, ev stream.Event) error {
	if e.emitter == nil {
		return nil
	}
	if err := e.emitter.Emit(ctx, ev); err != nil {
		return &errs.ExecutionCancelledError{Step: e.step, Err: err}
	}
	return nil
}
