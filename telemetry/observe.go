package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stategraph-go/stategraph/checkpoint"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/stream"
)

// instrumentedNode records execution metrics around an inner node. Spans are
// the engine's job via the compiler's WithTracing option; the wrapper only
// adds the metric dimension.
type instrumentedNode struct {
	inner   graph.Node
	metrics *Metrics
}

// InstrumentNode wraps node so every run is recorded in the provider's
// node metrics.
func InstrumentNode(p *Provider, node graph.Node) graph.Node {
	return &instrumentedNode{inner: node, metrics: p.Metrics}
}

func (n *instrumentedNode) Name() string { return n.inner.Name() }

func (n *instrumentedNode) Run(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
	started := time.Now()
	out, err := n.inner.Run(ctx, nc)
	n.metrics.RecordNodeExecution(ctx, n.inner.Name(), time.Since(started), err)
	return out, err
}

// instrumentedSaver spans and times checkpoint operations. The engine does
// not trace persistence itself, so the wrapper covers both dimensions.
type instrumentedSaver struct {
	inner   checkpoint.Saver
	tracer  trace.Tracer
	metrics *Metrics
}

// InstrumentSaver wraps saver with spans and save/load duration metrics.
func InstrumentSaver(p *Provider, saver checkpoint.Saver) checkpoint.Saver {
	return &instrumentedSaver{inner: saver, tracer: p.Tracer, metrics: p.Metrics}
}

func (s *instrumentedSaver) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	ctx, span := s.tracer.Start(ctx, "stategraph.checkpoint.save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			SpanAttributes.ThreadID.String(cp.ThreadID),
			SpanAttributes.CheckpointID.String(cp.CheckpointID),
			SpanAttributes.Step.Int(cp.Step),
		),
	)
	defer span.End()

	started := time.Now()
	err := s.inner.Save(ctx, cp)
	s.metrics.RecordCheckpointSave(ctx, time.Since(started))
	SetSpanError(span, err)
	return err
}

func (s *instrumentedSaver) LoadLatest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "stategraph.checkpoint.load_latest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(SpanAttributes.ThreadID.String(threadID)),
	)
	defer span.End()

	started := time.Now()
	cp, err := s.inner.LoadLatest(ctx, threadID)
	s.metrics.RecordCheckpointLoad(ctx, time.Since(started))
	SetSpanError(span, err)
	return cp, err
}

func (s *instrumentedSaver) Load(ctx context.Context, threadID, checkpointID string) (*checkpoint.Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "stategraph.checkpoint.load",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			SpanAttributes.ThreadID.String(threadID),
			SpanAttributes.CheckpointID.String(checkpointID),
		),
	)
	defer span.End()

	started := time.Now()
	cp, err := s.inner.Load(ctx, threadID, checkpointID)
	s.metrics.RecordCheckpointLoad(ctx, time.Since(started))
	SetSpanError(span, err)
	return cp, err
}

func (s *instrumentedSaver) List(ctx context.Context, threadID string, limit int) ([]*checkpoint.Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "stategraph.checkpoint.list",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(SpanAttributes.ThreadID.String(threadID)),
	)
	defer span.End()

	cps, err := s.inner.List(ctx, threadID, limit)
	SetSpanError(span, err)
	return cps, err
}

func (s *instrumentedSaver) Delete(ctx context.Context, threadID string) error {
	ctx, span := s.tracer.Start(ctx, "stategraph.checkpoint.delete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(SpanAttributes.ThreadID.String(threadID)),
	)
	defer span.End()

	err := s.inner.Delete(ctx, threadID)
	SetSpanError(span, err)
	return err
}

// ObserveStream forwards events unchanged while recording per-event and
// interrupt metrics. The returned channel closes when the source closes.
func (p *Provider) ObserveStream(ctx context.Context, events <-chan stream.Event) <-chan stream.Event {
	out := make(chan stream.Event)
	go func() {
		defer close(out)
		for ev := range events {
			p.Metrics.RecordStreamEvent(ctx, string(ev.Type))
			if ev.Type == stream.EventInterrupted {
				p.Metrics.RecordInterrupt(ctx, ev.Node)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
