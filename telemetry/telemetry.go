// Package telemetry provides OpenTelemetry support for graph executions:
// exporter setup, the instrumentation metric set, and wrappers that record
// node, checkpoint, and stream activity.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName identifies this library in exported telemetry.
	InstrumentationName = "github.com/stategraph-go/stategraph"
	// InstrumentationVersion is the reported instrumentation version.
	InstrumentationVersion = "1.0.0"
)

// SpanAttributes holds the attribute keys spans are annotated with.
var SpanAttributes = struct {
	GraphName    attribute.Key
	NodeName     attribute.Key
	ThreadID     attribute.Key
	CheckpointID attribute.Key
	Step         attribute.Key
	ErrorType    attribute.Key
}{
	GraphName:    "stategraph.graph_name",
	NodeName:     "stategraph.node_name",
	ThreadID:     "stategraph.thread_id",
	CheckpointID: "stategraph.checkpoint_id",
	Step:         "stategraph.step",
	ErrorType:    "stategraph.error_type",
}

// MetricNames holds the exported metric names.
var MetricNames = struct {
	NodeDuration           string
	NodeCount              string
	NodeErrorCount         string
	CheckpointSaveDuration string
	CheckpointLoadDuration string
	InterruptCount         string
	StreamEventCount       string
}{
	NodeDuration:           "stategraph.node.duration",
	NodeCount:              "stategraph.node.count",
	NodeErrorCount:         "stategraph.node.errors",
	CheckpointSaveDuration: "stategraph.checkpoint.save.duration",
	CheckpointLoadDuration: "stategraph.checkpoint.load.duration",
	InterruptCount:         "stategraph.interrupt.count",
	StreamEventCount:       "stategraph.stream.events",
}

// Metrics bundles the instruments the wrappers record into.
type Metrics struct {
	meter metric.Meter

	nodeDuration           metric.Float64Histogram
	nodeCount              metric.Int64Counter
	nodeErrorCount         metric.Int64Counter
	checkpointSaveDuration metric.Float64Histogram
	checkpointLoadDuration metric.Float64Histogram
	interruptCount         metric.Int64Counter
	streamEventCount       metric.Int64Counter
}

// NewMetrics creates every instrument on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	nodeDuration, err := meter.Float64Histogram(
		MetricNames.NodeDuration,
		metric.WithDescription("Duration of node executions"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	nodeCount, err := meter.Int64Counter(
		MetricNames.NodeCount,
		metric.WithDescription("Count of node executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	nodeErrorCount, err := meter.Int64Counter(
		MetricNames.NodeErrorCount,
		metric.WithDescription("Count of failed node executions"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSaveDuration, err := meter.Float64Histogram(
		MetricNames.CheckpointSaveDuration,
		metric.WithDescription("Duration of checkpoint saves"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	checkpointLoadDuration, err := meter.Float64Histogram(
		MetricNames.CheckpointLoadDuration,
		metric.WithDescription("Duration of checkpoint loads"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	interruptCount, err := meter.Int64Counter(
		MetricNames.InterruptCount,
		metric.WithDescription("Count of execution halts at interrupts"),
		metric.WithUnit("{interrupt}"),
	)
	if err != nil {
		return nil, err
	}

	streamEventCount, err := meter.Int64Counter(
		MetricNames.StreamEventCount,
		metric.WithDescription("Count of stream events delivered"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:                  meter,
		nodeDuration:           nodeDuration,
		nodeCount:              nodeCount,
		nodeErrorCount:         nodeErrorCount,
		checkpointSaveDuration: checkpointSaveDuration,
		checkpointLoadDuration: checkpointLoadDuration,
		interruptCount:         interruptCount,
		streamEventCount:       streamEventCount,
	}, nil
}

// RecordNodeExecution records one node run.
func (m *Metrics) RecordNodeExecution(ctx context.Context, node string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{SpanAttributes.NodeName.String(node)}
	if err != nil {
		attrs = append(attrs, SpanAttributes.ErrorType.String(err.Error()))
	}

	m.nodeDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.nodeCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.nodeErrorCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordCheckpointSave records one checkpoint save.
func (m *Metrics) RecordCheckpointSave(ctx context.Context, duration time.Duration) {
	m.checkpointSaveDuration.Record(ctx, float64(duration.Milliseconds()))
}

// RecordCheckpointLoad records one checkpoint load.
func (m *Metrics) RecordCheckpointLoad(ctx context.Context, duration time.Duration) {
	m.checkpointLoadDuration.Record(ctx, float64(duration.Milliseconds()))
}

// RecordInterrupt records an execution halt.
func (m *Metrics) RecordInterrupt(ctx context.Context, node string) {
	m.interruptCount.Add(ctx, 1, metric.WithAttributes(SpanAttributes.NodeName.String(node)))
}

// RecordStreamEvent records one delivered stream event.
func (m *Metrics) RecordStreamEvent(ctx context.Context, eventType string) {
	m.streamEventCount.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// Provider bundles a tracer and the metric set. The tracer plugs into the
// graph compiler's WithTracing option; the metrics feed the wrappers in
// this package.
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewProvider builds a provider from explicit tracer and meter providers.
func NewProvider(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	meter := mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(InstrumentationVersion))
	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, err
	}
	tracer := tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(InstrumentationVersion))
	return &Provider{Tracer: tracer, Metrics: metrics}, nil
}

// NewDefaultProvider builds a provider from the global OpenTelemetry
// providers, typically after Init configured them.
func NewDefaultProvider() (*Provider, error) {
	return NewProvider(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// SetSpanError marks span failed with err.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
}
