// Package stategraph is the root package for StateGraph Go.
//
// StateGraph is a library for building stateful graph workflows. Nodes
// read a shared state and return updates; a superstep scheduler runs
// ready nodes concurrently, merges their updates through per-channel
// reducers, and follows direct and conditional edges until the graph
// finishes. It provides:
//
//   - Channel-based state with overwrite, append, sum, and custom reducers
//   - Concurrent supersteps with deterministic merge order
//   - Conditional routing, cycles, and subgraphs
//   - Human-in-the-loop interrupts with checkpoint-backed resume
//   - Memory, SQLite, Postgres, and Redis checkpoint savers
//   - Event streaming, visualization, and an HTTP serving layer
//
// Basic usage:
//
//	schema := state.NewSchema().
//		AddListChannel("messages").
//		Build()
//
//	g := stategraph.NewStateGraph(schema)
//	g.AddNode("agent", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
//		return graph.NewNodeOutput().WithUpdate("messages", "hello"), nil
//	})
//	g.AddEdge(stategraph.Start, "agent")
//	g.AddEdge("agent", stategraph.End)
//
//	compiled, err := g.Compile()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	final, err := compiled.Invoke(context.Background(), nil, nil)
//
// The subpackages hold the full API; this package re-exports the names
// most programs start from.
package stategraph

import (
	"github.com/stategraph-go/stategraph/checkpoint"
	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/interrupt"
	"github.com/stategraph-go/stategraph/prebuilt"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/store"
	"github.com/stategraph-go/stategraph/stream"
	"github.com/stategraph-go/stategraph/types"
)

// Core graph types.
type (
	// StateGraph is the mutable graph builder.
	StateGraph = graph.StateGraph

	// CompiledGraph is the validated, executable graph.
	CompiledGraph = graph.CompiledGraph

	// Node is the unit of execution.
	Node = graph.Node

	// NodeContext carries what a node may read during one superstep.
	NodeContext = graph.NodeContext

	// NodeOutput is what a node hands back to the scheduler.
	NodeOutput = graph.NodeOutput

	// NodeFunc adapts a function to the Node interface.
	NodeFunc = graph.NodeFunc

	// Router picks the targets of a conditional edge.
	Router = graph.Router

	// State is the shared execution state.
	State = state.State

	// Schema declares the state channels and their reducers.
	Schema = state.Schema

	// Reducer merges a channel update into its current value.
	Reducer = state.Reducer

	// Checkpoint is one persisted execution snapshot.
	Checkpoint = checkpoint.Checkpoint

	// Saver persists and restores checkpoints.
	Saver = checkpoint.Saver

	// MemorySaver keeps checkpoints in process memory.
	MemorySaver = checkpoint.MemorySaver

	// SqliteSaver persists checkpoints in a SQLite database.
	SqliteSaver = checkpoint.SqliteSaver

	// PostgresSaver persists checkpoints in PostgreSQL.
	PostgresSaver = checkpoint.PostgresSaver

	// RedisSaver persists checkpoints in Redis.
	RedisSaver = checkpoint.RedisSaver

	// Store is the namespaced key-value store nodes may share.
	Store = store.Store

	// Interrupt describes where and why an execution halted.
	Interrupt = interrupt.Interrupt

	// InterruptedError is the typed halt outcome of a run.
	InterruptedError = errs.InterruptedError

	// ExecutionConfig carries per-run settings.
	ExecutionConfig = types.ExecutionConfig

	// Command is the structured input used to resume or steer a thread.
	Command = types.Command

	// StreamMode selects which events a stream emits.
	StreamMode = types.StreamMode

	// Event is one entry in a run's event stream.
	Event = stream.Event
)

// Graph sentinels.
const (
	// Start is the virtual entry node.
	Start = graph.Start

	// End is the virtual exit node.
	End = graph.End
)

// DefaultRecursionLimit bounds supersteps when no limit is configured.
const DefaultRecursionLimit = types.DefaultRecursionLimit

// Stream modes.
const (
	StreamModeValues   = types.StreamModeValues
	StreamModeUpdates  = types.StreamModeUpdates
	StreamModeMessages = types.StreamModeMessages
	StreamModeCustom   = types.StreamModeCustom
	StreamModeDebug    = types.StreamModeDebug
)

// Compile options.
var (
	// WithCheckpointer persists a checkpoint after every superstep.
	WithCheckpointer = graph.WithCheckpointer

	// WithInterruptBefore pauses execution before any listed node runs.
	WithInterruptBefore = graph.WithInterruptBefore

	// WithInterruptAfter pauses execution after any listed node ran.
	WithInterruptAfter = graph.WithInterruptAfter

	// WithRecursionLimit caps the number of supersteps per run.
	WithRecursionLimit = graph.WithRecursionLimit

	// WithStore exposes a shared store to nodes.
	WithStore = graph.WithStore

	// WithDebug emits engine diagnostics into the event stream.
	WithDebug = graph.WithDebug

	// WithName names the graph for visualization and tracing.
	WithName = graph.WithName

	// WithTracing records a span per run and per node execution.
	WithTracing = graph.WithTracing
)

// Built-in routers.
var (
	// ByField routes on the string value of a state key.
	ByField = graph.ByField

	// ByBool routes on a boolean state key.
	ByBool = graph.ByBool

	// HasToolCalls routes on whether the last message requests tools.
	HasToolCalls = graph.HasToolCalls

	// MaxIterations routes on an iteration counter against a cap.
	MaxIterations = graph.MaxIterations

	// OnError routes on whether an error value is present.
	OnError = graph.OnError

	// NamedRouter wraps a routing function with a display name.
	NamedRouter = graph.NamedRouter
)

// Reducers.
var (
	// Overwrite replaces the current value.
	Overwrite = state.Overwrite

	// Append accumulates updates into a list.
	Append = state.Append

	// Sum adds numeric updates.
	Sum = state.Sum

	// Custom applies a caller-provided merge function.
	Custom = state.Custom
)

// Error predicates.
var (
	// IsInterrupted reports whether err is a halt outcome.
	IsInterrupted = errs.IsInterrupted

	// AsInterrupted extracts the typed halt outcome from err.
	AsInterrupted = errs.AsInterrupted

	// CodeOf returns the error code classifying err.
	CodeOf = errs.CodeOf
)

// Prebuilt agent surface.
var (
	// CreateAgent compiles a tool-calling agent graph.
	CreateAgent = prebuilt.CreateAgent

	// NewTool wraps a function as an agent tool.
	NewTool = prebuilt.NewTool
)

// NewStateGraph creates a graph builder over the given schema.
func NewStateGraph(schema *Schema) *StateGraph {
	return graph.NewStateGraph(schema)
}

// NewSchema starts a fluent schema definition.
func NewSchema() *state.SchemaBuilder {
	return state.NewSchema()
}

// NewMemorySaver creates an in-memory checkpoint saver.
func NewMemorySaver() *MemorySaver {
	return checkpoint.NewMemorySaver()
}

// NewSqliteSaver opens a SQLite-backed checkpoint saver at dbPath.
func NewSqliteSaver(dbPath string) (*SqliteSaver, error) {
	return checkpoint.NewSqliteSaver(dbPath)
}

// NewPostgresSaver connects a PostgreSQL-backed checkpoint saver.
func NewPostgresSaver(connString string) (*PostgresSaver, error) {
	return checkpoint.NewPostgresSaver(connString)
}

// NewMemoryStore creates an in-memory namespaced store.
func NewMemoryStore() *store.MemoryStore {
	return store.NewMemoryStore()
}

// NewExecutionConfig creates a per-run config for the given thread.
func NewExecutionConfig(threadID string) *ExecutionConfig {
	return types.NewExecutionConfig(threadID)
}

// NewCommand creates an empty resume command.
func NewCommand() *Command {
	return types.NewCommand()
}

// DynamicInterrupt creates an interrupt a node raises mid-execution.
func DynamicInterrupt(message string) *Interrupt {
	return interrupt.Dynamic(message)
}
