// Package errors provides the typed error taxonomy for stategraph.
//
// Errors fall into three groups. Construction-time errors are returned by
// graph compilation and never occur once execution has begun. Stop
// conditions (recursion limit, interruption) are expected control-flow
// outcomes that callers handle like results. Execution failures abort the
// current run. Every type has a matching Is helper so integrators can
// branch on error kind without string matching.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/stategraph-go/stategraph/interrupt"
)

// ErrorCode is the stable machine-readable identifier for an error kind.
// It is the value surfaced over serialized boundaries such as the HTTP API.
type ErrorCode string

const (
	// CodeInvalidGraph marks a structurally invalid graph definition.
	CodeInvalidGraph ErrorCode = "INVALID_GRAPH"
	// CodeNodeNotFound marks an edge source that names no declared node.
	CodeNodeNotFound ErrorCode = "NODE_NOT_FOUND"
	// CodeEdgeTargetNotFound marks an edge target that names no declared node.
	CodeEdgeTargetNotFound ErrorCode = "EDGE_TARGET_NOT_FOUND"
	// CodeNoEntryPoint marks a graph with no edge originating at START.
	CodeNoEntryPoint ErrorCode = "NO_ENTRY_POINT"
	// CodeRecursionLimitExceeded marks a run that exhausted its superstep budget.
	CodeRecursionLimitExceeded ErrorCode = "RECURSION_LIMIT_EXCEEDED"
	// CodeInterrupted marks a run halted at an interrupt point.
	CodeInterrupted ErrorCode = "INTERRUPTED"
	// CodeNodeExecutionFailed marks a node failure inside a superstep.
	CodeNodeExecutionFailed ErrorCode = "NODE_EXECUTION_FAILED"
	// CodeUnknownRouteTarget marks a router result that names no declared node.
	CodeUnknownRouteTarget ErrorCode = "UNKNOWN_ROUTE_TARGET"
	// CodeSerialization marks a state or checkpoint (de)serialization failure.
	CodeSerialization ErrorCode = "SERIALIZATION_ERROR"
	// CodeCheckpoint marks a checkpoint persistence failure.
	CodeCheckpoint ErrorCode = "CHECKPOINT_ERROR"
	// CodeExecutionCancelled marks a run cancelled by its context.
	CodeExecutionCancelled ErrorCode = "EXECUTION_CANCELLED"
	// CodeInvalidUpdate marks a state update for an undeclared channel.
	CodeInvalidUpdate ErrorCode = "INVALID_UPDATE"
	// CodeStore marks a key-value store failure.
	CodeStore ErrorCode = "STORE_ERROR"
)

// InvalidGraphError is returned when a graph definition is structurally
// invalid in a way not covered by a more specific construction error.
type InvalidGraphError struct {
	Message string
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("invalid graph: %s", e.Message)
}

// IsInvalidGraph checks if an error is an InvalidGraphError.
func IsInvalidGraph(err error) bool {
	var target *InvalidGraphError
	return stderrors.As(err, &target)
}

// NodeNotFoundError is returned when an edge references an undeclared node
// as its source.
type NodeNotFoundError struct {
	Node string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node not found: %s", e.Node)
}

// IsNodeNotFound checks if an error is a NodeNotFoundError.
func IsNodeNotFound(err error) bool {
	var target *NodeNotFoundError
	return stderrors.As(err, &target)
}

// EdgeTargetNotFoundError is returned when an edge target names a node that
// was never declared.
type EdgeTargetNotFoundError struct {
	Source string
	Target string
}

func (e *EdgeTargetNotFoundError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("edge target not found: %s", e.Target)
	}
	return fmt.Sprintf("edge target not found: %s (from %s)", e.Target, e.Source)
}

// IsEdgeTargetNotFound checks if an error is an EdgeTargetNotFoundError.
func IsEdgeTargetNotFound(err error) bool {
	var target *EdgeTargetNotFoundError
	return stderrors.As(err, &target)
}

// NoEntryPointError is returned by compile when no edge originates at START.
type NoEntryPointError struct{}

func (e *NoEntryPointError) Error() string {
	return "graph has no entry point: add an edge from START"
}

// IsNoEntryPoint checks if an error is a NoEntryPointError.
func IsNoEntryPoint(err error) bool {
	var target *NoEntryPointError
	return stderrors.As(err, &target)
}

// RecursionLimitExceededError is returned when a run reaches the configured
// superstep limit. It bounds unconditional cycles; callers treat it as an
// expected stop condition, not a failure.
type RecursionLimitExceededError struct {
	Limit int
}

func (e *RecursionLimitExceededError) Error() string {
	return fmt.Sprintf("recursion limit of %d supersteps reached; raise the limit in the execution config to allow deeper cycles", e.Limit)
}

// IsRecursionLimitExceeded checks if an error is a RecursionLimitExceededError.
func IsRecursionLimitExceeded(err error) bool {
	var target *RecursionLimitExceededError
	return stderrors.As(err, &target)
}

// InterruptedError is returned when a run halts at an interrupt point.
// It carries everything a caller needs to inspect the halt and resume later:
// the thread, the checkpoint persisted at the halt, the interrupt itself,
// the state as of the halt, and the superstep number.
type InterruptedError struct {
	ThreadID     string
	CheckpointID string
	Interrupt    *interrupt.Interrupt
	State        map[string]interface{}
	Step         int
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("execution interrupted at step %d (%s), thread %s, checkpoint %s",
		e.Step, e.Interrupt.String(), e.ThreadID, e.CheckpointID)
}

// IsInterrupted checks if an error is an InterruptedError.
func IsInterrupted(err error) bool {
	var target *InterruptedError
	return stderrors.As(err, &target)
}

// AsInterrupted extracts the InterruptedError from err, if any.
func AsInterrupted(err error) (*InterruptedError, bool) {
	var target *InterruptedError
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// NodeExecutionFailedError is returned when a node fails inside a superstep.
// The whole superstep is rolled back; sibling updates are discarded.
type NodeExecutionFailedError struct {
	Node    string
	Step    int
	Message string
	Err     error
}

func (e *NodeExecutionFailedError) Error() string {
	return fmt.Sprintf("node %q failed at step %d: %s", e.Node, e.Step, e.Message)
}

func (e *NodeExecutionFailedError) Unwrap() error {
	return e.Err
}

// IsNodeExecutionFailed checks if an error is a NodeExecutionFailedError.
func IsNodeExecutionFailed(err error) bool {
	var target *NodeExecutionFailedError
	return stderrors.As(err, &target)
}

// UnknownRouteTargetError is returned when a router resolves to a name that
// is neither END nor a declared node. Router outputs are validated lazily at
// execution time because routers may compute arbitrary strings.
type UnknownRouteTargetError struct {
	Source string
	Target string
}

func (e *UnknownRouteTargetError) Error() string {
	return fmt.Sprintf("router on %q returned unknown target %q", e.Source, e.Target)
}

// IsUnknownRouteTarget checks if an error is an UnknownRouteTargetError.
func IsUnknownRouteTarget(err error) bool {
	var target *UnknownRouteTargetError
	return stderrors.As(err, &target)
}

// SerializationError is returned when state or a checkpoint cannot be
// serialized or deserialized.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsSerialization checks if an error is a SerializationError.
func IsSerialization(err error) bool {
	var target *SerializationError
	return stderrors.As(err, &target)
}

// CheckpointError is returned when checkpoint persistence fails. A failed
// save aborts the superstep commit: no progress is acknowledged without
// durable persistence when a checkpointer is configured.
type CheckpointError struct {
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s failed: %v", e.Op, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// IsCheckpoint checks if an error is a CheckpointError.
func IsCheckpoint(err error) bool {
	var target *CheckpointError
	return stderrors.As(err, &target)
}

// ExecutionCancelledError is returned when the caller's context is cancelled
// or its deadline expires. In-flight node results for the current superstep
// are discarded. Unwrap exposes the context error so callers can distinguish
// cancellation from deadline expiry with errors.Is.
type ExecutionCancelledError struct {
	Step int
	Err  error
}

func (e *ExecutionCancelledError) Error() string {
	return fmt.Sprintf("execution cancelled at step %d: %v", e.Step, e.Err)
}

func (e *ExecutionCancelledError) Unwrap() error {
	return e.Err
}

// IsExecutionCancelled checks if an error is an ExecutionCancelledError.
func IsExecutionCancelled(err error) bool {
	var target *ExecutionCancelledError
	return stderrors.As(err, &target)
}

// InvalidUpdateError is returned when a node writes to a state key that
// belongs to no declared channel.
type InvalidUpdateError struct {
	Key     string
	Message string
}

func (e *InvalidUpdateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid update for %q: %s", e.Key, e.Message)
	}
	return fmt.Sprintf("invalid update: no channel declared for state key %q", e.Key)
}

// IsInvalidUpdate checks if an error is an InvalidUpdateError.
func IsInvalidUpdate(err error) bool {
	var target *InvalidUpdateError
	return stderrors.As(err, &target)
}

// StoreError is returned when a namespaced key-value store operation fails.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStore checks if an error is a StoreError.
func IsStore(err error) bool {
	var target *StoreError
	return stderrors.As(err, &target)
}

// CodeOf maps an error to its stable code, or "" for unrecognized errors.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case IsNoEntryPoint(err):
		return CodeNoEntryPoint
	case IsNodeNotFound(err):
		return CodeNodeNotFound
	case IsEdgeTargetNotFound(err):
		return CodeEdgeTargetNotFound
	case IsInvalidGraph(err):
		return CodeInvalidGraph
	case IsRecursionLimitExceeded(err):
		return CodeRecursionLimitExceeded
	case IsInterrupted(err):
		return CodeInterrupted
	case IsNodeExecutionFailed(err):
		return CodeNodeExecutionFailed
	case IsUnknownRouteTarget(err):
		return CodeUnknownRouteTarget
	case IsCheckpoint(err):
		return CodeCheckpoint
	case IsSerialization(err):
		return CodeSerialization
	case IsExecutionCancelled(err):
		return CodeExecutionCancelled
	case IsInvalidUpdate(err):
		return CodeInvalidUpdate
	case IsStore(err):
		return CodeStore
	default:
		return ""
	}
}
