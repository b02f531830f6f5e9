// Package types provides the shared execution types for stategraph.
package types

import "github.com/google/uuid"

// StreamMode defines which events the stream method emits.
type StreamMode string

const (
	// StreamModeValues emits the full state after each superstep,
	// including the initial state.
	StreamModeValues StreamMode = "values"
	// StreamModeUpdates emits per-node deltas and a step summary after
	// each superstep.
	StreamModeUpdates StreamMode = "updates"
	// StreamModeMessages emits message content produced by nodes, for
	// example model output chunks.
	StreamModeMessages StreamMode = "messages"
	// StreamModeCustom emits custom events raised by nodes.
	StreamModeCustom StreamMode = "custom"
	// StreamModeDebug emits every event the engine produces, including
	// per-node start and end markers.
	StreamModeDebug StreamMode = "debug"
)

// DefaultRecursionLimit bounds the number of supersteps per execution when
// the caller does not configure one.
const DefaultRecursionLimit = 50

// ExecutionConfig carries the per-run settings for a graph execution.
type ExecutionConfig struct {
	// ThreadID identifies the logical conversation or run. Checkpoints are
	// scoped to it; re-invoking with the same thread resumes its history.
	ThreadID string
	// ResumeFrom pins initialization to a specific checkpoint instead of
	// the thread's latest one.
	ResumeFrom string
	// RecursionLimit is the upper bound on supersteps for this run. Zero
	// means use the limit the graph was compiled with.
	RecursionLimit int
	// Metadata is attached to every checkpoint the run persists.
	Metadata map[string]interface{}
}

// NewExecutionConfig creates a config for the given thread.
func NewExecutionConfig(threadID string) *ExecutionConfig {
	return &ExecutionConfig{
		ThreadID: threadID,
		Metadata: make(map[string]interface{}),
	}
}

// DefaultExecutionConfig creates a config with a random thread id.
func DefaultExecutionConfig() *ExecutionConfig {
	return NewExecutionConfig(uuid.New().String())
}

// WithRecursionLimit sets the superstep bound.
func (c *ExecutionConfig) WithRecursionLimit(limit int) *ExecutionConfig {
	c.RecursionLimit = limit
	return c
}

// WithResumeFrom pins initialization to a specific checkpoint id.
func (c *ExecutionConfig) WithResumeFrom(checkpointID string) *ExecutionConfig {
	c.ResumeFrom = checkpointID
	return c
}

// WithMetadata attaches a metadata entry.
func (c *ExecutionConfig) WithMetadata(key string, value interface{}) *ExecutionConfig {
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata[key] = value
	return c
}

// Clone returns a copy safe to hand to concurrently running nodes.
func (c *ExecutionConfig) Clone() *ExecutionConfig {
	if c == nil {
		return DefaultExecutionConfig()
	}
	out := &ExecutionConfig{
		ThreadID:       c.ThreadID,
		ResumeFrom:     c.ResumeFrom,
		RecursionLimit: c.RecursionLimit,
		Metadata:       make(map[string]interface{}, len(c.Metadata)),
	}
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// Command is the structured input form used to resume or steer an
// interrupted thread. It can replace the plain update map passed to invoke.
type Command struct {
	// Update holds state updates to merge before execution continues.
	Update map[string]interface{}
	// Resume is the value answering a dynamic interrupt. It is injected
	// into state under the reserved resume key before the halted
	// superstep re-runs.
	Resume interface{}
	// Goto overrides the pending node set, forcing execution to continue
	// at the named nodes.
	Goto []string
}

// NewCommand creates an empty Command.
func NewCommand() *Command {
	return &Command{}
}

// WithUpdate sets state updates to merge on resume.
func (c *Command) WithUpdate(updates map[string]interface{}) *Command {
	c.Update = updates
	return c
}

// WithResume sets the value answering a dynamic interrupt.
func (c *Command) WithResume(value interface{}) *Command {
	c.Resume = value
	return c
}

// WithGoto overrides the nodes execution continues at.
func (c *Command) WithGoto(nodes ...string) *Command {
	c.Goto = nodes
	return c
}
