// Package checkpoint persists execution snapshots so runs can pause,
// resume, and survive process restarts. Savers exist for memory, SQLite,
// PostgreSQL, and Redis.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/interrupt"
)

// ErrNotFound is returned when a requested checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is one execution snapshot. Step is the superstep the
// execution runs NEXT when resumed from this snapshot, and PendingNodes
// are the nodes that superstep executes.
type Checkpoint struct {
	ThreadID     string                 `json:"thread_id"`
	CheckpointID string                 `json:"checkpoint_id"`
	Step         int                    `json:"step"`
	State        map[string]interface{} `json:"state"`
	PendingNodes []string               `json:"pending_nodes"`
	// Interrupt records why execution paused, when it did.
	Interrupt *interrupt.Interrupt   `json:"interrupt,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// New creates a checkpoint with a fresh ID.
func New(threadID string, step int, state map[string]interface{}, pendingNodes []string) *Checkpoint {
	return &Checkpoint{
		ThreadID:     threadID,
		CheckpointID: uuid.New().String(),
		Step:         step,
		State:        state,
		PendingNodes: pendingNodes,
		CreatedAt:    time.Now().UTC(),
	}
}

// WithInterrupt records the interrupt that produced this checkpoint.
func (c *Checkpoint) WithInterrupt(intr *interrupt.Interrupt) *Checkpoint {
	c.Interrupt = intr
	return c
}

// WithMetadata attaches caller metadata.
func (c *Checkpoint) WithMetadata(md map[string]interface{}) *Checkpoint {
	c.Metadata = md
	return c
}

// Clone deep-copies the checkpoint so callers can mutate the result freely.
func (c *Checkpoint) Clone() *Checkpoint {
	clone := &Checkpoint{
		ThreadID:     c.ThreadID,
		CheckpointID: c.CheckpointID,
		Step:         c.Step,
		State:        deepCopyMap(c.State),
		CreatedAt:    c.CreatedAt,
	}
	if c.PendingNodes != nil {
		clone.PendingNodes = make([]string, len(c.PendingNodes))
		copy(clone.PendingNodes, c.PendingNodes)
	}
	if c.Interrupt != nil {
		intr := *c.Interrupt
		intr.Data = deepCopyMap(c.Interrupt.Data)
		clone.Interrupt = &intr
	}
	if c.Metadata != nil {
		clone.Metadata = deepCopyMap(c.Metadata)
	}
	return clone
}

// Saver persists checkpoints per thread. Implementations must be safe for
// concurrent use. LoadLatest returns (nil, nil) for an unknown thread so
// callers can distinguish "never ran" from a storage failure.
type Saver interface {
	// Save persists a checkpoint. Checkpoints for the same thread form a
	// history ordered by save time.
	Save(ctx context.Context, cp *Checkpoint) error
	// LoadLatest returns the most recent checkpoint for a thread, or
	// (nil, nil) when the thread has none.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)
	// Load returns one checkpoint by ID, or an error wrapping ErrNotFound.
	Load(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error)
	// List returns up to limit checkpoints for a thread, newest first.
	// A non-positive limit returns the full history.
	List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error)
	// Delete removes all checkpoints for a thread.
	Delete(ctx context.Context, threadID string) error
}

// Serializer converts checkpoints to and from bytes for storage backends.
type Serializer interface {
	Serialize(cp *Checkpoint) ([]byte, error)
	Deserialize(data []byte) (*Checkpoint, error)
}

// JSONSerializer is the default serializer.
type JSONSerializer struct{}

// Serialize implements Serializer.
func (JSONSerializer) Serialize(cp *Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, &errs.SerializationError{Err: err}
	}
	return data, nil
}

// Deserialize implements Serializer.
func (JSONSerializer) Deserialize(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &errs.SerializationError{Err: err}
	}
	return &cp, nil
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	default:
		return v
	}
}
