package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// MemorySaver keeps checkpoint histories in process memory. It is the
// default saver for tests and single-process runs.
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint
	// maxPerThread caps history length per thread; zero means unbounded.
	maxPerThread int
}

// NewMemorySaver creates an in-memory saver with unbounded history.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{threads: make(map[string][]*Checkpoint)}
}

// NewMemorySaverWithLimit creates an in-memory saver that keeps at most
// maxPerThread checkpoints per thread, discarding the oldest.
func NewMemorySaverWithLimit(maxPerThread int) *MemorySaver {
	return &MemorySaver{
		threads:      make(map[string][]*Checkpoint),
		maxPerThread: maxPerThread,
	}
}

// Save implements Saver.
func (m *MemorySaver) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is required")
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.threads[cp.ThreadID], cp.Clone())
	if m.maxPerThread > 0 && len(history) > m.maxPerThread {
		history = history[len(history)-m.maxPerThread:]
	}
	m.threads[cp.ThreadID] = history
	return nil
}

// LoadLatest implements Saver.
func (m *MemorySaver) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	return history[len(history)-1].Clone(), nil
}

// Load implements Saver.
func (m *MemorySaver) Load(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cp := range m.threads[threadID] {
		if cp.CheckpointID == checkpointID {
			return cp.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
}

// List implements Saver.
func (m *MemorySaver) List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}

	result := make([]*Checkpoint, 0, limit)
	for i := len(history) - 1; i >= len(history)-limit; i-- {
		result = append(result, history[i].Clone())
	}
	return result, nil
}

// Delete implements Saver.
func (m *MemorySaver) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.threads, threadID)
	return nil
}
