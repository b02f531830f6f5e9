package stream

import (
	"context"
	"sync"

	"github.com/stategraph-go/stategraph/types"
)

// DefaultBuffer is the channel capacity used when none is given.
const DefaultBuffer = 64

// Emitter publishes events to a single consumer channel, filtered by the
// stream modes the caller subscribed to. Terminal events pass every filter
// so a consumer always learns how the execution ended.
type Emitter struct {
	ch     chan Event
	modes  map[types.StreamMode]bool
	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an emitter with the given channel buffer and mode
// subscriptions. A buffer below one falls back to DefaultBuffer; no modes
// falls back to StreamModeValues.
func NewEmitter(buffer int, modes ...types.StreamMode) *Emitter {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	if len(modes) == 0 {
		modes = []types.StreamMode{types.StreamModeValues}
	}
	set := make(map[types.StreamMode]bool, len(modes))
	for _, m := range modes {
		set[m] = true
	}
	return &Emitter{ch: make(chan Event, buffer), modes: set}
}

// Events returns the consumer side of the stream. The channel is closed by
// Close once execution finishes.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Wants reports whether the subscribed modes include ev.
func (e *Emitter) Wants(ev Event) bool {
	if ev.IsTerminal() {
		return true
	}
	if e.modes[types.StreamModeDebug] {
		return true
	}
	switch ev.Type {
	case EventState:
		return e.modes[types.StreamModeValues]
	case EventUpdates, EventStepComplete:
		return e.modes[types.StreamModeUpdates]
	case EventMessage:
		return e.modes[types.StreamModeMessages]
	case EventCustom:
		return e.modes[types.StreamModeCustom]
	default:
		// node_start, node_end and debug are diagnostics.
		return false
	}
}

// Emit publishes ev, blocking until the consumer receives it or ctx is
// cancelled. Events outside the subscribed modes and events emitted after
// Close are dropped.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	if !e.Wants(ev) {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	select {
	case e.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the consumer channel. Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
