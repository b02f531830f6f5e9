// Package stream defines the event surface observers consume during graph
// execution: the serializable Event schema and the mode-filtered emitter
// the executor publishes through.
package stream

import (
	"encoding/json"
	"time"
)

// EventType discriminates the event union.
type EventType string

const (
	// EventState carries the full state after a superstep.
	EventState EventType = "state"
	// EventUpdates carries one node's merged delta.
	EventUpdates EventType = "updates"
	// EventMessage carries message content produced by a node.
	EventMessage EventType = "message"
	// EventCustom carries a node-defined event.
	EventCustom EventType = "custom"
	// EventDebug carries engine diagnostics.
	EventDebug EventType = "debug"
	// EventNodeStart marks a node beginning execution.
	EventNodeStart EventType = "node_start"
	// EventNodeEnd marks a node finishing execution.
	EventNodeEnd EventType = "node_end"
	// EventStepComplete summarizes a finished superstep.
	EventStepComplete EventType = "step_complete"
	// EventInterrupted marks an execution halting at an interrupt.
	EventInterrupted EventType = "interrupted"
	// EventDone carries the final state of a completed execution.
	EventDone EventType = "done"
	// EventError reports an execution failure.
	EventError EventType = "error"
)

// Event is the public, serializable stream record. Field names are stable;
// the schema only evolves additively. Fields irrelevant to an event type
// are omitted from its JSON form.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// Step is the superstep the event belongs to.
	Step int `json:"step"`
	// Node is the originating node, where one applies.
	Node string `json:"node,omitempty"`
	// State is the full state map for state and done events.
	State map[string]interface{} `json:"state,omitempty"`
	// Updates is the merged delta for updates events.
	Updates map[string]interface{} `json:"updates,omitempty"`
	// Content is the message text for message events.
	Content string `json:"content,omitempty"`
	// IsFinal marks the last message chunk a node emits.
	IsFinal bool `json:"is_final,omitempty"`
	// EventName subtypes custom and debug events.
	EventName string `json:"event_type,omitempty"`
	// Data is the payload for custom and debug events.
	Data map[string]interface{} `json:"data,omitempty"`
	// DurationMS is the node runtime for node_end events.
	DurationMS int64 `json:"duration_ms,omitempty"`
	// NodesExecuted lists the nodes of a completed superstep.
	NodesExecuted []string `json:"nodes_executed,omitempty"`
	// Message is the interrupt reason or error text.
	Message string `json:"message,omitempty"`
	// TotalSteps is the superstep count for done events.
	TotalSteps int `json:"total_steps,omitempty"`
}

// NewStateEvent creates a state event.
func NewStateEvent(st map[string]interface{}, step int) Event {
	return Event{Type: EventState, Timestamp: time.Now(), Step: step, State: st}
}

// NewUpdatesEvent creates an updates event for one node's delta.
func NewUpdatesEvent(node string, updates map[string]interface{}, step int) Event {
	return Event{Type: EventUpdates, Timestamp: time.Now(), Step: step, Node: node, Updates: updates}
}

// NewMessageEvent creates a message event.
func NewMessageEvent(node, content string, isFinal bool) Event {
	return Event{Type: EventMessage, Timestamp: time.Now(), Node: node, Content: content, IsFinal: isFinal}
}

// NewCustomEvent creates a node-defined event.
func NewCustomEvent(node, eventName string, data map[string]interface{}) Event {
	return Event{Type: EventCustom, Timestamp: time.Now(), Node: node, EventName: eventName, Data: data}
}

// NewDebugEvent creates a diagnostics event.
func NewDebugEvent(eventName string, data map[string]interface{}, step int) Event {
	return Event{Type: EventDebug, Timestamp: time.Now(), Step: step, EventName: eventName, Data: data}
}

// NewNodeStartEvent marks node beginning execution at step.
func NewNodeStartEvent(node string, step int) Event {
	return Event{Type: EventNodeStart, Timestamp: time.Now(), Step: step, Node: node}
}

// NewNodeEndEvent marks node finishing execution at step.
func NewNodeEndEvent(node string, step int, duration time.Duration) Event {
	return Event{Type: EventNodeEnd, Timestamp: time.Now(), Step: step, Node: node, DurationMS: duration.Milliseconds()}
}

// NewStepCompleteEvent summarizes a finished superstep.
func NewStepCompleteEvent(step int, nodesExecuted []string) Event {
	return Event{Type: EventStepComplete, Timestamp: time.Now(), Step: step, NodesExecuted: nodesExecuted}
}

// NewInterruptedEvent marks the halt of an execution.
func NewInterruptedEvent(node, message string, step int) Event {
	return Event{Type: EventInterrupted, Timestamp: time.Now(), Step: step, Node: node, Message: message}
}

// NewDoneEvent carries the final state of a completed execution.
func NewDoneEvent(st map[string]interface{}, totalSteps int) Event {
	return Event{Type: EventDone, Timestamp: time.Now(), Step: totalSteps, State: st, TotalSteps: totalSteps}
}

// NewErrorEvent reports an execution failure, attributed to a node when
// one is responsible.
func NewErrorEvent(message, node string, step int) Event {
	return Event{Type: EventError, Timestamp: time.Now(), Step: step, Node: node, Message: message}
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventDone, EventInterrupted, EventError:
		return true
	default:
		return false
	}
}

// ToJSON serializes the event.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
