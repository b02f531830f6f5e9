// Package message provides a typed view over chat messages stored in
// graph state, plus a merge reducer for message list channels.
//
// Messages live in state as plain maps so they survive checkpoint
// serialization; Message is the typed view over that shape.
package message

import (
	"github.com/google/uuid"

	"github.com/stategraph-go/stategraph/state"
)

// Roles recognized by the message helpers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// RemoveAllID marks a removal that clears every preceding message.
const RemoveAllID = "__remove_all__"

const removeKey = "__remove__"

// ToolCall is a tool invocation requested by an assistant message.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Message is one chat message.
type Message struct {
	ID         string                 `json:"id"`
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// System creates a system message.
func System(content string) Message {
	return Message{ID: uuid.New().String(), Role: RoleSystem, Content: content}
}

// User creates a user message.
func User(content string) Message {
	return Message{ID: uuid.New().String(), Role: RoleUser, Content: content}
}

// Assistant creates an assistant message.
func Assistant(content string) Message {
	return Message{ID: uuid.New().String(), Role: RoleAssistant, Content: content}
}

// AssistantWithToolCalls creates an assistant message requesting tool calls.
func AssistantWithToolCalls(content string, calls ...ToolCall) Message {
	return Message{ID: uuid.New().String(), Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// Tool creates a tool result message answering the given tool call.
func Tool(content, toolCallID string) Message {
	return Message{ID: uuid.New().String(), Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Remove returns a marker that deletes the message with the given ID when
// merged by AddMessages.
func Remove(id string) map[string]interface{} {
	return map[string]interface{}{"id": id, removeKey: true}
}

// RemoveAll returns a marker that clears the whole list when merged by
// AddMessages. Messages after the marker in the same update survive.
func RemoveAll() map[string]interface{} {
	return map[string]interface{}{"id": RemoveAllID, removeKey: true}
}

// HasToolCalls reports whether the message requests tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToMap converts the message to its state representation.
func (m Message) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"id":      m.ID,
		"role":    m.Role,
		"content": m.Content,
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]interface{}, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			call := map[string]interface{}{"id": tc.ID, "name": tc.Name}
			if tc.Args != nil {
				call["args"] = tc.Args
			}
			calls[i] = call
		}
		out["tool_calls"] = calls
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	if m.Meta != nil {
		out["meta"] = m.Meta
	}
	return out
}

// FromValue converts a state value into a Message. It accepts Message,
// *Message, a message map, or a bare string, which becomes a user message.
func FromValue(v interface{}) (Message, bool) {
	switch val := v.(type) {
	case Message:
		return val, true
	case *Message:
		if val == nil {
			return Message{}, false
		}
		return *val, true
	case string:
		return Message{Role: RoleUser, Content: val}, true
	case map[string]interface{}:
		return fromMap(val), true
	default:
		return Message{}, false
	}
}

// FromSlice converts a state list value into messages, skipping entries
// that are not message shaped.
func FromSlice(v interface{}) []Message {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(items))
	for _, item := range items {
		if m, ok := FromValue(item); ok {
			out = append(out, m)
		}
	}
	return out
}

// LastMessage returns the final message of a state list value.
func LastMessage(v interface{}) (Message, bool) {
	msgs := FromSlice(v)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reducer returns a custom reducer that merges message lists with
// AddMessages. Wire it on the channel holding conversation history.
func Reducer() state.Reducer {
	return state.Custom(AddMessages)
}

// AddMessages merges an update into the current message list. Messages
// keep insertion order; an update whose ID matches an existing message
// replaces it in place, others append. Removal markers delete by ID, and
// a RemoveAllID marker drops everything merged before it. Messages
// without an ID are assigned one. The result is a list of message maps.
func AddMessages(current, update interface{}) interface{} {
	left := normalize(current)
	right := normalize(update)

	for i, r := range right {
		if isRemoval(r) && r["id"] == RemoveAllID {
			rest := make([]map[string]interface{}, 0, len(right)-i-1)
			for _, m := range right[i+1:] {
				if !isRemoval(m) {
					rest = append(rest, m)
				}
			}
			return toStateList(rest)
		}
	}

	merged := make([]map[string]interface{}, len(left))
	copy(merged, left)
	byID := make(map[string]int, len(merged))
	for i, m := range merged {
		if id, ok := m["id"].(string); ok {
			byID[id] = i
		}
	}

	removed := make(map[string]bool)
	for _, r := range right {
		id, _ := r["id"].(string)
		if isRemoval(r) {
			if _, exists := byID[id]; exists {
				removed[id] = true
			}
			continue
		}
		if idx, exists := byID[id]; exists {
			merged[idx] = r
			delete(removed, id)
			continue
		}
		byID[id] = len(merged)
		merged = append(merged, r)
	}

	kept := make([]map[string]interface{}, 0, len(merged))
	for _, m := range merged {
		if id, ok := m["id"].(string); ok && removed[id] {
			continue
		}
		kept = append(kept, m)
	}
	return toStateList(kept)
}

func isRemoval(m map[string]interface{}) bool {
	flag, _ := m[removeKey].(bool)
	return flag
}

// normalize coerces any accepted message value into message maps with IDs.
func normalize(v interface{}) []map[string]interface{} {
	var items []interface{}
	switch val := v.(type) {
	case nil:
		return nil
	case []interface{}:
		items = val
	case []map[string]interface{}:
		items = make([]interface{}, len(val))
		for i, m := range val {
			items[i] = m
		}
	case []Message:
		items = make([]interface{}, len(val))
		for i, m := range val {
			items[i] = m
		}
	default:
		items = []interface{}{val}
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			if isRemoval(m) {
				out = append(out, m)
				continue
			}
			out = append(out, withID(m))
			continue
		}
		if msg, ok := FromValue(item); ok {
			if msg.ID == "" {
				msg.ID = uuid.New().String()
			}
			out = append(out, msg.ToMap())
		}
	}
	return out
}

func withID(m map[string]interface{}) map[string]interface{} {
	if id, ok := m["id"].(string); ok && id != "" {
		return m
	}
	copied := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		copied[k] = v
	}
	copied["id"] = uuid.New().String()
	return copied
}

func toStateList(msgs []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out
}

func fromMap(m map[string]interface{}) Message {
	msg := Message{
		ID:      stringField(m, "id"),
		Role:    stringField(m, "role"),
		Content: stringField(m, "content"),
	}
	if msg.Role == "" {
		msg.Role = RoleUser
	}
	msg.ToolCallID = stringField(m, "tool_call_id")
	if meta, ok := m["meta"].(map[string]interface{}); ok {
		msg.Meta = meta
	}
	if raw, ok := m["tool_calls"].([]interface{}); ok {
		for _, item := range raw {
			call, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			tc := ToolCall{ID: stringField(call, "id"), Name: stringField(call, "name")}
			if args, ok := call["args"].(map[string]interface{}); ok {
				tc.Args = args
			}
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
	}
	return msg
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
