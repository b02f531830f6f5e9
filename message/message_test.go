package message

import (
	"testing"

	"github.com/stategraph-go/stategraph/state"
)

func TestConstructors(t *testing.T) {
	sys := System("be brief")
	if sys.Role != RoleSystem || sys.Content != "be brief" {
		t.Errorf("Expected system message, got %+v", sys)
	}
	if sys.ID == "" {
		t.Error("Expected generated ID")
	}

	asst := AssistantWithToolCalls("looking that up", ToolCall{ID: "c1", Name: "search", Args: map[string]interface{}{"q": "go"}})
	if !asst.HasToolCalls() {
		t.Error("Expected HasToolCalls to be true")
	}
	if asst.ToolCalls[0].Name != "search" {
		t.Errorf("Expected tool call search, got %s", asst.ToolCalls[0].Name)
	}

	tool := Tool("42 results", "c1")
	if tool.Role != RoleTool || tool.ToolCallID != "c1" {
		t.Errorf("Expected tool message answering c1, got %+v", tool)
	}
}

func TestToMapFromValueRoundTrip(t *testing.T) {
	orig := AssistantWithToolCalls("checking", ToolCall{ID: "c1", Name: "lookup", Args: map[string]interface{}{"key": "x"}})
	m := orig.ToMap()

	got, ok := FromValue(m)
	if !ok {
		t.Fatal("Expected FromValue to accept a message map")
	}
	if got.ID != orig.ID || got.Role != orig.Role || got.Content != orig.Content {
		t.Errorf("Expected %+v, got %+v", orig, got)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "lookup" {
		t.Errorf("Expected tool call lookup, got %+v", got.ToolCalls)
	}
	if got.ToolCalls[0].Args["key"] != "x" {
		t.Errorf("Expected tool call args to survive, got %+v", got.ToolCalls[0].Args)
	}
}

func TestFromValueVariants(t *testing.T) {
	if m, ok := FromValue("hello"); !ok || m.Role != RoleUser || m.Content != "hello" {
		t.Errorf("Expected bare string to become a user message, got %+v ok=%v", m, ok)
	}
	msg := User("hi")
	if m, ok := FromValue(&msg); !ok || m.Content != "hi" {
		t.Errorf("Expected pointer to be accepted, got %+v ok=%v", m, ok)
	}
	if _, ok := FromValue(42); ok {
		t.Error("Expected non-message value to be rejected")
	}
	if m, ok := FromValue(map[string]interface{}{"content": "raw"}); !ok || m.Role != RoleUser {
		t.Errorf("Expected map without role to default to user, got %+v ok=%v", m, ok)
	}
}

func TestFromSliceAndLastMessage(t *testing.T) {
	list := []interface{}{
		User("first").ToMap(),
		42,
		Assistant("second").ToMap(),
	}
	msgs := FromSlice(list)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	last, ok := LastMessage(list)
	if !ok || last.Content != "second" {
		t.Errorf("Expected last message second, got %+v ok=%v", last, ok)
	}
	if _, ok := LastMessage([]interface{}{}); ok {
		t.Error("Expected no last message from empty list")
	}
	if _, ok := LastMessage("not a list"); ok {
		t.Error("Expected no last message from non-list value")
	}
}

func TestAddMessagesAppends(t *testing.T) {
	current := AddMessages(nil, User("hi"))
	merged := AddMessages(current, Assistant("hello"))

	list, ok := merged.([]interface{})
	if !ok {
		t.Fatalf("Expected []interface{}, got %T", merged)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(list))
	}
	msgs := FromSlice(merged)
	if msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Errorf("Expected order preserved, got %+v", msgs)
	}
}

func TestAddMessagesReplacesByID(t *testing.T) {
	first := User("draft")
	current := AddMessages(nil, first)

	updated := first
	updated.Content = "final"
	merged := AddMessages(current, updated)

	msgs := FromSlice(merged)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message after replace, got %d", len(msgs))
	}
	if msgs[0].Content != "final" {
		t.Errorf("Expected replaced content final, got %s", msgs[0].Content)
	}
	if msgs[0].ID != first.ID {
		t.Errorf("Expected stable ID %s, got %s", first.ID, msgs[0].ID)
	}
}

func TestAddMessagesAssignsMissingIDs(t *testing.T) {
	merged := AddMessages(nil, []interface{}{
		map[string]interface{}{"role": "user", "content": "no id"},
	})
	msgs := FromSlice(merged)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID == "" {
		t.Error("Expected an ID to be assigned")
	}
}

func TestAddMessagesRemove(t *testing.T) {
	a := User("keep")
	b := Assistant("drop")
	current := AddMessages(AddMessages(nil, a), b)

	merged := AddMessages(current, Remove(b.ID))
	msgs := FromSlice(merged)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message after removal, got %d", len(msgs))
	}
	if msgs[0].Content != "keep" {
		t.Errorf("Expected keep to survive, got %s", msgs[0].Content)
	}

	// Removing an unknown ID is a no-op.
	merged = AddMessages(merged, Remove("missing"))
	if len(FromSlice(merged)) != 1 {
		t.Error("Expected unknown removal to be ignored")
	}
}

func TestAddMessagesRemoveAll(t *testing.T) {
	current := AddMessages(AddMessages(nil, User("one")), Assistant("two"))

	merged := AddMessages(current, []interface{}{RemoveAll(), User("fresh").ToMap()})
	msgs := FromSlice(merged)
	if len(msgs) != 1 {
		t.Fatalf("Expected only the message after the marker, got %d", len(msgs))
	}
	if msgs[0].Content != "fresh" {
		t.Errorf("Expected fresh, got %s", msgs[0].Content)
	}
}

func TestReducerWiresIntoSchema(t *testing.T) {
	schema := state.NewSchema().
		AddChannel("messages").WithReducer(Reducer()).
		Build()

	st := schema.InitialState()
	if err := schema.ApplyUpdate(st, "messages", User("hi").ToMap()); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if err := schema.ApplyUpdate(st, "messages", Assistant("hello").ToMap()); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	msgs := FromSlice(st["messages"])
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages in state, got %d", len(msgs))
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("Expected assistant last, got %s", msgs[1].Role)
	}
}
