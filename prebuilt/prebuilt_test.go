package prebuilt

import (
	"context"
	"fmt"
	"strings"
	"testing"

	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/message"
	"github.com/stategraph-go/stategraph/state"
)

// scriptedModel replays canned replies and records every conversation
// it was shown.
type scriptedModel struct {
	replies []message.Message
	calls   int
	seen    [][]message.Message
}

func (m *scriptedModel) Generate(ctx context.Context, msgs []message.Message) (message.Message, error) {
	m.seen = append(m.seen, msgs)
	if m.calls >= len(m.replies) {
		return message.Message{}, fmt.Errorf("no scripted reply %d", m.calls)
	}
	reply := m.replies[m.calls]
	m.calls++
	return reply, nil
}

func rolesOf(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestCreateAgentAnswersDirectly(t *testing.T) {
	model := &scriptedModel{replies: []message.Message{message.Assistant("42")}}
	agent, err := CreateAgent(model, nil)
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	final, err := agent.Invoke(context.Background(), map[string]interface{}{
		"messages": message.User("What is the answer?"),
	}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	msgs := message.FromSlice(final["messages"])
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Role != message.RoleAssistant || msgs[1].Content != "42" {
		t.Errorf("Expected assistant answer 42, got %+v", msgs[1])
	}
	if model.calls != 1 {
		t.Errorf("Expected a single model turn, got %d", model.calls)
	}
}

func TestCreateAgentRunsToolLoop(t *testing.T) {
	model := &scriptedModel{replies: []message.Message{
		message.AssistantWithToolCalls("", message.ToolCall{
			ID:   "call-1",
			Name: "search",
			Args: map[string]interface{}{"query": "weather"},
		}),
		message.Assistant("It is sunny"),
	}}

	var gotArgs map[string]interface{}
	search := NewTool("search", "look things up", func(ctx context.Context, args map[string]interface{}) (string, error) {
		gotArgs = args
		return "sunny in Oslo", nil
	})

	agent, err := CreateAgent(model, []Tool{search})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	final, err := agent.Invoke(context.Background(), map[string]interface{}{
		"messages": message.User("How is the weather?"),
	}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	msgs := message.FromSlice(final["messages"])
	want := []string{message.RoleUser, message.RoleAssistant, message.RoleTool, message.RoleAssistant}
	got := rolesOf(msgs)
	if len(got) != len(want) {
		t.Fatalf("Expected roles %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected roles %v, got %v", want, got)
		}
	}
	if msgs[2].ToolCallID != "call-1" || msgs[2].Content != "sunny in Oslo" {
		t.Errorf("Expected tool result answering call-1, got %+v", msgs[2])
	}
	if gotArgs["query"] != "weather" {
		t.Errorf("Expected the tool to receive the call args, got %v", gotArgs)
	}
	if model.calls != 2 {
		t.Errorf("Expected 2 model turns, got %d", model.calls)
	}
}

func TestCreateAgentToolErrorFeedsBack(t *testing.T) {
	model := &scriptedModel{replies: []message.Message{
		message.AssistantWithToolCalls("", message.ToolCall{ID: "call-1", Name: "flaky"}),
		message.Assistant("giving up"),
	}}
	flaky := NewTool("flaky", "always fails", func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", fmt.Errorf("upstream timeout")
	})

	agent, err := CreateAgent(model, []Tool{flaky})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	final, err := agent.Invoke(context.Background(), map[string]interface{}{
		"messages": message.User("try the tool"),
	}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	msgs := message.FromSlice(final["messages"])
	if len(msgs) != 4 || msgs[2].Role != message.RoleTool {
		t.Fatalf("Expected the failure to become a tool message, got %v", rolesOf(msgs))
	}
	if msgs[2].ToolCallID != "call-1" {
		t.Errorf("Expected the failure to answer call-1, got %+v", msgs[2])
	}
	if want := `tool "flaky" failed`; !strings.Contains(msgs[2].Content, want) {
		t.Errorf("Expected content mentioning %q, got %q", want, msgs[2].Content)
	}

	// Second model turn saw the tool failure.
	lastSeen := model.seen[1]
	if lastSeen[len(lastSeen)-1].Role != message.RoleTool {
		t.Errorf("Expected the model to see the tool message, got %v", rolesOf(lastSeen))
	}
}

func TestCreateAgentUnknownToolReported(t *testing.T) {
	model := &scriptedModel{replies: []message.Message{
		message.AssistantWithToolCalls("", message.ToolCall{ID: "call-1", Name: "missing"}),
		message.Assistant("never mind"),
	}}

	agent, err := CreateAgent(model, nil)
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	final, err := agent.Invoke(context.Background(), map[string]interface{}{
		"messages": message.User("use a tool"),
	}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	msgs := message.FromSlice(final["messages"])
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %v", rolesOf(msgs))
	}
	if !strings.Contains(msgs[2].Content, "not found") {
		t.Errorf("Expected a not-found tool message, got %q", msgs[2].Content)
	}
}

func TestCreateAgentMaxIterationsStopsLoop(t *testing.T) {
	model := &loopingModel{}
	noop := NewTool("noop", "does nothing", func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "ok", nil
	})

	agent, err := CreateAgent(model, []Tool{noop}, WithMaxIterations(2))
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	final, err := agent.Invoke(context.Background(), map[string]interface{}{
		"messages": message.User("loop forever"),
	}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if model.calls != 2 {
		t.Errorf("Expected the cap to stop after 2 model turns, got %d", model.calls)
	}
	last, _ := message.LastMessage(final["messages"])
	if !last.HasToolCalls() {
		t.Error("Expected the run to end with the unanswered tool request")
	}
}

func TestCreateAgentSystemPromptStaysOutOfState(t *testing.T) {
	model := &scriptedModel{replies: []message.Message{message.Assistant("done")}}
	agent, err := CreateAgent(model, nil, WithSystemPrompt("be brief"))
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	final, err := agent.Invoke(context.Background(), map[string]interface{}{
		"messages": message.User("hello"),
	}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	seen := model.seen[0]
	if seen[0].Role != message.RoleSystem || seen[0].Content != "be brief" {
		t.Errorf("Expected the model to see the system prompt first, got %v", rolesOf(seen))
	}
	for _, m := range message.FromSlice(final["messages"]) {
		if m.Role == message.RoleSystem {
			t.Errorf("Expected no system message in state, got %v", m)
		}
	}
}

func TestCreateAgentCustomMessagesKey(t *testing.T) {
	model := &scriptedModel{replies: []message.Message{message.Assistant("hi")}}
	agent, err := CreateAgent(model, nil, WithMessagesKey("chat"))
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	final, err := agent.Invoke(context.Background(), map[string]interface{}{
		"chat": message.User("hello"),
	}, nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if msgs := message.FromSlice(final["chat"]); len(msgs) != 2 {
		t.Errorf("Expected the conversation under chat, got %v", rolesOf(msgs))
	}
}

func TestCreateAgentModelFailure(t *testing.T) {
	model := &scriptedModel{}
	agent, err := CreateAgent(model, nil)
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	_, err = agent.Invoke(context.Background(), map[string]interface{}{
		"messages": message.User("hello"),
	}, nil)
	if !errs.IsNodeExecutionFailed(err) {
		t.Fatalf("Expected NodeExecutionFailedError, got %v", err)
	}
}

func TestCreateAgentNilModel(t *testing.T) {
	if _, err := CreateAgent(nil, nil); !errs.IsInvalidGraph(err) {
		t.Errorf("Expected InvalidGraphError, got %v", err)
	}
}

func TestToolNodeRunsStandalone(t *testing.T) {
	echo := NewTool("echo", "repeats input", func(ctx context.Context, args map[string]interface{}) (string, error) {
		return fmt.Sprintf("%v", args["text"]), nil
	})
	node := NewToolNode("tools", echo)

	st := state.New()
	st["messages"] = []interface{}{
		message.AssistantWithToolCalls("", message.ToolCall{
			ID:   "call-9",
			Name: "echo",
			Args: map[string]interface{}{"text": "ping"},
		}).ToMap(),
	}

	out, err := node.Run(context.Background(), graph.NewNodeContext(st, nil, 0))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	results, ok := out.Updates["messages"].([]interface{})
	if !ok || len(results) != 1 {
		t.Fatalf("Expected one tool message update, got %+v", out.Updates)
	}
	msg, ok := message.FromValue(results[0])
	if !ok || msg.Content != "ping" || msg.ToolCallID != "call-9" {
		t.Errorf("Expected echoed tool message for call-9, got %+v", msg)
	}
}

func TestToolNodeWithoutCallsIsNoop(t *testing.T) {
	node := NewToolNode("tools")
	st := state.New()
	st["messages"] = []interface{}{message.User("plain").ToMap()}

	out, err := node.Run(context.Background(), graph.NewNodeContext(st, nil, 0))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Updates) != 0 {
		t.Errorf("Expected no updates, got %+v", out.Updates)
	}
}

// loopingModel always requests another tool call.
type loopingModel struct {
	calls int
}

func (m *loopingModel) Generate(ctx context.Context, msgs []message.Message) (message.Message, error) {
	m.calls++
	return message.AssistantWithToolCalls("again", message.ToolCall{
		ID:   fmt.Sprintf("call-%d", m.calls),
		Name: "noop",
	}), nil
}
