// Package prebuilt assembles common graph patterns. CreateAgent builds
// the tool-calling loop: a model node proposes the next message, tool
// calls route to a tool node, and results feed back to the model until
// it answers without calls.
package prebuilt

import (
	"context"
	"fmt"

	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/message"
	"github.com/stategraph-go/stategraph/state"
)

// Node names inside the agent graph.
const (
	ModelNodeName = "agent"
	ToolsNodeName = "tools"
)

// iterationsKey counts model turns in agent state.
const iterationsKey = "iterations"

// ChatModel produces the assistant's next message from the conversation
// so far. The returned message may request tool calls.
type ChatModel interface {
	Generate(ctx context.Context, messages []message.Message) (message.Message, error)
}

// Tool is a capability the model can invoke by name.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, args map[string]interface{}) (string, error)
}

// FuncTool adapts a function to the Tool interface.
type FuncTool struct {
	name        string
	description string
	fn          func(ctx context.Context, args map[string]interface{}) (string, error)
}

// NewTool wraps fn as a named tool.
func NewTool(name, description string, fn func(ctx context.Context, args map[string]interface{}) (string, error)) *FuncTool {
	return &FuncTool{name: name, description: description, fn: fn}
}

// Name implements Tool.
func (t *FuncTool) Name() string { return t.name }

// Description implements Tool.
func (t *FuncTool) Description() string { return t.description }

// Call implements Tool.
func (t *FuncTool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	return t.fn(ctx, args)
}

type agentOptions struct {
	name          string
	systemPrompt  string
	messagesKey   string
	maxIterations int
	compileOpts   []graph.CompileOption
}

// AgentOption configures CreateAgent.
type AgentOption func(*agentOptions)

// WithSystemPrompt prepends a system message to every model call. The
// prompt stays out of graph state.
func WithSystemPrompt(prompt string) AgentOption {
	return func(o *agentOptions) { o.systemPrompt = prompt }
}

// WithMaxIterations caps the number of model turns. Once reached, the
// run ends even if the last message still requests tools.
func WithMaxIterations(n int) AgentOption {
	return func(o *agentOptions) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithMessagesKey changes the state channel holding the conversation.
func WithMessagesKey(key string) AgentOption {
	return func(o *agentOptions) {
		if key != "" {
			o.messagesKey = key
		}
	}
}

// WithAgentName names the compiled graph.
func WithAgentName(name string) AgentOption {
	return func(o *agentOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithCompileOptions forwards options, such as a checkpointer or
// tracer, to the compile step.
func WithCompileOptions(opts ...graph.CompileOption) AgentOption {
	return func(o *agentOptions) { o.compileOpts = append(o.compileOpts, opts...) }
}

// CreateAgent compiles a tool-calling agent graph around model. Invoke
// it with a messages update, for example
// map[string]interface{}{"messages": message.User("hi")}; the final
// state carries the full conversation.
func CreateAgent(model ChatModel, tools []Tool, opts ...AgentOption) (*graph.CompiledGraph, error) {
	if model == nil {
		return nil, &errs.InvalidGraphError{Message: "agent model is nil"}
	}
	o := agentOptions{name: "agent", messagesKey: "messages", maxIterations: 10}
	for _, opt := range opts {
		opt(&o)
	}

	for _, tool := range tools {
		if tool == nil {
			return nil, &errs.InvalidGraphError{Message: "agent tool is nil"}
		}
	}

	schema := state.NewSchema().
		AddChannel(o.messagesKey).WithReducer(message.Reducer()).
		AddCounterChannel(iterationsKey).
		Build()

	g := graph.NewStateGraph(schema).
		AddNode(ModelNodeName, modelNode(model, o)).
		AddNodeInstance(NewToolNode(ToolsNodeName, tools...).WithMessagesKey(o.messagesKey)).
		AddEdge(graph.Start, ModelNodeName).
		AddConditionalEdge(ModelNodeName, shouldContinue(o)).
		AddEdge(ToolsNodeName, ModelNodeName)

	compile := append([]graph.CompileOption{graph.WithName(o.name)}, o.compileOpts...)
	return g.Compile(compile...)
}

// modelNode calls the model with the conversation and appends its reply.
func modelNode(model ChatModel, o agentOptions) graph.NodeFunc {
	return func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
		msgs := message.FromSlice(nc.State[o.messagesKey])
		if o.systemPrompt != "" {
			msgs = append([]message.Message{message.System(o.systemPrompt)}, msgs...)
		}
		reply, err := model.Generate(ctx, msgs)
		if err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
		if reply.Role == "" {
			reply.Role = message.RoleAssistant
		}
		return graph.NewNodeOutput().
			WithUpdate(o.messagesKey, reply).
			WithUpdate(iterationsKey, 1), nil
	}
}

// shouldContinue routes to the tool node while the last message
// requests tools and the turn cap is not reached.
func shouldContinue(o agentOptions) graph.Router {
	return graph.NamedRouter("should_continue", func(st state.State) []string {
		if o.maxIterations > 0 && st.GetInt(iterationsKey) >= o.maxIterations {
			return []string{graph.End}
		}
		last, ok := message.LastMessage(st[o.messagesKey])
		if !ok || !last.HasToolCalls() {
			return []string{graph.End}
		}
		return []string{ToolsNodeName}
	})
}

// ToolNode executes the tool calls of the last assistant message and
// appends one tool message per call. Failures and unknown tool names
// become tool messages instead of failing the node, so the model sees
// them and can recover.
type ToolNode struct {
	name        string
	messagesKey string
	tools       map[string]Tool
}

// NewToolNode builds a tool node over the given tools.
func NewToolNode(name string, tools ...Tool) *ToolNode {
	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		if tool != nil {
			byName[tool.Name()] = tool
		}
	}
	return &ToolNode{name: name, messagesKey: "messages", tools: byName}
}

// WithMessagesKey changes the state channel the node reads and writes.
func (n *ToolNode) WithMessagesKey(key string) *ToolNode {
	if key != "" {
		n.messagesKey = key
	}
	return n
}

// Name implements graph.Node.
func (n *ToolNode) Name() string { return n.name }

// Run implements graph.Node.
func (n *ToolNode) Run(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
	last, ok := message.LastMessage(nc.State[n.messagesKey])
	if !ok || !last.HasToolCalls() {
		return graph.NewNodeOutput(), nil
	}

	results := make([]interface{}, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		tool, ok := n.tools[call.Name]
		if !ok {
			results = append(results, message.Tool(fmt.Sprintf("tool %q not found", call.Name), call.ID))
			continue
		}
		output, err := tool.Call(ctx, call.Args)
		if err != nil {
			results = append(results, message.Tool(fmt.Sprintf("tool %q failed: %v", call.Name, err), call.ID))
			continue
		}
		results = append(results, message.Tool(output, call.ID))
	}
	return graph.NewNodeOutput().WithUpdate(n.messagesKey, results), nil
}
