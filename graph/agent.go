package graph

import (
	"context"
	"fmt"

	"github.com/stategraph-go/stategraph/message"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/stream"
)

// AgentInput is what an agent receives when its node runs.
type AgentInput struct {
	ThreadID string
	// Text is the prompt produced by the node's input mapper.
	Text string
	// State is the node's state snapshot, for agents that need more than
	// the mapped text.
	State state.State
}

// AgentEvent is one chunk of agent output.
type AgentEvent struct {
	Text    string
	IsFinal bool
	Data    map[string]interface{}
}

// Agent is an external collaborator wrapped by an AgentNode. Run returns
// a channel of events that the agent closes when it is finished.
type Agent interface {
	Name() string
	Run(ctx context.Context, input AgentInput) (<-chan AgentEvent, error)
}

// AgentInputMapper derives the agent prompt from state.
type AgentInputMapper func(st state.State) string

// AgentOutputMapper converts collected agent events into state updates.
type AgentOutputMapper func(events []AgentEvent) map[string]interface{}

// AgentNode runs an Agent as a graph node. The input mapper chooses what
// the agent sees; the output mapper folds its events back into state.
type AgentNode struct {
	name         string
	agent        Agent
	inputMapper  AgentInputMapper
	outputMapper AgentOutputMapper
}

// NewAgentNode wraps agent, taking the node name from the agent.
func NewAgentNode(agent Agent) *AgentNode {
	return &AgentNode{
		name:         agent.Name(),
		agent:        agent,
		inputMapper:  DefaultAgentInputMapper,
		outputMapper: DefaultAgentOutputMapper,
	}
}

// WithInputMapper overrides how state becomes the agent prompt.
func (n *AgentNode) WithInputMapper(fn AgentInputMapper) *AgentNode {
	n.inputMapper = fn
	return n
}

// WithOutputMapper overrides how agent events become state updates.
func (n *AgentNode) WithOutputMapper(fn AgentOutputMapper) *AgentNode {
	n.outputMapper = fn
	return n
}

// Name implements Node.
func (n *AgentNode) Name() string { return n.name }

// Run implements Node.
func (n *AgentNode) Run(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	input := AgentInput{Text: n.inputMapper(nc.State), State: nc.State}
	if nc.Config != nil {
		input.ThreadID = nc.Config.ThreadID
	}

	ch, err := n.agent.Run(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", n.name, err)
	}

	var events []AgentEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				output := NewNodeOutput().WithUpdates(n.outputMapper(events))
				for _, ev := range events {
					if ev.Text != "" {
						output.WithEvent(stream.NewMessageEvent(n.name, ev.Text, ev.IsFinal))
					}
				}
				return output, nil
			}
			events = append(events, ev)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// DefaultAgentInputMapper reads the last message's content, falling back
// to the input channel.
func DefaultAgentInputMapper(st state.State) string {
	msgs := st.GetSlice("messages")
	if len(msgs) > 0 {
		if last, ok := msgs[len(msgs)-1].(map[string]interface{}); ok {
			if content, ok := last["content"].(string); ok {
				return content
			}
		}
	}
	return st.GetString("input")
}

// DefaultAgentOutputMapper appends one assistant message per text event
// to the messages channel.
func DefaultAgentOutputMapper(events []AgentEvent) map[string]interface{} {
	var msgs []interface{}
	for _, ev := range events {
		if ev.Text != "" {
			msgs = append(msgs, message.Assistant(ev.Text).ToMap())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return map[string]interface{}{"messages": msgs}
}
