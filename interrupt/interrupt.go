// Package interrupt defines the halt points used for human-in-the-loop
// execution control. An execution halts when it reaches a node registered
// for interruption, or when a node raises a dynamic interrupt itself, and
// can later be resumed from the checkpoint persisted at the halt point.
package interrupt

import "fmt"

// Kind identifies when an interrupt fires relative to node execution.
type Kind string

const (
	// KindBefore halts before the named node executes. Nothing from the
	// pending superstep runs.
	KindBefore Kind = "before"
	// KindAfter halts after the named node executed and its updates were
	// merged into state.
	KindAfter Kind = "after"
	// KindDynamic is raised imperatively by a node mid-execution. The
	// superstep that raised it is rolled back and re-runs on resume.
	KindDynamic Kind = "dynamic"
)

// Interrupt describes where and why an execution halted.
type Interrupt struct {
	// Kind is the interrupt variant.
	Kind Kind `json:"kind"`
	// Node is the node the interrupt is attached to.
	Node string `json:"node,omitempty"`
	// Message is a human-readable reason, typically shown to the operator
	// deciding whether to approve the pending action.
	Message string `json:"message,omitempty"`
	// Data carries values the interrupting node wants to surface, for
	// example the tool call awaiting approval.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Before creates a declarative interrupt that fires before node runs.
func Before(node string) *Interrupt {
	return &Interrupt{Kind: KindBefore, Node: node, Message: fmt.Sprintf("interrupt before node %q", node)}
}

// After creates a declarative interrupt that fires after node ran.
func After(node string) *Interrupt {
	return &Interrupt{Kind: KindAfter, Node: node, Message: fmt.Sprintf("interrupt after node %q", node)}
}

// Dynamic creates an interrupt raised from within a node.
func Dynamic(message string) *Interrupt {
	return &Interrupt{Kind: KindDynamic, Message: message}
}

// DynamicWithData creates a dynamic interrupt carrying payload data.
func DynamicWithData(message string, data map[string]interface{}) *Interrupt {
	return &Interrupt{Kind: KindDynamic, Message: message, Data: data}
}

// String renders the interrupt for logs and stream events.
func (i *Interrupt) String() string {
	if i == nil {
		return ""
	}
	switch i.Kind {
	case KindBefore, KindAfter:
		return fmt.Sprintf("%s:%s", i.Kind, i.Node)
	default:
		if i.Message != "" {
			return i.Message
		}
		return string(i.Kind)
	}
}

// IsDynamic reports whether the interrupt was raised by a node rather than
// declared at compile time.
func (i *Interrupt) IsDynamic() bool {
	return i != nil && i.Kind == KindDynamic
}

// ResumeKey is the reserved state key a resume value is injected under when
// an execution is resumed with a Command carrying one. Nodes read it back
// through their context to decide how to proceed past the halt point.
const ResumeKey = "__resume__"
