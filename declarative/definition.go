// Package declarative builds executable state graphs from YAML or JSON
// definitions. A definition declares channels, nodes, and edges; node,
// router, and reducer implementations stay in Go and are resolved by
// name through a Registry when the definition is built.
package declarative

import (
	"fmt"
	"strings"

	errs "github.com/stategraph-go/stategraph/errors"
)

// GraphDefinition is the serializable form of a state graph.
type GraphDefinition struct {
	Name            string              `yaml:"name" json:"name"`
	Channels        []ChannelDefinition `yaml:"channels,omitempty" json:"channels,omitempty"`
	Nodes           []NodeDefinition    `yaml:"nodes" json:"nodes"`
	Edges           []EdgeDefinition    `yaml:"edges,omitempty" json:"edges,omitempty"`
	Entry           []string            `yaml:"entry,omitempty" json:"entry,omitempty"`
	Finish          []string            `yaml:"finish,omitempty" json:"finish,omitempty"`
	InterruptBefore []string            `yaml:"interrupt_before,omitempty" json:"interrupt_before,omitempty"`
	InterruptAfter  []string            `yaml:"interrupt_after,omitempty" json:"interrupt_after,omitempty"`
	RecursionLimit  int                 `yaml:"recursion_limit,omitempty" json:"recursion_limit,omitempty"`
}

// ChannelDefinition declares one state channel. Reducer is one of the
// built-in kinds (overwrite, append, sum, messages) or the name of a
// reducer registered on the Registry; empty means overwrite.
type ChannelDefinition struct {
	Name    string      `yaml:"name" json:"name"`
	Reducer string      `yaml:"reducer,omitempty" json:"reducer,omitempty"`
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`
}

// NodeDefinition declares one node. Uses names the registered
// implementation; when empty, the node's own name is looked up.
type NodeDefinition struct {
	Name string `yaml:"name" json:"name"`
	Uses string `yaml:"uses,omitempty" json:"uses,omitempty"`
}

// EdgeDefinition declares one transition. A direct edge sets To; a
// conditional edge sets Router, with an optional Targets map from
// router labels to node names. The __start__ and __end__ sentinels are
// valid endpoints.
type EdgeDefinition struct {
	From    string            `yaml:"from" json:"from"`
	To      string            `yaml:"to,omitempty" json:"to,omitempty"`
	Router  *RouterDefinition `yaml:"router,omitempty" json:"router,omitempty"`
	Targets map[string]string `yaml:"targets,omitempty" json:"targets,omitempty"`
}

// RouterDefinition selects a routing policy for a conditional edge.
// Kind is a built-in router name (by_field, by_bool, has_tool_calls,
// max_iterations, on_error) or the name of a router registered on the
// Registry; the remaining fields parameterize the built-ins.
type RouterDefinition struct {
	Kind         string `yaml:"kind" json:"kind"`
	Key          string `yaml:"key,omitempty" json:"key,omitempty"`
	TrueTarget   string `yaml:"true_target,omitempty" json:"true_target,omitempty"`
	FalseTarget  string `yaml:"false_target,omitempty" json:"false_target,omitempty"`
	WithTools    string `yaml:"with_tools,omitempty" json:"with_tools,omitempty"`
	WithoutTools string `yaml:"without_tools,omitempty" json:"without_tools,omitempty"`
	Max          int    `yaml:"max,omitempty" json:"max,omitempty"`
	Continue     string `yaml:"continue,omitempty" json:"continue,omitempty"`
	Stop         string `yaml:"stop,omitempty" json:"stop,omitempty"`
	Handle       string `yaml:"handle,omitempty" json:"handle,omitempty"`
}

// Validate checks the definition's shape. Graph-level problems such as
// edges to unknown nodes surface later, from Compile.
func (d *GraphDefinition) Validate() error {
	var problems []string
	if len(d.Nodes) == 0 {
		problems = append(problems, "definition has no nodes")
	}
	for i, cd := range d.Channels {
		if cd.Name == "" {
			problems = append(problems, fmt.Sprintf("channel %d has no name", i))
		}
	}
	for i, nd := range d.Nodes {
		if nd.Name == "" {
			problems = append(problems, fmt.Sprintf("node %d has no name", i))
		}
	}
	for i, ed := range d.Edges {
		switch {
		case ed.From == "":
			problems = append(problems, fmt.Sprintf("edge %d has no source", i))
		case ed.To == "" && ed.Router == nil:
			problems = append(problems, fmt.Sprintf("edge from %s has neither a target nor a router", ed.From))
		case ed.To != "" && ed.Router != nil:
			problems = append(problems, fmt.Sprintf("edge from %s has both a target and a router", ed.From))
		case ed.Router == nil && len(ed.Targets) > 0:
			problems = append(problems, fmt.Sprintf("edge from %s maps targets without a router", ed.From))
		}
	}
	if len(problems) > 0 {
		return &errs.InvalidGraphError{Message: strings.Join(problems, "; ")}
	}
	return nil
}
