package declarative

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/message"
	"github.com/stategraph-go/stategraph/state"
)

// LoadFile reads a graph definition from path. The format is chosen by
// file extension: .yaml and .yml parse as YAML, .json as JSON.
func LoadFile(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph definition: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported graph definition format %q", filepath.Ext(path))
	}
}

// ParseYAML decodes a YAML graph definition.
func ParseYAML(data []byte) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errs.SerializationError{Err: fmt.Errorf("parse graph definition: %w", err)}
	}
	return &def, nil
}

// ParseJSON decodes a JSON graph definition.
func ParseJSON(data []byte) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &errs.SerializationError{Err: fmt.Errorf("parse graph definition: %w", err)}
	}
	return &def, nil
}

// Build turns a definition into a graph builder, resolving every node,
// router, and reducer reference through reg. The result is not yet
// compiled, so callers can still attach compile options of their own.
func Build(def *GraphDefinition, reg *Registry) (*graph.StateGraph, error) {
	if def == nil {
		return nil, &errs.InvalidGraphError{Message: "graph definition is nil"}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	schema, err := buildSchema(def.Channels, reg)
	if err != nil {
		return nil, err
	}

	g := graph.NewStateGraph(schema)
	for _, nd := range def.Nodes {
		uses := nd.Uses
		if uses == "" {
			uses = nd.Name
		}
		fn, ok := reg.node(uses)
		if !ok {
			return nil, &errs.InvalidGraphError{
				Message: fmt.Sprintf("node %s: no implementation registered for %q", nd.Name, uses),
			}
		}
		g.AddNode(nd.Name, fn)
	}

	for _, ed := range def.Edges {
		if ed.Router == nil {
			g.AddEdge(ed.From, ed.To)
			continue
		}
		router, err := buildRouter(ed.From, ed.Router, reg)
		if err != nil {
			return nil, err
		}
		if ed.Targets != nil {
			g.AddConditionalEdges(ed.From, router, ed.Targets)
		} else {
			g.AddConditionalEdge(ed.From, router)
		}
	}

	for _, name := range def.Entry {
		g.SetEntryPoint(name)
	}
	for _, name := range def.Finish {
		g.SetFinishPoint(name)
	}
	return g, nil
}

// Compile builds and compiles a definition in one step. Options derived
// from the definition are applied first, so explicit opts win.
func Compile(def *GraphDefinition, reg *Registry, opts ...graph.CompileOption) (*graph.CompiledGraph, error) {
	g, err := Build(def, reg)
	if err != nil {
		return nil, err
	}
	combined := def.compileOptions()
	combined = append(combined, opts...)
	return g.Compile(combined...)
}

func (d *GraphDefinition) compileOptions() []graph.CompileOption {
	var opts []graph.CompileOption
	if d.Name != "" {
		opts = append(opts, graph.WithName(d.Name))
	}
	if d.RecursionLimit > 0 {
		opts = append(opts, graph.WithRecursionLimit(d.RecursionLimit))
	}
	if len(d.InterruptBefore) > 0 {
		opts = append(opts, graph.WithInterruptBefore(d.InterruptBefore...))
	}
	if len(d.InterruptAfter) > 0 {
		opts = append(opts, graph.WithInterruptAfter(d.InterruptAfter...))
	}
	return opts
}

func buildSchema(channels []ChannelDefinition, reg *Registry) (*state.Schema, error) {
	b := state.NewSchema()
	for _, cd := range channels {
		b.AddChannel(cd.Name)
		switch cd.Reducer {
		case "", "overwrite":
		case "append":
			b.WithReducer(state.Append())
		case "sum":
			b.WithReducer(state.Sum())
		case "messages":
			b.WithReducer(message.Reducer())
		default:
			reducer, ok := reg.reducer(cd.Reducer)
			if !ok {
				return nil, &errs.InvalidGraphError{
					Message: fmt.Sprintf("channel %s: unknown reducer %q", cd.Name, cd.Reducer),
				}
			}
			b.WithReducer(reducer)
		}
		if cd.Default != nil {
			b.WithDefault(cd.Default)
		}
	}
	return b.Build(), nil
}

func buildRouter(from string, rd *RouterDefinition, reg *Registry) (graph.Router, error) {
	switch rd.Kind {
	case "by_field":
		if rd.Key == "" {
			return nil, routerErr(from, "by_field needs a key")
		}
		return graph.ByField(rd.Key), nil
	case "by_bool":
		if rd.Key == "" || rd.TrueTarget == "" || rd.FalseTarget == "" {
			return nil, routerErr(from, "by_bool needs key, true_target, and false_target")
		}
		return graph.ByBool(rd.Key, rd.TrueTarget, rd.FalseTarget), nil
	case "has_tool_calls":
		if rd.Key == "" || rd.WithTools == "" || rd.WithoutTools == "" {
			return nil, routerErr(from, "has_tool_calls needs key, with_tools, and without_tools")
		}
		return graph.HasToolCalls(rd.Key, rd.WithTools, rd.WithoutTools), nil
	case "max_iterations":
		if rd.Key == "" || rd.Max <= 0 || rd.Continue == "" || rd.Stop == "" {
			return nil, routerErr(from, "max_iterations needs key, max, continue, and stop")
		}
		return graph.MaxIterations(rd.Key, rd.Max, rd.Continue, rd.Stop), nil
	case "on_error":
		if rd.Key == "" || rd.Handle == "" || rd.Continue == "" {
			return nil, routerErr(from, "on_error needs key, handle, and continue")
		}
		return graph.OnError(rd.Key, rd.Handle, rd.Continue), nil
	default:
		if router, ok := reg.router(rd.Kind); ok {
			return router, nil
		}
		return nil, routerErr(from, fmt.Sprintf("unknown router kind %q", rd.Kind))
	}
}

func routerErr(from, message string) error {
	return &errs.InvalidGraphError{Message: fmt.Sprintf("edge from %s: %s", from, message)}
}
