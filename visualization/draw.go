// Package visualization renders compiled graphs as Mermaid flowcharts,
// Graphviz DOT, or plain ASCII summaries.
package visualization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stategraph-go/stategraph/graph"
)

// Format selects the output syntax.
type Format string

const (
	// FormatASCII generates a plain text summary.
	FormatASCII Format = "ascii"
	// FormatMermaid generates Mermaid flowchart syntax.
	FormatMermaid Format = "mermaid"
	// FormatDOT generates Graphviz DOT syntax.
	FormatDOT Format = "dot"
)

// Options configures rendering.
type Options struct {
	// Format selects the output syntax.
	Format Format
	// Horizontal lays the graph out left to right instead of top down.
	Horizontal bool
	// ShowStartEnd includes the virtual start and end endpoints.
	ShowStartEnd bool
	// NodeStyles carries per-node style attributes in the target syntax.
	NodeStyles map[string]string
}

// DefaultOptions returns the options Draw uses when given nil.
func DefaultOptions() *Options {
	return &Options{
		Format:       FormatMermaid,
		Horizontal:   false,
		ShowStartEnd: true,
		NodeStyles:   make(map[string]string),
	}
}

// Draw renders cg in the requested format.
func Draw(cg *graph.CompiledGraph, opts *Options) (string, error) {
	if cg == nil {
		return "", fmt.Errorf("graph is nil")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	switch opts.Format {
	case FormatMermaid:
		return drawMermaid(cg, opts), nil
	case FormatDOT:
		return drawDOT(cg, opts), nil
	case FormatASCII:
		return drawASCII(cg), nil
	default:
		return "", fmt.Errorf("unsupported format %q", opts.Format)
	}
}

// Mermaid renders cg as a Mermaid flowchart.
func Mermaid(cg *graph.CompiledGraph) (string, error) {
	return Draw(cg, DefaultOptions())
}

// DOT renders cg in Graphviz DOT syntax.
func DOT(cg *graph.CompiledGraph) (string, error) {
	opts := DefaultOptions()
	opts.Format = FormatDOT
	return Draw(cg, opts)
}

// ASCII renders cg as a plain text summary.
func ASCII(cg *graph.CompiledGraph) (string, error) {
	opts := DefaultOptions()
	opts.Format = FormatASCII
	return Draw(cg, opts)
}

func drawMermaid(cg *graph.CompiledGraph, opts *Options) string {
	var sb strings.Builder
	if opts.Horizontal {
		sb.WriteString("graph LR\n")
	} else {
		sb.WriteString("graph TD\n")
	}

	if opts.ShowStartEnd {
		sb.WriteString(fmt.Sprintf("    %s([start])\n", nodeID(graph.Start)))
		sb.WriteString(fmt.Sprintf("    %s([end])\n", nodeID(graph.End)))
	}
	for _, name := range cg.NodeNames() {
		sb.WriteString(fmt.Sprintf("    %s[%q]\n", nodeID(name), name))
	}

	if opts.ShowStartEnd {
		for _, entry := range cg.EntryNodes() {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID(graph.Start), nodeID(entry)))
		}
	}
	for _, edge := range cg.Edges() {
		if edge.To == graph.End && !opts.ShowStartEnd {
			continue
		}
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID(edge.From), nodeID(edge.To)))
	}
	for _, ce := range cg.ConditionalEdges() {
		for _, branch := range conditionalBranches(cg, ce) {
			if branch.target == graph.End && !opts.ShowStartEnd {
				continue
			}
			sb.WriteString(fmt.Sprintf("    %s -.->|%q| %s\n",
				nodeID(ce.From), label(branch.label), nodeID(branch.target)))
		}
	}

	before, after := cg.InterruptNodes()
	for _, name := range before {
		sb.WriteString(fmt.Sprintf("    style %s stroke-dasharray: 5 5\n", nodeID(name)))
	}
	for _, name := range after {
		sb.WriteString(fmt.Sprintf("    style %s stroke-dasharray: 2 2\n", nodeID(name)))
	}
	for _, name := range cg.NodeNames() {
		if style, ok := opts.NodeStyles[name]; ok {
			sb.WriteString(fmt.Sprintf("    style %s %s\n", nodeID(name), style))
		}
	}
	return sb.String()
}

func drawDOT(cg *graph.CompiledGraph, opts *Options) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("digraph %q {\n", cg.Name()))
	if opts.Horizontal {
		sb.WriteString("    rankdir=LR;\n")
	}
	sb.WriteString("    node [shape=box, style=rounded];\n")

	if opts.ShowStartEnd {
		sb.WriteString(fmt.Sprintf("    %q [shape=circle, label=\"start\"];\n", graph.Start))
		sb.WriteString(fmt.Sprintf("    %q [shape=doublecircle, label=\"end\"];\n", graph.End))
	}

	before, after := cg.InterruptNodes()
	names := cg.NodeNames()
	sort.Strings(names)
	for _, name := range names {
		attrs := []string{fmt.Sprintf("label=%q", name)}
		if contains(before, name) || contains(after, name) {
			attrs = append(attrs, "style=\"rounded,dashed\"")
		}
		if style, ok := opts.NodeStyles[name]; ok {
			attrs = append(attrs, style)
		}
		sb.WriteString(fmt.Sprintf("    %q [%s];\n", name, strings.Join(attrs, ", ")))
	}

	if opts.ShowStartEnd {
		for _, entry := range cg.EntryNodes() {
			sb.WriteString(fmt.Sprintf("    %q -> %q;\n", graph.Start, entry))
		}
	}
	for _, edge := range cg.Edges() {
		if edge.To == graph.End && !opts.ShowStartEnd {
			continue
		}
		sb.WriteString(fmt.Sprintf("    %q -> %q;\n", edge.From, edge.To))
	}
	for _, ce := range cg.ConditionalEdges() {
		for _, branch := range conditionalBranches(cg, ce) {
			if branch.target == graph.End && !opts.ShowStartEnd {
				continue
			}
			sb.WriteString(fmt.Sprintf("    %q -> %q [label=%q, style=dashed];\n",
				ce.From, branch.target, label(branch.label)))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func drawASCII(cg *graph.CompiledGraph) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Graph: %s\n", cg.Name()))
	sb.WriteString(strings.Repeat("=", 40))
	sb.WriteString("\n")

	entries := cg.EntryNodes()
	sb.WriteString(fmt.Sprintf("Entry: %s\n\n", strings.Join(entries, ", ")))

	before, after := cg.InterruptNodes()
	sb.WriteString("Nodes:\n")
	for _, name := range cg.NodeNames() {
		marker := "  "
		if contains(entries, name) {
			marker = "* "
		}
		suffix := ""
		if contains(before, name) {
			suffix += " [interrupt before]"
		}
		if contains(after, name) {
			suffix += " [interrupt after]"
		}
		sb.WriteString(fmt.Sprintf("  %s%s%s\n", marker, name, suffix))
	}

	if edges := cg.Edges(); len(edges) > 0 {
		sb.WriteString("\nEdges:\n")
		for _, edge := range edges {
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", edge.From, edge.To))
		}
	}
	if ces := cg.ConditionalEdges(); len(ces) > 0 {
		sb.WriteString("\nConditional:\n")
		for _, ce := range ces {
			for _, branch := range conditionalBranches(cg, ce) {
				sb.WriteString(fmt.Sprintf("  %s --[%s]--> %s\n", ce.From, branch.label, branch.target))
			}
		}
	}
	return sb.String()
}

type branch struct {
	label  string
	target string
}

// conditionalBranches lists the drawable branches of a conditional
// edge. Mapped routers contribute one branch per label; direct-form
// routers may reach any node or End, so every one is listed under the
// router's name.
func conditionalBranches(cg *graph.CompiledGraph, ce graph.ConditionalEdge) []branch {
	if len(ce.Targets) > 0 {
		labels := make([]string, 0, len(ce.Targets))
		for l := range ce.Targets {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		out := make([]branch, 0, len(labels))
		for _, l := range labels {
			out = append(out, branch{label: l, target: ce.Targets[l]})
		}
		return out
	}

	name := "router"
	if ce.Router != nil {
		name = ce.Router.Name()
	}
	nodes := cg.NodeNames()
	out := make([]branch, 0, len(nodes)+1)
	for _, node := range nodes {
		out = append(out, branch{label: name, target: node})
	}
	return append(out, branch{label: name, target: graph.End})
}

// nodeID makes a name safe as a Mermaid identifier.
func nodeID(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	id := sb.String()
	if id == "" {
		return "_"
	}
	if id[0] >= '0' && id[0] <= '9' {
		return "_" + id
	}
	return id
}

// label truncates long branch labels.
func label(s string) string {
	if len(s) > 50 {
		return s[:47] + "..."
	}
	return s
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
