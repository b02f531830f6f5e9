package graph

// Start and End are the virtual endpoints of every graph. Edges from
// Start choose the entry nodes; edges to End finish a branch.
const (
	Start = "__start__"
	End   = "__end__"
)

// Edge is an unconditional transition between two nodes.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from a node through a Router. When Targets is
// set, router results are labels looked up in the map; when nil, the
// router returns node names directly.
type ConditionalEdge struct {
	From    string
	Router  Router
	Targets map[string]string
}
