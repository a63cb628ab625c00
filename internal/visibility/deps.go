package visibility

import (
	"fmt"
	"strings"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/pkg/schema"
)

// Graph is the dependency graph between visibility conditions. Nodes are
// section and question IDs; an edge a -> b means b's visibility reads a.
type Graph struct {
	Nodes   []string            // declaration order
	Reverse map[string][]string // node -> dependents
	Edges   map[string][]string // node -> dependencies
}

// BuildGraph derives the graph from every visibility condition of the
// version. A section's questions depend on the section itself. Conditions
// that fail to compile contribute no edges.
func BuildGraph(eval *expressions.Evaluator, version *schema.FormVersion) *Graph {
	g := &Graph{Reverse: make(map[string][]string), Edges: make(map[string][]string)}
	byVar := make(map[string]string)
	for _, sec := range version.Sections {
		g.Nodes = append(g.Nodes, sec.ID)
		for _, q := range sec.Questions {
			g.Nodes = append(g.Nodes, q.ID)
			byVar[expressions.VariableName(q.ID)] = q.ID
		}
	}

	addDeps := func(node, condition string) {
		if condition == "" {
			return
		}
		refs, err := eval.References(condition)
		if err != nil {
			return
		}
		for _, ref := range refs {
			if dep, ok := byVar[ref]; ok {
				g.addEdge(dep, node)
			}
		}
	}

	for _, sec := range version.Sections {
		addDeps(sec.ID, sec.VisibilityCondition)
		for _, q := range sec.Questions {
			g.addEdge(sec.ID, q.ID)
			addDeps(q.ID, q.VisibilityCondition)
		}
	}
	return g
}

func (g *Graph) addEdge(from, to string) {
	for _, existing := range g.Edges[to] {
		if existing == from {
			return
		}
	}
	g.Edges[to] = append(g.Edges[to], from)
	g.Reverse[from] = append(g.Reverse[from], to)
}

// Cyclic returns the nodes that sit on or behind a dependency cycle, in
// declaration order, using Kahn's algorithm. Empty means acyclic.
func (g *Graph) Cyclic() []string {
	inDegree := make(map[string]int, len(g.Nodes))
	queue := make([]string, 0, len(g.Nodes))
	for _, id := range g.Nodes {
		inDegree[id] = len(g.Edges[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	done := make(map[string]bool, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		done[node] = true
		for _, dep := range g.Reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	var cyclic []string
	for _, id := range g.Nodes {
		if !done[id] {
			cyclic = append(cyclic, id)
		}
	}
	return cyclic
}

// CycleWarnings reports visibility cycles as warnings. Resolution still
// runs a single pass in declaration order.
func CycleWarnings(eval *expressions.Evaluator, version *schema.FormVersion) []schema.ValidationIssue {
	cyclic := BuildGraph(eval, version).Cyclic()
	if len(cyclic) == 0 {
		return nil
	}
	report := &schema.ValidationReport{}
	report.AddWarning("sections", schema.ErrCodeCycleDetected,
		fmt.Sprintf("visibility conditions form a cycle through %s; evaluated once in declaration order",
			strings.Join(cyclic, ", ")))
	return report.Warnings
}
