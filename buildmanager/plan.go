// Package buildmanager schedules a graph of node.Node values to
// completion: it topologically orders them, detects unbuildable cycles,
// and runs a bounded pool of workers that walk the graph respecting each
// Node's dependencies.
package buildmanager

import (
	"github.com/distr1/buildgraph/node"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type graphNode struct {
	id int64
	n  *node.Node
}

func (g *graphNode) ID() int64 { return g.id }

// CycleError reports that a dependency graph could not be topologically
// ordered because it contains one or more cycles.
type CycleError struct {
	Cycles [][]*node.Node
}

func (e *CycleError) Error() string {
	return xerrors.Errorf("buildmanager: dependency graph has %d cycle(s)", len(e.Cycles)).Error()
}

// Plan is the resolved dependency graph for a set of root Nodes: every
// transitively reachable Node plus the edges between them, ready to be
// handed to Run.
type Plan struct {
	g        *simple.DirectedGraph
	byNode   map[*node.Node]*graphNode
	all      []*node.Node
}

// NewPlan walks roots and every Node transitively reachable via DepNodes,
// builds the dependency graph, and verifies it is acyclic.
func NewPlan(roots []*node.Node) (*Plan, error) {
	g := simple.NewDirectedGraph()
	byNode := make(map[*node.Node]*graphNode)
	var all []*node.Node

	var visit func(n *node.Node) *graphNode
	visit = func(n *node.Node) *graphNode {
		if gn, ok := byNode[n]; ok {
			return gn
		}
		gn := &graphNode{id: int64(len(byNode)), n: n}
		byNode[n] = gn
		all = append(all, n)
		g.AddNode(gn)
		for _, dep := range n.DepNodes() {
			depGn := visit(dep)
			// Edge direction: n depends on dep, so dep must build first.
			// gonum's topo.Sort yields an order where edges point from
			// earlier to later; we want dep before n, so the edge goes
			// dep -> n.
			g.SetEdge(g.NewEdge(depGn, gn))
		}
		return gn
	}
	for _, r := range roots {
		visit(r)
	}

	if _, err := topo.Sort(g); err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return nil, xerrors.Errorf("buildmanager: topo.Sort: %w", err)
		}
		var cycles [][]*node.Node
		for _, component := range uo {
			var cyc []*node.Node
			for _, gn := range component {
				cyc = append(cyc, gn.(*graphNode).n)
			}
			cycles = append(cycles, cyc)
		}
		return nil, &CycleError{Cycles: cycles}
	}

	return &Plan{g: g, byNode: byNode, all: all}, nil
}

// Nodes returns every Node in the plan, in no particular order.
func (p *Plan) Nodes() []*node.Node { return p.all }

// roots returns the Nodes with no dependency inside the plan, i.e.
// in-degree zero in the full graph.
func (p *Plan) roots() []*node.Node {
	var out []*node.Node
	for n, gn := range p.byNode {
		if p.g.To(gn.ID()).Len() == 0 {
			out = append(out, n)
		}
	}
	return out
}

// downstream returns the Nodes that directly depend on n.
func (p *Plan) downstream(n *node.Node) []*node.Node {
	gn := p.byNode[n]
	var out []*node.Node
	for it := p.g.From(gn.ID()); it.Next(); {
		out = append(out, it.Node().(*graphNode).n)
	}
	return out
}

// upstream returns the Nodes n directly depends on.
func (p *Plan) upstream(n *node.Node) []*node.Node {
	gn := p.byNode[n]
	var out []*node.Node
	for it := p.g.To(gn.ID()); it.Next(); {
		out = append(out, it.Node().(*graphNode).n)
	}
	return out
}
