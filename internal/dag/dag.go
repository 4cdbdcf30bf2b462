// Package dag provides the dependency graph used to order pipeline stages.
// It supports cycle detection, deterministic topological sorting and
// upstream/downstream selection.
package dag

import (
	"fmt"
	"slices"
)

// Graph is a directed acyclic graph of named nodes. An edge parent -> child
// means the child runs after the parent.
type Graph struct {
	order    []string            // insertion order, used to break ties
	index    map[string]int      // node -> position in order
	children map[string][]string // parent -> dependents
	parents  map[string][]string // child -> dependencies
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		index:    make(map[string]int),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.order)
	g.order = append(g.order, id)
}

// HasNode reports whether id is part of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// AddEdge records that child depends on parent.
func (g *Graph) AddEdge(parent, child string) error {
	if !g.HasNode(parent) {
		return fmt.Errorf("parent node %q does not exist", parent)
	}
	if !g.HasNode(child) {
		return fmt.Errorf("child node %q does not exist", child)
	}
	if parent == child {
		return fmt.Errorf("self-loop detected: %s", parent)
	}

	if !slices.Contains(g.children[parent], child) {
		g.children[parent] = append(g.children[parent], child)
	}
	if !slices.Contains(g.parents[child], parent) {
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Nodes returns all node IDs in insertion order.
func (g *Graph) Nodes() []string {
	return slices.Clone(g.order)
}

// Parents returns the direct dependencies of a node.
func (g *Graph) Parents(id string) []string {
	return g.parents[id]
}

// Children returns the direct dependents of a node.
func (g *Graph) Children(id string) []string {
	return g.children[id]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.order)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, c := range g.children {
		n += len(c)
	}
	return n
}

// HasCycle reports whether the graph contains a cycle and returns one cycle
// path, starting and ending at the same node.
func (g *Graph) HasCycle() (bool, []string) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.order))
	stack := []string{}

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, c := range g.children[id] {
			switch color[c] {
			case grey:
				start := slices.Index(stack, c)
				cycle = append(slices.Clone(stack[start:]), c)
				return true
			case white:
				if visit(c) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns the nodes with every dependency before its
// dependents. Among nodes that are ready at the same time, the one added
// first comes first.
func (g *Graph) TopologicalSort() ([]string, error) {
	if cyclic, path := g.HasCycle(); cyclic {
		return nil, fmt.Errorf("cycle detected: %v", path)
	}

	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.parents[id])
	}

	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b string) int { return g.index[a] - g.index[b] })
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		for _, c := range g.children[id] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	return result, nil
}

// Levels groups nodes by execution level. Level 0 has no dependencies and
// level N only depends on levels below N.
func (g *Graph) Levels() ([][]string, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(sorted))
	var levels [][]string
	for _, id := range sorted {
		l := 0
		for _, p := range g.parents[id] {
			l = max(l, level[p]+1)
		}
		level[id] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}

// Downstream returns the given nodes plus everything that depends on them,
// in insertion order.
func (g *Graph) Downstream(ids []string) []string {
	return g.walk(ids, g.children)
}

// Upstream returns everything the given node depends on, transitively,
// excluding the node itself.
func (g *Graph) Upstream(id string) []string {
	all := g.walk([]string{id}, g.parents)
	return slices.DeleteFunc(all, func(s string) bool { return s == id })
}

func (g *Graph) walk(start []string, next map[string][]string) []string {
	seen := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		if seen[id] || !g.HasNode(id) {
			return
		}
		seen[id] = true
		for _, n := range next[id] {
			mark(n)
		}
	}
	for _, id := range start {
		mark(id)
	}

	var out []string
	for _, id := range g.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Roots returns nodes without dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns nodes without dependents.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.children[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Subgraph returns a graph with only the given nodes and the edges between
// them.
func (g *Graph) Subgraph(ids []string) *Graph {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	sub := NewGraph()
	for _, id := range g.order {
		if keep[id] {
			sub.AddNode(id)
		}
	}
	for _, id := range sub.order {
		for _, c := range g.children[id] {
			if keep[c] {
				_ = sub.AddEdge(id, c)
			}
		}
	}
	return sub
}
