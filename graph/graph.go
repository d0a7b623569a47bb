// Package graph builds and validates the step dependency graph of a
// workflow definition.
//
// Edges come from two sources: the explicit DependsOn list of each step
// and the step references found in its input placeholders. Both are merged
// into one adjacency structure before cycle detection runs, so a
// definition is rejected before any step executes.
package graph

import (
	"fmt"
	"slices"
	"sort"
)

// EdgeSource records why an edge exists. It is used for diagnostics only.
type EdgeSource string

const (
	// SourceExplicit marks an edge declared in DependsOn.
	SourceExplicit EdgeSource = "explicit"
	// SourceInferred marks an edge derived from a template reference.
	SourceInferred EdgeSource = "inferred"
)

// Edge is a dependency: To cannot start until From is terminal.
type Edge struct {
	From   string
	To     string
	Source EdgeSource
}

type node struct {
	id         string
	order      int
	deps       map[string]EdgeSource
	dependents map[string]EdgeSource
}

// Graph is the dependency graph of one definition. It is not modified
// after Build returns and is safe for concurrent reads.
type Graph struct {
	nodes map[string]*node
	ids   []string // declared order
}

func newGraph() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

func (g *Graph) addNode(id string, order int) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:         id,
		order:      order,
		deps:       make(map[string]EdgeSource),
		dependents: make(map[string]EdgeSource),
	}
	g.ids = append(g.ids, id)
}

// addEdge records that to depends on from. An explicit edge is never
// downgraded to inferred.
func (g *Graph) addEdge(from, to string, src EdgeSource) error {
	fromNode, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("source node not found: %s", from)
	}
	toNode, ok := g.nodes[to]
	if !ok {
		return fmt.Errorf("destination node not found: %s", to)
	}
	if existing, ok := toNode.deps[from]; ok && existing == SourceExplicit {
		return nil
	}
	toNode.deps[from] = src
	fromNode.dependents[to] = src
	return nil
}

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.ids) }

// Steps returns step ids in declared order.
func (g *Graph) Steps() []string { return slices.Clone(g.ids) }

// Dependencies returns the ids id depends on, in declared order.
func (g *Graph) Dependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return g.sorted(n.deps)
}

// Dependents returns the ids that depend on id, in declared order.
func (g *Graph) Dependents(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return g.sorted(n.dependents)
}

// Edges returns every edge ordered by (To, From) declared order.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, to := range g.ids {
		n := g.nodes[to]
		for _, from := range g.sorted(n.deps) {
			out = append(out, Edge{From: from, To: to, Source: n.deps[from]})
		}
	}
	return out
}

// Roots returns steps without dependencies, in declared order.
func (g *Graph) Roots() []string {
	var out []string
	for _, id := range g.ids {
		if len(g.nodes[id].deps) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// TopologicalOrder returns an order in which every step follows its
// dependencies. Ties are broken by declared order. The graph must be
// acyclic, which Build guarantees.
func (g *Graph) TopologicalOrder() []string {
	pending := make(map[string]int, len(g.ids))
	var ready []string
	for _, id := range g.ids {
		pending[id] = len(g.nodes[id].deps)
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, dep := range g.Dependents(id) {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
				sort.SliceStable(ready, func(i, j int) bool {
					return g.nodes[ready[i]].order < g.nodes[ready[j]].order
				})
			}
		}
	}
	return out
}

// detectCycle runs a depth-first search with a recursion stack and
// returns the first cycle found as a path whose last element repeats the
// first. Nodes are visited in declared order so the result is stable.
func (g *Graph) detectCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	mark := make(map[string]int, len(g.ids))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		switch mark[id] {
		case done:
			return nil
		case onStack:
			start := slices.Index(stack, id)
			cycle := slices.Clone(stack[start:])
			return append(cycle, id)
		}

		mark[id] = onStack
		stack = append(stack, id)
		for _, next := range g.Dependents(id) {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		mark[id] = done
		return nil
	}

	for _, id := range g.ids {
		if mark[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) sorted(set map[string]EdgeSource) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := g.nodes[out[i]].order, g.nodes[out[j]].order
		if oi != oj {
			return oi < oj
		}
		return out[i] < out[j]
	})
	return out
}
