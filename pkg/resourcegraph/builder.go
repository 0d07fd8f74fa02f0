package resourcegraph

import (
	"sort"
	"strings"
)

// Resource is one graph input: a resource address paired with its nested
// attribute tree (maps, slices, scalars as decoded from plan JSON).
type Resource struct {
	Address    string
	Attributes any
}

// Order is a linear evaluation order over resource addresses, dependencies
// before dependents.
//
// When the graph contains a cycle, Addresses still covers every node: the
// acyclic prefix comes first in topological order, followed by the
// remaining cyclic nodes in insertion order. Cyclic is set and Unordered
// names the nodes the sort could not place, so degraded ordering is always
// observable to callers.
type Order struct {
	Addresses []string
	Cyclic    bool
	Unordered []string
}

// Build constructs the dependency graph for the given resources.
//
// Resources are inserted in the order given, which fixes all downstream
// iteration and evaluation order: two Build calls over the same slice
// produce identical edge sets and identical orders.
func Build(resources []Resource) *Graph {
	g := &Graph{nodes: make(map[string]*Node, len(resources))}

	for _, r := range resources {
		g.addNode(r.Address, r.Attributes)
	}

	// Longest addresses first so that scanning is independent of input
	// order when one address is a prefix of another.
	targets := make([]string, len(g.order))
	copy(targets, g.order)
	sort.SliceStable(targets, func(i, j int) bool {
		return len(targets[i]) > len(targets[j])
	})

	for _, addr := range g.order {
		n := g.nodes[addr]
		scanValue(n.Attributes, func(s string) {
			for _, target := range targets {
				if target == addr {
					continue
				}
				if strings.Contains(s, target) {
					g.addEdge(addr, target)
				}
			}
		})
	}

	return g
}

// BuildFromMap is a convenience wrapper over Build for callers holding a
// map of address -> attribute tree. Insertion order is the sorted address
// order, which keeps the result deterministic.
func BuildFromMap(resources map[string]any) *Graph {
	addrs := make([]string, 0, len(resources))
	for addr := range resources {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	in := make([]Resource, 0, len(addrs))
	for _, addr := range addrs {
		in = append(in, Resource{Address: addr, Attributes: resources[addr]})
	}
	return Build(in)
}

// scanValue walks an attribute tree and invokes fn for every string scalar.
// Maps are traversed by value, slices by element; non-string scalars are
// ignored.
func scanValue(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]any:
		for _, child := range val {
			scanValue(child, fn)
		}
	case []any:
		for _, child := range val {
			scanValue(child, fn)
		}
	}
}

// EvaluationOrder returns the dependencies-first order over the graph.
//
// The sort is Kahn's algorithm over reversed edges (an edge A -> B means
// "evaluate B before A"), with insertion order breaking ties so repeated
// runs are identical. If a cycle prevents placing every node, the
// remainder is appended in insertion order and flagged; the builder never
// fails or hangs on cyclic input.
func (g *Graph) EvaluationOrder() Order {
	indegree := make(map[string]int, len(g.nodes))
	for _, addr := range g.order {
		// A node's indegree here is the number of unevaluated dependencies.
		indegree[addr] = len(g.nodes[addr].deps)
	}

	placed := make(map[string]bool, len(g.nodes))
	out := make([]string, 0, len(g.nodes))

	for {
		progressed := false
		for _, addr := range g.order {
			if placed[addr] || indegree[addr] != 0 {
				continue
			}
			placed[addr] = true
			out = append(out, addr)
			progressed = true
			for _, dep := range g.nodes[addr].dependents {
				indegree[dep.Address]--
			}
		}
		if !progressed {
			break
		}
	}

	if len(out) == len(g.order) {
		return Order{Addresses: out}
	}

	// Cycle: emit the acyclic prefix, then the leftover nodes in insertion
	// order. Callers must treat the result as degraded.
	leftover := make([]string, 0, len(g.order)-len(out))
	for _, addr := range g.order {
		if !placed[addr] {
			leftover = append(leftover, addr)
		}
	}
	return Order{
		Addresses: append(out, leftover...),
		Cyclic:    true,
		Unordered: leftover,
	}
}
