// Package resourcegraph builds a directed dependency graph over Terraform
// resources from their parsed attribute trees and produces a deterministic
// dependencies-first evaluation order.
//
// Reference detection is syntactic: a string value under resource A that
// contains resource B's address as a substring yields the edge A -> B.
// This is a documented heuristic, not an expression parser; coincidental
// substring matches (false positives) and indirect references through
// variables (false negatives) are accepted tradeoffs. The scan is
// O(resources² × values) in the worst case.
package resourcegraph

// Node is one resource in the dependency graph, keyed by its address.
type Node struct {
	// Address is the unique resource address, e.g. "aws_instance.web".
	Address string

	// Attributes is the resource's nested configuration tree: maps,
	// slices, and scalars as decoded from plan JSON. Not mutated after
	// the graph is built.
	Attributes any

	deps       map[string]*Node
	dependents map[string]*Node
}

// Graph is a directed graph of resource reference edges. "A references B"
// is stored as an edge A -> B, meaning B must be evaluated before A.
//
// Graph is built once per interpretation pass and never mutated after
// Build returns; it is safe for concurrent reads.
type Graph struct {
	nodes map[string]*Node

	// order tracks node insertion order so that traversals and the
	// evaluation order are deterministic across runs.
	order []string
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node for address, or nil if absent.
func (g *Graph) Node(address string) *Node {
	return g.nodes[address]
}

// Addresses returns all node addresses in insertion order.
func (g *Graph) Addresses() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// DependenciesOf returns the addresses that address references, in
// insertion order. Nil if the node is absent or has no edges.
func (g *Graph) DependenciesOf(address string) []string {
	n := g.nodes[address]
	if n == nil || len(n.deps) == 0 {
		return nil
	}
	return g.inInsertionOrder(n.deps)
}

// DependentsOf returns the addresses that reference address, in insertion
// order.
func (g *Graph) DependentsOf(address string) []string {
	n := g.nodes[address]
	if n == nil || len(n.dependents) == 0 {
		return nil
	}
	return g.inInsertionOrder(n.dependents)
}

// EdgeCount returns the number of directed edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, n := range g.nodes {
		total += len(n.deps)
	}
	return total
}

func (g *Graph) inInsertionOrder(set map[string]*Node) []string {
	out := make([]string, 0, len(set))
	for _, addr := range g.order {
		if _, ok := set[addr]; ok {
			out = append(out, addr)
		}
	}
	return out
}

func (g *Graph) addNode(address string, attrs any) {
	if _, ok := g.nodes[address]; ok {
		return
	}
	g.nodes[address] = &Node{
		Address:    address,
		Attributes: attrs,
		deps:       make(map[string]*Node),
		dependents: make(map[string]*Node),
	}
	g.order = append(g.order, address)
}

func (g *Graph) addEdge(from, to string) {
	if from == to {
		return
	}
	src, ok := g.nodes[from]
	if !ok {
		return
	}
	dst, ok := g.nodes[to]
	if !ok {
		return
	}
	src.deps[to] = dst
	dst.dependents[from] = src
}
