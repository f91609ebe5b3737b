package registry

import (
	"sort"
	"strings"
)

// fetchGraph is the directed graph of fetch-query references over versioned names
type fetchGraph struct {
	nodes []string            // sorted for deterministic traversal
	edges map[string][]string // query -> referenced queries, in declaration order
}

func newFetchGraph(edges map[string][]string) *fetchGraph {
	nodes := make([]string, 0, len(edges))
	for name := range edges {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)
	return &fetchGraph{nodes: nodes, edges: edges}
}

// dangling returns the first reference that points at an unknown query
func (g *fetchGraph) dangling() (from, to string, ok bool) {
	for _, name := range g.nodes {
		for _, ref := range g.edges[name] {
			if _, exists := g.edges[ref]; !exists {
				return name, ref, true
			}
		}
	}
	return "", "", false
}

type frame struct {
	node string
	next int // index of the next edge to follow
}

// findCycle walks the graph depth first without recursion, keeping the
// current reference path. It returns the path closed by the first revisited
// name, e.g. [A B A], or nil when the graph is acyclic.
func (g *fetchGraph) findCycle() []string {
	done := make(map[string]bool, len(g.nodes))

	for _, root := range g.nodes {
		if done[root] {
			continue
		}

		onPath := map[string]bool{root: true}
		path := []string{root}
		stack := []*frame{{node: root}}

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			refs := g.edges[top.node]

			if top.next >= len(refs) {
				done[top.node] = true
				delete(onPath, top.node)
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
				continue
			}

			ref := refs[top.next]
			top.next++

			if onPath[ref] {
				start := 0
				for i, n := range path {
					if n == ref {
						start = i
						break
					}
				}
				cycle := append([]string{}, path[start:]...)
				return append(cycle, ref)
			}
			if done[ref] {
				continue
			}

			onPath[ref] = true
			path = append(path, ref)
			stack = append(stack, &frame{node: ref})
		}
	}

	return nil
}

// order returns the names with every query placed after the queries it fetches.
// The graph must be acyclic.
func (g *fetchGraph) order() []string {
	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, ref := range g.edges[name] {
			visit(ref)
		}
		result = append(result, name)
	}

	for _, name := range g.nodes {
		visit(name)
	}
	return result
}

func formatPath(path []string) string {
	return strings.Join(path, " -> ")
}
