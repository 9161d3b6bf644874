package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dsq/internal/ir"
)

// Cycle is a set of plan containers whose connects reference each other
// in a loop, so no container can be joined first.
type Cycle struct {
	Path    []string `json:"path"`    // ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
}

// AnalyzeCycles reports every connect cycle of a plan.
//
// A connect owned by alias A that compares against a field of alias B makes
// A depend on B. The dependency graph's strongly connected components
// (Tarjan's algorithm) with more than one member, or with a self-loop, are
// cycles. Normalization rejects the first cycle it meets; this reports all
// of them, in container declaration order.
func AnalyzeCycles(plan ir.PlanSpec) []Cycle {
	if len(plan.Connects) == 0 {
		return nil
	}

	graph, order := buildConnectGraph(plan)
	var cycles []Cycle
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, sccToCycle(scc, graph))
		}
	}
	return cycles
}

// connectGraph maps alias -> aliases it depends on.
type connectGraph map[string][]string

func buildConnectGraph(plan ir.PlanSpec) (connectGraph, []string) {
	graph := make(connectGraph)
	var order []string
	for _, c := range plan.Containers {
		if _, ok := graph[c.Alias]; ok {
			continue
		}
		graph[c.Alias] = []string{}
		order = append(order, c.Alias)
	}
	for _, c := range plan.Connects {
		if c.Ref == nil {
			continue
		}
		if _, ok := graph[c.Alias]; !ok {
			continue
		}
		if _, ok := graph[c.Ref.Alias]; !ok {
			continue
		}
		if !slices.Contains(graph[c.Alias], c.Ref.Alias) {
			graph[c.Alias] = append(graph[c.Alias], c.Ref.Alias)
		}
	}
	return graph, order
}

func hasSelfLoop(node string, graph connectGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting nodes in order.
func tarjanSCC(graph connectGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop its component
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	// Report components in declaration order of their first member.
	rank := make(map[string]int, len(order))
	for i, node := range order {
		rank[node] = i
	}
	for _, scc := range sccs {
		slices.SortFunc(scc, func(a, b string) int { return rank[a] - rank[b] })
	}
	slices.SortFunc(sccs, func(a, b []string) int { return rank[a[0]] - rank[b[0]] })
	return sccs
}

func sccToCycle(scc []string, graph connectGraph) Cycle {
	var path []string
	if len(scc) == 1 {
		path = []string{scc[0], scc[0]}
	} else {
		path = reconstructCyclePath(scc, graph)
	}
	return Cycle{
		Path:    path,
		Message: fmt.Sprintf("connect cycle: %s", strings.Join(path, " -> ")),
	}
}

// reconstructCyclePath returns the shortest path through an SCC from its
// first member back to itself.
func reconstructCyclePath(scc []string, graph connectGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	prev := make(map[string]string)
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, neighbor := range graph[current] {
			if !members[neighbor] {
				continue
			}
			if neighbor == start {
				var back []string
				for at := current; at != start; at = prev[at] {
					back = append(back, at)
				}
				slices.Reverse(back)
				path := append([]string{start}, back...)
				return append(path, start)
			}
			if !seen[neighbor] {
				seen[neighbor] = true
				prev[neighbor] = current
				queue = append(queue, neighbor)
			}
		}
	}
	return []string{start}
}
