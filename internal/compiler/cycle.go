package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/orchestra/internal/ir"
)

// CycleWarning represents a routing loop between plan nodes.
//
// A node is triggered at most once per plan execution (retries fork the
// same attempt), so advice routing back to an already-run node fails with a
// NODE_ALREADY_TRIGGERED runtime error and the plan stalls there. Loops are reported as warnings
// because the looping edge may sit behind an adviser that never fires in
// practice, such as an on-fail route of a step that cannot fail.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["a", "b", "a"]
	Message string   `json:"message"` // human-readable description
	Level   string   `json:"level"`   // "warning"
}

// routeGraph maps node id to the node ids its advisers route to, in adviser
// order.
type routeGraph map[string][]string

// AnalyzeCycles finds routing loops in a plan.
//
// The algorithm:
//  1. Build node -> next node edges from every adviser's next_node_id
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
//
// Nodes are visited in plan order, so the output is deterministic.
func AnalyzeCycles(p ir.Plan) []CycleWarning {
	graph := make(routeGraph, len(p.Nodes))
	order := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		order = append(order, n.UUID)
		graph[n.UUID] = []string{}
		for _, obt := range n.Advisers {
			next := nextNodeID(obt)
			if next == "" {
				continue
			}
			if _, ok := p.Node(next); ok {
				graph[n.UUID] = append(graph[n.UUID], next)
			}
		}
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleWarning(scc, graph))
		}
	}
	return warnings
}

func hasSelfLoop(node string, graph routeGraph) bool {
	for _, next := range graph[node] {
		if next == node {
			return true
		}
	}
	return false
}

// tarjanSCC returns the strongly connected components of graph. Each SCC is
// listed in discovery order.
func tarjanSCC(graph routeGraph, order []string) [][]string {
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

		if lowlink[v] != indices[v] {
			return
		}
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
		// Popped in reverse discovery order.
		for i, j := 0, len(scc)-1; i < j; i, j = i+1, j-1 {
			scc[i], scc[j] = scc[j], scc[i]
		}
		sccs = append(sccs, scc)
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleWarning(scc []string, graph routeGraph) CycleWarning {
	path := []string{scc[0], scc[0]}
	if len(scc) > 1 {
		path = cyclePath(scc, graph)
	}
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("routing cycle: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// cyclePath follows edges inside the SCC from its first node until it
// returns there.
func cyclePath(scc []string, graph routeGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for current := start; ; {
		next := ""
		for _, w := range graph[current] {
			if w == start && len(path) > 1 {
				next = w
				break
			}
			if members[w] && !visited[w] && next == "" {
				next = w
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
