// Package resolver orders a plan's requests so every unit is deployed after
// the units it references.
//
// The reference graph has an edge A → B when A's constructor arguments
// contain ref(B) (at any depth) or when one of A's library slots is provided
// by B. References to units outside the plan must already be present in the
// manifest; they contribute no edge because their address is known up front.
package resolver

import (
	"slices"

	"github.com/roach88/deploydag/internal/ir"
)

// KnownFunc reports whether the manifest holds an active record for a unit
// on the target network.
type KnownFunc func(unit string) bool

// Resolve returns the plan's requests in deployment order.
//
// Among units whose dependencies are all satisfied, the one appearing first
// in the plan is emitted first, so an unchanged plan always resolves to the
// same order.
//
// Errors:
//   - *ir.DuplicateUnitError when two requests share a name
//   - *ir.DanglingReferenceError when a reference names neither a plan request
//     nor a manifest record
//   - *ir.CyclicDependencyError naming one cycle as a closed path
func Resolve(plan ir.Plan, known KnownFunc) ([]ir.Request, error) {
	if known == nil {
		known = func(string) bool { return false }
	}

	index := make(map[string]int, len(plan.Requests))
	for i, req := range plan.Requests {
		if _, dup := index[req.Name]; dup {
			return nil, &ir.DuplicateUnitError{Name: req.Name, Detail: "requested twice in plan " + quote(plan.Name)}
		}
		index[req.Name] = i
	}

	g, err := buildGraph(plan.Requests, index, known)
	if err != nil {
		return nil, err
	}

	order := g.kahn()
	if len(order) < len(plan.Requests) {
		return nil, &ir.CyclicDependencyError{Units: g.findCycle(order)}
	}

	ordered := make([]ir.Request, len(order))
	for i, n := range order {
		ordered[i] = plan.Requests[n]
	}
	return ordered, nil
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}

// graph holds plan-index adjacency. deps[i] lists the plan indices request i
// depends on; dependents is the reverse.
type graph struct {
	names      []string
	deps       [][]int
	dependents [][]int
}

func buildGraph(reqs []ir.Request, index map[string]int, known KnownFunc) (*graph, error) {
	g := &graph{
		names:      make([]string, len(reqs)),
		deps:       make([][]int, len(reqs)),
		dependents: make([][]int, len(reqs)),
	}

	for i, req := range reqs {
		g.names[i] = req.Name
		for _, dep := range req.Dependencies() {
			j, inPlan := index[dep]
			if !inPlan {
				if known(dep) {
					continue
				}
				return nil, &ir.DanglingReferenceError{From: req.Name, Ref: dep}
			}
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}
	return g, nil
}

// kahn runs Kahn's algorithm. The ready set is kept sorted by plan index.
// The returned order is shorter than the plan when a cycle exists.
func (g *graph) kahn() []int {
	n := len(g.names)
	indegree := make([]int, n)
	var ready []int
	for i := range n {
		indegree[i] = len(g.deps[i])
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, d := range g.dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				pos, _ := slices.BinarySearch(ready, d)
				ready = slices.Insert(ready, pos, d)
			}
		}
	}
	return order
}

// findCycle names one cycle among the nodes Kahn's algorithm could not emit.
func (g *graph) findCycle(emitted []int) []string {
	done := make([]bool, len(g.names))
	for _, i := range emitted {
		done[i] = true
	}

	for _, scc := range g.tarjanSCC(done) {
		if len(scc) > 1 || g.hasSelfLoop(scc[0]) {
			return g.cyclePath(scc)
		}
	}
	return nil
}

func (g *graph) hasSelfLoop(v int) bool {
	return slices.Contains(g.deps[v], v)
}

// tarjanSCC finds strongly connected components among the nodes not marked
// done. Nodes are visited in plan order so the reported cycle is stable.
func (g *graph) tarjanSCC(done []bool) [][]int {
	var (
		index   = 0
		stack   []int
		indices = make(map[int]int)
		lowlink = make(map[int]int)
		onStack = make(map[int]bool)
		sccs    [][]int
	)

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.deps[v] {
			if done[w] {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int
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

	for v := range g.names {
		if done[v] {
			continue
		}
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}

// cyclePath walks dependency edges inside one SCC, starting from its
// earliest plan member, until it returns to the start: [A, B, A].
func (g *graph) cyclePath(scc []int) []string {
	member := make(map[int]bool, len(scc))
	for _, v := range scc {
		member[v] = true
	}
	start := slices.Min(scc)

	if len(scc) == 1 {
		return []string{g.names[start], g.names[start]}
	}

	// BFS back to start keeps the path short and deterministic.
	prev := map[int]int{}
	queue := []int{start}
	seen := map[int]bool{start: true}
	last := -1
	for len(queue) > 0 && last < 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range g.deps[v] {
			if !member[w] {
				continue
			}
			if w == start {
				last = v
				break
			}
			if !seen[w] {
				seen[w] = true
				prev[w] = v
				queue = append(queue, w)
			}
		}
	}

	var rev []int
	for v := last; v != start; v = prev[v] {
		rev = append(rev, v)
	}
	path := []string{g.names[start]}
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, g.names[rev[i]])
	}
	return append(path, g.names[start])
}
