package graph

// CycleReport summarizes the cycles of a graph.
type CycleReport struct {
	// HasCycle is true when any dependency chain revisits a node.
	HasCycle bool `json:"has_cycle"`
	// Cycle is the first cycle found, as a closed path: the first and last
	// entries are the same node, and each entry depends on the next.
	Cycle []string `json:"cycle,omitempty"`
	// CyclicNodes lists every node lying on some cycle, in node order.
	CyclicNodes []string `json:"cyclic_nodes,omitempty"`
	// Affected lists every node whose dependency closure contains a cycle,
	// including the cyclic nodes themselves, in node order.
	Affected []string `json:"affected,omitempty"`

	affected []bool
}

// DetectCycles returns the cycle report computed at build time.
func (g *Graph) DetectCycles() *CycleReport {
	r := *g.cycles
	r.Cycle = append([]string(nil), g.cycles.Cycle...)
	r.CyclicNodes = append([]string(nil), g.cycles.CyclicNodes...)
	r.Affected = append([]string(nil), g.cycles.Affected...)
	return &r
}

// HasCycle reports whether following dependencies from id ever revisits a
// node, i.e. whether id's closure contains a cycle.
func (g *Graph) HasCycle(id string) bool {
	i, ok := g.index[id]
	if !ok {
		return false
	}
	return g.cycles.affected[i]
}

const (
	white = iota // unvisited
	grey         // on the current path
	black        // finished
)

// detectCycles runs in O(V+E): one three-colour DFS over dependency edges
// finds whether a cycle exists and its first path, Tarjan's algorithm marks
// the nodes on cycles, and a forward sweep from those nodes marks every
// node whose closure reaches one.
func (g *Graph) detectCycles() *CycleReport {
	n := len(g.nodes)
	r := &CycleReport{affected: make([]bool, n)}

	color := make([]uint8, n)
	for start := range g.nodes {
		if color[start] != white {
			continue
		}
		if cycle := g.colorDFS(start, color); cycle != nil && r.Cycle == nil {
			r.Cycle = cycle
		}
	}
	r.HasCycle = r.Cycle != nil
	if !r.HasCycle {
		return r
	}

	onCycle := g.cyclicNodes()
	queue := make([]int, 0, n)
	for i, c := range onCycle {
		if c {
			r.CyclicNodes = append(r.CyclicNodes, g.nodes[i].ID)
			r.affected[i] = true
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, dep := range g.out[g.nodes[i].ID] {
			j := g.index[dep]
			if !r.affected[j] {
				r.affected[j] = true
				queue = append(queue, j)
			}
		}
	}
	for i, a := range r.affected {
		if a {
			r.Affected = append(r.Affected, g.nodes[i].ID)
		}
	}
	return r
}

// colorDFS walks dependency edges from start, colouring nodes. It returns
// the first back-edge cycle it meets, or nil. It keeps walking after a cycle
// so every reachable node ends black.
func (g *Graph) colorDFS(start int, color []uint8) []string {
	var found []string
	path := []frame{{id: g.nodes[start].ID}}
	color[start] = grey
	for len(path) > 0 {
		top := &path[len(path)-1]
		deps := g.in[top.id]
		if top.next >= len(deps) {
			color[g.index[top.id]] = black
			path = path[:len(path)-1]
			continue
		}
		dep := deps[top.next]
		top.next++
		j := g.index[dep]
		switch color[j] {
		case white:
			color[j] = grey
			path = append(path, frame{id: dep})
		case grey:
			if found == nil {
				found = closePath(path, dep)
			}
		}
	}
	return found
}

// closePath extracts the cycle ending in a back edge to target from the
// current DFS path.
func closePath(path []frame, target string) []string {
	for k := range path {
		if path[k].id == target {
			cycle := make([]string, 0, len(path)-k+1)
			for _, f := range path[k:] {
				cycle = append(cycle, f.id)
			}
			return append(cycle, target)
		}
	}
	return nil
}

// cyclicNodes marks nodes that belong to a strongly connected component of
// size > 1 or carry a self-loop, using an iterative Tarjan traversal.
func (g *Graph) cyclicNodes() []bool {
	n := len(g.nodes)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	result := make([]bool, n)
	var stack []int
	counter := 0

	type tframe struct {
		v    int
		next int
	}
	for root := range g.nodes {
		if index[root] != -1 {
			continue
		}
		call := []tframe{{v: root}}
		index[root], low[root] = counter, counter
		counter++
		stack = append(stack, root)
		onStack[root] = true

		for len(call) > 0 {
			top := &call[len(call)-1]
			deps := g.in[g.nodes[top.v].ID]
			if top.next < len(deps) {
				w := g.index[deps[top.next]]
				top.next++
				if index[w] == -1 {
					index[w], low[w] = counter, counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					call = append(call, tframe{v: w})
				} else if onStack[w] && index[w] < low[top.v] {
					low[top.v] = index[w]
				}
				continue
			}

			v := top.v
			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].v
				if low[v] < low[parent] {
					low[parent] = low[v]
				}
			}
			if low[v] != index[v] {
				continue
			}
			var component []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			if len(component) > 1 {
				for _, w := range component {
					result[w] = true
				}
			} else if g.HasEdge(g.nodes[v].ID, g.nodes[v].ID) {
				result[v] = true
			}
		}
	}
	return result
}
