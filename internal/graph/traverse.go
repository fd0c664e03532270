package graph

// DependenciesOf returns every identifier id transitively depends on, in
// depth-first discovery order following each node's declared dependency
// order. The result never contains id itself, even when id sits on a cycle.
func (g *Graph) DependenciesOf(id string) ([]string, error) {
	if !g.Has(id) {
		return nil, ErrNodeNotFound
	}
	return g.walk(id, g.in), nil
}

// DependentsOf returns every identifier that transitively depends on id,
// excluding id itself.
func (g *Graph) DependentsOf(id string) ([]string, error) {
	if !g.Has(id) {
		return nil, ErrNodeNotFound
	}
	return g.walk(id, g.out), nil
}

// frame is one level of the explicit DFS stack: a node and the position of
// the next neighbour to visit.
type frame struct {
	id   string
	next int
}

// walk is an iterative preorder DFS over adj starting at root. A visited set
// guards every step, so cycles terminate and each node is reported once.
func (g *Graph) walk(root string, adj map[string][]string) []string {
	visited := map[string]bool{root: true}
	var out []string
	stack := []frame{{id: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		neighbours := adj[top.id]
		if top.next >= len(neighbours) {
			stack = stack[:len(stack)-1]
			continue
		}
		n := neighbours[top.next]
		top.next++
		if visited[n] {
			continue
		}
		visited[n] = true
		out = append(out, n)
		stack = append(stack, frame{id: n})
	}
	return out
}

// Closure returns DependenciesOf(id) plus id as a membership set.
func (g *Graph) Closure(id string) (map[string]bool, error) {
	deps, err := g.DependenciesOf(id)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(deps)+1)
	set[id] = true
	for _, d := range deps {
		set[d] = true
	}
	return set, nil
}
