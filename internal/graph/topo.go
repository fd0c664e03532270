package graph

import "container/heap"

// TopologicalOrder returns node identifiers with every dependency before its
// dependents (Kahn's algorithm). Ties are broken by build order. Nodes that
// cannot be ordered because they sit on or behind a cycle are appended at
// the end in build order.
func (g *Graph) TopologicalOrder() []string {
	n := len(g.nodes)
	indegree := make([]int, n)
	for i, node := range g.nodes {
		indegree[i] = len(g.in[node.ID])
	}

	ready := &indexHeap{}
	for i, d := range indegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]string, 0, n)
	placed := make([]bool, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		placed[i] = true
		id := g.nodes[i].ID
		order = append(order, id)
		for _, dependent := range g.out[id] {
			j := g.index[dependent]
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	for i, ok := range placed {
		if !ok {
			order = append(order, g.nodes[i].ID)
		}
	}
	return order
}

// indexHeap is a min-heap of node indexes.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
