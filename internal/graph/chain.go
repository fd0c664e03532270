package graph

import "github.com/alfredjeanlab/paramgraph/internal/model"

// DefaultChainDepth bounds Chain when the caller passes no depth.
const DefaultChainDepth = 16

// maxChainNodes caps the size of one chain tree. Diamond-shaped graphs
// expand shared dependencies once per path, so trees can grow quickly.
const maxChainNodes = 5000

// Chain returns the dependency tree rooted at id. Children follow declared
// dependency order. A dependency already on the path from the root is
// emitted with IsCycle set and is not expanded. Expansion stops at maxDepth
// levels below the root.
func (g *Graph) Chain(id string, maxDepth int) (*model.ChainNode, error) {
	if !g.Has(id) {
		return nil, ErrNodeNotFound
	}
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}
	budget := maxChainNodes
	onPath := map[string]bool{}
	return g.chain(id, 0, maxDepth, onPath, &budget), nil
}

func (g *Graph) chain(id string, depth, maxDepth int, onPath map[string]bool, budget *int) *model.ChainNode {
	*budget--
	n := g.nodes[g.index[id]]
	node := &model.ChainNode{ID: n.ID, Name: n.Name, Value: n.Value, Unit: n.Unit}
	if depth >= maxDepth {
		return node
	}

	onPath[id] = true
	defer delete(onPath, id)

	for _, dep := range g.in[id] {
		if *budget <= 0 {
			break
		}
		if onPath[dep] {
			*budget--
			d := g.nodes[g.index[dep]]
			node.Children = append(node.Children, &model.ChainNode{
				ID: d.ID, Name: d.Name, Value: d.Value, Unit: d.Unit, IsCycle: true,
			})
			continue
		}
		node.Children = append(node.Children, g.chain(dep, depth+1, maxDepth, onPath, budget))
	}
	return node
}
