package graph

import "github.com/alfredjeanlab/paramgraph/internal/model"

// Parameters adapts a plain slice to Source.
type Parameters []*model.Parameter

// Parameters returns the slice itself.
func (l Parameters) Parameters() []*model.Parameter { return l }

// Categorize assigns each parameter a category from its position in the
// graph and returns the four lists, preserving input order within each.
//
//   - input: something depends on it and it depends on nothing
//   - output: it depends on something and nothing depends on it
//   - intermediate: both, or it lies on a cycle
//   - independent: neither
//
// Parameters on a cycle are also flagged HasCircularDependency. The
// parameters are modified in place.
func Categorize(ps []*model.Parameter, opts ...Option) *model.Categories {
	return Build(Parameters(ps), opts...).Categorize(ps)
}

// Categorize is the package-level Categorize over an already built graph.
// ps should be the parameters g was built from.
func (g *Graph) Categorize(ps []*model.Parameter) *model.Categories {
	out := &model.Categories{
		Input:        []*model.Parameter{},
		Intermediate: []*model.Parameter{},
		Output:       []*model.Parameter{},
		Independent:  []*model.Parameter{},
	}
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if p == nil || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		node, _ := g.Node(p.ID)
		hasDeps := len(g.in[p.ID]) > 0
		hasDependents := len(g.out[p.ID]) > 0

		var cat model.Category
		switch {
		case node.InCycle:
			cat = model.CategoryIntermediate
		case hasDependents && !hasDeps:
			cat = model.CategoryInput
		case hasDeps && !hasDependents:
			cat = model.CategoryOutput
		case hasDeps && hasDependents:
			cat = model.CategoryIntermediate
		default:
			cat = model.CategoryIndependent
		}
		p.Category = cat
		p.HasCircularDependency = node.InCycle
		out.Set(cat, append(out.List(cat), p))
	}
	return out
}
