package engine

import (
	"fmt"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/view"
)

// Parameters returns the four normalized parameter lists.
func (e *Engine) Parameters() (*model.Categories, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, ErrNotLoaded
	}
	return e.store.Categories(), nil
}

// Parameter returns one parameter record.
func (e *Engine) Parameter(id string) (*model.Parameter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, ErrNotLoaded
	}
	p, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("parameter %q: %w", id, graph.ErrNodeNotFound)
	}
	return p.Clone(), nil
}

// Category returns the category owning id, or model.CategoryUnknown.
func (e *Engine) Category(id string) model.Category {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return model.CategoryUnknown
	}
	return e.store.FindCategory(id)
}

// Dependencies returns every edge in wire form.
func (e *Engine) Dependencies() ([]model.DependencyRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, ErrNotLoaded
	}
	return e.graph.Records(), nil
}

// Detail returns a parameter with its category, dependency chain tree and
// whether its closure contains a cycle.
func (e *Engine) Detail(id string) (*model.ParameterDetail, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, ErrNotLoaded
	}
	p, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("parameter %q: %w", id, graph.ErrNodeNotFound)
	}
	chain, err := e.graph.Chain(id, graph.DefaultChainDepth)
	if err != nil {
		return nil, err
	}
	return &model.ParameterDetail{
		Parameter:             p.Clone(),
		Category:              e.store.FindCategory(id),
		DependencyChain:       chain,
		HasCircularDependency: e.graph.HasCycle(id),
	}, nil
}

// VerifyDetail checks a detail obtained elsewhere against the graph and
// returns a copy whose circular flag is the one the graph computes. A
// mismatch is logged; the graph wins.
func (e *Engine) VerifyDetail(d *model.ParameterDetail) (*model.ParameterDetail, error) {
	if d == nil || d.Parameter == nil {
		return nil, fmt.Errorf("detail without parameter: %w", graph.ErrNodeNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, ErrNotLoaded
	}
	id := d.Parameter.ID
	if !e.graph.Has(id) {
		return nil, fmt.Errorf("parameter %q: %w", id, graph.ErrNodeNotFound)
	}

	out := *d
	out.Parameter = d.Parameter.Clone()
	verified := e.graph.HasCycle(id)
	if verified != d.HasCircularDependency {
		e.logger.Warn("circular flag disagrees with graph", "parameter", id, "reported", d.HasCircularDependency, "verified", verified)
	}
	out.HasCircularDependency = verified
	out.Parameter.HasCircularDependency = verified
	return &out, nil
}

// Closure returns everything id transitively depends on, excluding id.
func (e *Engine) Closure(id string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, ErrNotLoaded
	}
	return e.graph.DependenciesOf(id)
}

// Dependents returns everything that transitively depends on id.
func (e *Engine) Dependents(id string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, ErrNotLoaded
	}
	return e.graph.DependentsOf(id)
}

// HasCycle reports whether id's dependency closure contains a cycle.
func (e *Engine) HasCycle(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return false, ErrNotLoaded
	}
	if !e.graph.Has(id) {
		return false, fmt.Errorf("parameter %q: %w", id, graph.ErrNodeNotFound)
	}
	return e.graph.HasCycle(id), nil
}

// Cycles returns the cycle report.
func (e *Engine) Cycles() (*graph.CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, ErrNotLoaded
	}
	return e.graph.DetectCycles(), nil
}

// Order returns parameter identifiers dependencies-first.
func (e *Engine) Order() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil, ErrNotLoaded
	}
	return e.graph.TopologicalOrder(), nil
}

// Warnings returns the problems found by the last Load.
func (e *Engine) Warnings() []graph.Warning {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil
	}
	return e.graph.Warnings()
}

// Select moves the view selection to id and returns the new projection. An
// empty id clears the selection.
func (e *Engine) Select(id string) *view.Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selector.Select(e.graph, id).Clone()
}

// SetMode switches the display mode and returns the new projection.
func (e *Engine) SetMode(m view.Mode) *view.Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selector.SetMode(e.graph, m).Clone()
}

// Projection returns the active projection.
func (e *Engine) Projection() *view.Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.selector.Current(); p != nil {
		return p.Clone()
	}
	return e.selector.Reset(e.graph).Clone()
}

// Project derives a projection without touching the view selection.
func (e *Engine) Project(m view.Mode, focal string) *view.Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return view.Project(e.graph, m, focal)
}
