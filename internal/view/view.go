// Package view derives the node and edge subset an external renderer shows.
package view

import (
	"fmt"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Mode is the display mode requested by the caller.
type Mode string

const (
	// ModeFull shows every node and edge.
	ModeFull Mode = "all"
	// ModeFocused shows only the focal node and its dependency closure.
	ModeFocused Mode = "dependencies"
)

// ParseMode accepts the wire names plus "full" and "focused".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeFull), "full":
		return ModeFull, nil
	case string(ModeFocused), "focused":
		return ModeFocused, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// State is the effective state of a projection.
type State string

const (
	StateFull    State = "full"
	StateFocused State = "focused"
)

// Projection is a derived, never persisted subset of a graph.
type Projection struct {
	Mode  Mode         `json:"mode"`
	State State        `json:"state"`
	Focal string       `json:"focal,omitempty"`
	Nodes []graph.Node `json:"nodes"`
	Edges []model.Edge `json:"edges"`
}

// Project derives the visible subset of g. It has no hidden state: the same
// graph snapshot, mode and focal id always give the same result.
//
// In focused mode with a focal id the nodes are the focal node plus its
// dependency closure, and an edge is kept iff both endpoints are in that
// set. Focused mode without a focal id falls back to the full graph. A focal
// id that is not in the graph yields an empty projection.
func Project(g *graph.Graph, mode Mode, focal string) *Projection {
	p := &Projection{Mode: mode, Focal: focal, Nodes: []graph.Node{}, Edges: []model.Edge{}}
	if g == nil {
		p.State = StateFull
		return p
	}

	if mode != ModeFocused || focal == "" {
		p.State = StateFull
		p.Nodes = g.Nodes()
		p.Edges = g.Edges()
		return p
	}

	p.State = StateFocused
	keep, err := g.Closure(focal)
	if err != nil {
		return p
	}
	for _, n := range g.Nodes() {
		if keep[n.ID] {
			p.Nodes = append(p.Nodes, n)
		}
	}
	for _, e := range g.Edges() {
		if keep[e.Source] && keep[e.Target] {
			p.Edges = append(p.Edges, e)
		}
	}
	return p
}

// NodeIDs returns the identifiers of the projected nodes in order.
func (p *Projection) NodeIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Refresh copies current node values and errors from g into the projection
// without changing which nodes or edges it contains.
func (p *Projection) Refresh(g *graph.Graph) {
	for i := range p.Nodes {
		if n, ok := g.Node(p.Nodes[i].ID); ok {
			p.Nodes[i].Value = n.Value
			p.Nodes[i].Error = n.Error
		}
	}
}

// Clone returns a copy that later refreshes of p do not affect.
func (p *Projection) Clone() *Projection {
	if p == nil {
		return nil
	}
	c := *p
	c.Nodes = append([]graph.Node{}, p.Nodes...)
	c.Edges = append([]model.Edge{}, p.Edges...)
	return &c
}
