package view

import "github.com/alfredjeanlab/paramgraph/internal/graph"

// Selector is the Full/Focused state machine of one viewer session. It
// keeps the active projection and re-derives it on every transition.
//
// Selecting a node while in focused mode moves to (or stays in) Focused;
// switching to full mode moves to Full and keeps the selection for detail
// display. Selecting another node while Focused re-derives directly.
type Selector struct {
	mode    Mode
	focal   string
	current *Projection
}

// NewSelector returns a selector in full mode with nothing selected.
func NewSelector() *Selector {
	return &Selector{mode: ModeFull}
}

// Mode returns the requested display mode.
func (s *Selector) Mode() Mode { return s.mode }

// Focal returns the selected node, if any.
func (s *Selector) Focal() string { return s.focal }

// State returns the effective state.
func (s *Selector) State() State {
	if s.mode == ModeFocused && s.focal != "" {
		return StateFocused
	}
	return StateFull
}

// SetMode switches the display mode and re-derives the projection.
func (s *Selector) SetMode(g *graph.Graph, m Mode) *Projection {
	s.mode = m
	return s.derive(g)
}

// Select changes the focal node and re-derives the projection. An empty id
// clears the selection.
func (s *Selector) Select(g *graph.Graph, id string) *Projection {
	s.focal = id
	return s.derive(g)
}

// Reset re-derives the projection against a rebuilt graph, dropping the
// selection if the focal node no longer exists.
func (s *Selector) Reset(g *graph.Graph) *Projection {
	if s.focal != "" && (g == nil || !g.Has(s.focal)) {
		s.focal = ""
	}
	return s.derive(g)
}

// Current returns the active projection, or nil before the first derive.
func (s *Selector) Current() *Projection { return s.current }

// Refresh updates the active projection's values from g.
func (s *Selector) Refresh(g *graph.Graph) {
	if s.current != nil && g != nil {
		s.current.Refresh(g)
	}
}

func (s *Selector) derive(g *graph.Graph) *Projection {
	s.current = Project(g, s.mode, s.focal)
	return s.current
}
