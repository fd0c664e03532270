// Package graph builds the parameter dependency graph and answers closure,
// cycle and ordering queries over it.
//
// An edge A→B means B's value depends on A. "What does X depend on" follows
// edges backward from X. Incoming edges of a node are kept in the order the
// node declared its dependencies, so every traversal is deterministic.
package graph

import (
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Node is a graph vertex. Value and Error mirror the parameter store for
// rendering convenience; the store stays authoritative.
type Node struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Category model.Category `json:"category"`
	Unit     string         `json:"unit,omitempty"`
	Value    model.Value    `json:"value"`
	Error    string         `json:"error,omitempty"`
	InCycle  bool           `json:"in_cycle,omitempty"`
}

// WarningKind classifies a non-fatal build problem.
type WarningKind string

const (
	WarnDanglingReference WarningKind = "dangling_reference"
	WarnDuplicateNode     WarningKind = "duplicate_node"
)

// Warning is a non-fatal problem recorded while building the graph.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Source  string      `json:"source,omitempty"`
	Target  string      `json:"target,omitempty"`
	Message string      `json:"message"`
}

// Source supplies the parameters a graph is built from. *params.Store
// satisfies it.
type Source interface {
	Parameters() []*model.Parameter
}

// Graph is the dependency graph of one parameter snapshot. Topology is
// immutable after Build; only node values change through Annotate.
type Graph struct {
	nodes    []*Node
	index    map[string]int
	edges    []model.Edge
	edgeSet  map[model.Edge]struct{}
	in       map[string][]string // target -> sources, declared order
	out      map[string][]string // source -> targets, edge order
	warnings []Warning
	cycles   *CycleReport
	logger   *slog.Logger
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	extra  []model.DependencyRecord
	logger *slog.Logger
}

// WithEdges merges dependency records from a separate dependency fetch.
// They are appended after the declared dependencies; duplicates are ignored.
func WithEdges(records []model.DependencyRecord) Option {
	return func(o *buildOptions) { o.extra = append(o.extra, records...) }
}

// WithLogger sets the logger used for build warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// Build creates the graph: one node per parameter, and one edge dep→param
// for every declared dependency. Dependencies naming no parameter are
// dropped and recorded as warnings. Cycles are detected once here.
func Build(src Source, opts ...Option) *Graph {
	o := buildOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var ps []*model.Parameter
	if src != nil {
		ps = src.Parameters()
	}

	g := &Graph{
		nodes:   make([]*Node, 0, len(ps)),
		index:   make(map[string]int, len(ps)),
		edgeSet: make(map[model.Edge]struct{}),
		in:      make(map[string][]string, len(ps)),
		out:     make(map[string][]string, len(ps)),
		logger:  o.logger,
	}

	var owners []*model.Parameter
	for _, p := range ps {
		if p == nil {
			continue
		}
		if _, dup := g.index[p.ID]; dup {
			g.warn(Warning{
				Kind:    WarnDuplicateNode,
				Target:  p.ID,
				Message: fmt.Sprintf("parameter %q declared more than once; first declaration kept", p.ID),
			})
			continue
		}
		g.index[p.ID] = len(g.nodes)
		g.nodes = append(g.nodes, &Node{
			ID:       p.ID,
			Name:     p.Name,
			Category: p.Category,
			Unit:     p.Unit,
			Value:    p.Value,
			Error:    p.Error,
		})
		owners = append(owners, p)
	}

	for _, p := range owners {
		for _, dep := range p.Dependencies {
			g.addEdge(model.Edge{Source: dep, Target: p.ID})
		}
	}
	for _, r := range o.extra {
		g.addEdge(r.Edge())
	}

	g.cycles = g.detectCycles()
	for _, id := range g.cycles.CyclicNodes {
		g.nodes[g.index[id]].InCycle = true
	}
	if g.cycles.HasCycle {
		g.logger.Warn("dependency cycle detected", "cycle", g.cycles.Cycle, "affected", len(g.cycles.Affected))
	}
	return g
}

func (g *Graph) addEdge(e model.Edge) {
	_, srcOK := g.index[e.Source]
	_, dstOK := g.index[e.Target]
	if !srcOK || !dstOK {
		missing := e.Source
		if !dstOK {
			missing = e.Target
		}
		g.warn(Warning{
			Kind:    WarnDanglingReference,
			Source:  e.Source,
			Target:  e.Target,
			Message: fmt.Sprintf("dependency %s -> %s dropped: %q is not a parameter", e.Source, e.Target, missing),
		})
		return
	}
	if _, ok := g.edgeSet[e]; ok {
		return
	}
	g.edgeSet[e] = struct{}{}
	g.edges = append(g.edges, e)
	g.in[e.Target] = append(g.in[e.Target], e.Source)
	g.out[e.Source] = append(g.out[e.Source], e.Target)
}

func (g *Graph) warn(w Warning) {
	g.warnings = append(g.warnings, w)
	g.logger.Warn("graph build warning", "kind", w.Kind, "source", w.Source, "target", w.Target)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Has reports whether id is a node.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Node returns a copy of the node with the given identifier.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return *g.nodes[i], true
}

// Nodes returns copies of all nodes in build order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = *n
	}
	return out
}

// Edges returns all edges in build order.
func (g *Graph) Edges() []model.Edge {
	return append([]model.Edge(nil), g.edges...)
}

// HasEdge reports whether the edge source→target exists.
func (g *Graph) HasEdge(source, target string) bool {
	_, ok := g.edgeSet[model.Edge{Source: source, Target: target}]
	return ok
}

// Incoming returns the direct dependencies of id in declared order.
func (g *Graph) Incoming(id string) []string {
	return append([]string(nil), g.in[id]...)
}

// Outgoing returns the direct dependents of id.
func (g *Graph) Outgoing(id string) []string {
	return append([]string(nil), g.out[id]...)
}

// Warnings returns the problems recorded during Build.
func (g *Graph) Warnings() []Warning {
	return append([]Warning(nil), g.warnings...)
}

// Annotate sets the rendered value and error of a node. Topology is not
// touched. It reports whether the node exists.
func (g *Graph) Annotate(id string, v model.Value, errMsg string) bool {
	i, ok := g.index[id]
	if !ok {
		return false
	}
	g.nodes[i].Value = v
	g.nodes[i].Error = errMsg
	return true
}

// Records returns the edges in wire form with display names filled in.
func (g *Graph) Records() []model.DependencyRecord {
	out := make([]model.DependencyRecord, len(g.edges))
	for i, e := range g.edges {
		out[i] = model.DependencyRecord{
			SourceID: e.Source,
			TargetID: e.Target,
			Source:   g.nodes[g.index[e.Source]].Name,
			Target:   g.nodes[g.index[e.Target]].Name,
		}
	}
	return out
}
