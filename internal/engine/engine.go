// Package engine ties the parameter store, dependency graph, view selector
// and propagation cache of one workbook together behind a single lock.
//
// Every exported method is safe for concurrent use. Results are copies;
// callers may keep them across later merges.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/compute"
	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/params"
	"github.com/alfredjeanlab/paramgraph/internal/propagation"
	"github.com/alfredjeanlab/paramgraph/internal/view"
)

// ErrNotLoaded is returned by queries made before the first Load.
var ErrNotLoaded = errors.New("no parameters loaded")

// DefaultComputeTimeout bounds Recompute when no timeout is configured.
const DefaultComputeTimeout = 30 * time.Second

// LoadReport summarizes a successful Load.
type LoadReport struct {
	Parameters int                `json:"parameters"`
	Edges      int                `json:"edges"`
	Warnings   []graph.Warning    `json:"warnings,omitempty"`
	Cycles     *graph.CycleReport `json:"cycles"`
}

// Result is the outcome of one Recompute.
type Result struct {
	Ticket propagation.Ticket       `json:"ticket"`
	Merge  *propagation.MergeResult `json:"merge"`
	Values model.ComputedMap        `json:"values"`
}

// Engine owns the state of one loaded workbook.
type Engine struct {
	mu      sync.Mutex
	logger  *slog.Logger
	timeout time.Duration

	store    *params.Store
	graph    *graph.Graph
	selector *view.Selector
	cache    *propagation.Cache
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithComputeTimeout bounds each Recompute. Zero or negative disables the
// bound.
func WithComputeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New returns an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		timeout:  DefaultComputeTimeout,
		selector: view.NewSelector(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load replaces the engine state with a new parameter fetch and optional
// separate dependency fetch. Duplicate identifiers and empty edge endpoints
// are rejected; dangling dependencies are dropped and reported as warnings.
// The caller's categories are not modified. The view selection survives a
// reload when its focal node still exists. Tickets issued before the reload
// become stale.
func (e *Engine) Load(cats *model.Categories, edges []model.DependencyRecord) (*LoadReport, error) {
	if err := model.ValidateCategories(cats); err != nil {
		return nil, err
	}
	if err := model.ValidateEdges(edges); err != nil {
		return nil, err
	}

	store := params.New(cats.Clone())
	g := graph.Build(store, graph.WithEdges(edges), graph.WithLogger(e.logger))
	for _, p := range store.Parameters() {
		p.HasCircularDependency = g.HasCycle(p.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
	e.graph = g
	e.selector.Reset(g)
	cache := propagation.New(store, g, e.selector)
	cache.Continue(e.cache)
	e.cache = cache

	report := &LoadReport{
		Parameters: store.Len(),
		Edges:      len(g.Edges()),
		Warnings:   g.Warnings(),
		Cycles:     g.DetectCycles(),
	}
	e.logger.Info("parameters loaded",
		"parameters", report.Parameters,
		"edges", report.Edges,
		"warnings", len(report.Warnings),
		"has_cycle", report.Cycles.HasCycle)
	return report, nil
}

// Loaded reports whether Load has succeeded at least once.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph != nil
}

// Begin issues a compute ticket. Results for earlier tickets become stale.
func (e *Engine) Begin(inputs map[string]float64) (propagation.Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return propagation.Ticket{}, ErrNotLoaded
	}
	return e.cache.Begin(inputs), nil
}

// Complete merges the computed values of ticket t. A stale ticket is
// discarded with propagation.ErrStaleResult.
func (e *Engine) Complete(t propagation.Ticket, computed model.ComputedMap) (*propagation.MergeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return nil, ErrNotLoaded
	}
	res, err := e.cache.MergeTicket(t, computed)
	if err != nil {
		e.logger.Warn("discarding compute result", "sequence", t.Sequence, "latest", e.cache.Latest(), "error", err)
		return nil, err
	}
	if len(res.Unknown) > 0 {
		e.logger.Warn("computed values for unknown parameters", "ids", res.Unknown)
	}
	return res, nil
}

// Fail records that the request of ticket t failed as a whole: every
// parameter keeps its value and carries the error.
func (e *Engine) Fail(t propagation.Ticket, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return ErrNotLoaded
	}
	return e.cache.FailTicket(t, cause.Error())
}

// Recompute runs calc over the current snapshot and merges the result. The
// lock is not held while calc runs; a newer Recompute started meanwhile wins
// and this one returns propagation.ErrStaleResult.
func (e *Engine) Recompute(ctx context.Context, calc compute.Calculator, inputs map[string]float64, source []byte) (*Result, error) {
	e.mu.Lock()
	if e.cache == nil {
		e.mu.Unlock()
		return nil, ErrNotLoaded
	}
	t := e.cache.Begin(inputs)
	snapshot := clones(e.store.Parameters())
	e.mu.Unlock()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	values, err := calc.Compute(ctx, &compute.Request{Parameters: snapshot, Inputs: inputs, Source: source})
	if err != nil {
		cause := fmt.Errorf("computing values: %w", err)
		if ferr := e.Fail(t, cause); ferr != nil && !errors.Is(ferr, propagation.ErrStaleResult) {
			return nil, ferr
		}
		return nil, cause
	}

	merge, err := e.Complete(t, values)
	if err != nil {
		return nil, err
	}
	return &Result{Ticket: t, Merge: merge, Values: values}, nil
}

// Sequence returns the latest issued and the last applied ticket numbers.
func (e *Engine) Sequence() (latest, applied uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return 0, 0
	}
	return e.cache.Latest(), e.cache.Applied()
}

func clones(ps []*model.Parameter) []*model.Parameter {
	out := make([]*model.Parameter, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
