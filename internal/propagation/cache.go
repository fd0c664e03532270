// Package propagation merges computed values into the parameter store and
// keeps the graph's node annotations and the active projection in step.
package propagation

import (
	"errors"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/params"
	"github.com/alfredjeanlab/paramgraph/internal/view"
)

// ErrStaleResult is returned when a compute result arrives after a newer
// request was issued. The result is discarded.
var ErrStaleResult = errors.New("compute result superseded by a newer request")

// Ticket identifies one compute request. Sequence numbers grow strictly.
type Ticket struct {
	Sequence uint64             `json:"sequence"`
	Inputs   map[string]float64 `json:"inputs,omitempty"`
	IssuedAt time.Time          `json:"issued_at"`
}

// MergeResult reports the effect of one merge.
type MergeResult struct {
	Sequence uint64           `json:"sequence"`
	Applied  []string         `json:"applied"`
	Failed   []string         `json:"failed,omitempty"`
	Unknown  []string         `json:"unknown,omitempty"`
	Dirty    []model.Category `json:"dirty,omitempty"`
}

// Cache is the value propagation cache of one loaded graph. It is not safe
// for concurrent use.
type Cache struct {
	store    *params.Store
	graph    *graph.Graph
	selector *view.Selector

	issued  uint64
	applied uint64
}

// New returns a cache writing into store, annotating g and refreshing the
// projection held by sel. sel may be nil.
func New(store *params.Store, g *graph.Graph, sel *view.Selector) *Cache {
	return &Cache{store: store, graph: g, selector: sel}
}

// Continue carries prev's sequence numbers into c, which replaces prev
// after a reload. One number is skipped so that every ticket prev issued
// is stale against c, including the newest one.
func (c *Cache) Continue(prev *Cache) {
	if prev == nil {
		return
	}
	c.issued = prev.issued + 1
	c.applied = prev.applied
}

// Begin issues a new request ticket. Any result for an earlier ticket
// becomes stale.
func (c *Cache) Begin(inputs map[string]float64) Ticket {
	c.issued++
	return Ticket{Sequence: c.issued, Inputs: inputs, IssuedAt: time.Now().UTC()}
}

// Latest returns the sequence number of the newest issued ticket.
func (c *Cache) Latest() uint64 { return c.issued }

// Applied returns the sequence number of the last merged ticket.
func (c *Cache) Applied() uint64 { return c.applied }

// Current reports whether t is still the newest request.
func (c *Cache) Current(t Ticket) bool { return t.Sequence == c.issued }

// Merge writes computed values into the store, then re-annotates the graph
// nodes and the active projection. Values change; topology does not. A
// per-identifier error never rolls back sibling values.
func (c *Cache) Merge(computed model.ComputedMap) *MergeResult {
	res := c.store.ApplyComputedValues(computed)
	for _, id := range res.Applied {
		if p, ok := c.store.Get(id); ok {
			c.graph.Annotate(id, p.Value, p.Error)
		}
	}
	if c.selector != nil {
		c.selector.Refresh(c.graph)
	}
	return &MergeResult{
		Applied: res.Applied,
		Failed:  res.Failed,
		Unknown: res.Unknown,
		Dirty:   res.Dirty,
	}
}

// MergeTicket merges computed only if t is still the newest request.
func (c *Cache) MergeTicket(t Ticket, computed model.ComputedMap) (*MergeResult, error) {
	if !c.Current(t) {
		return nil, ErrStaleResult
	}
	res := c.Merge(computed)
	res.Sequence = t.Sequence
	c.applied = t.Sequence
	return res, nil
}

// FailTicket records a whole-request failure by attaching msg to every
// parameter, unless t is stale.
func (c *Cache) FailTicket(t Ticket, msg string) error {
	if !c.Current(t) {
		return ErrStaleResult
	}
	c.store.FailAll(msg)
	for _, p := range c.store.Parameters() {
		c.graph.Annotate(p.ID, p.Value, p.Error)
	}
	if c.selector != nil {
		c.selector.Refresh(c.graph)
	}
	c.applied = t.Sequence
	return nil
}
