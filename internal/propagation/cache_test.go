package propagation

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/params"
	"github.com/alfredjeanlab/paramgraph/internal/view"
)

type fixture struct {
	store *params.Store
	graph *graph.Graph
	sel   *view.Selector
	cache *Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := params.New(&model.Categories{
		Input:        []*model.Parameter{{ID: "A", Value: model.Number(2)}},
		Intermediate: []*model.Parameter{{ID: "B", Dependencies: []string{"A"}, Formula: "A*2"}},
		Output:       []*model.Parameter{{ID: "C", Dependencies: []string{"B"}, Formula: "B+1"}},
	})
	g := graph.Build(store, graph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	sel := view.NewSelector()
	sel.SetMode(g, view.ModeFocused)
	sel.Select(g, "C")
	return &fixture{store: store, graph: g, sel: sel, cache: New(store, g, sel)}
}

func TestMerge_ScenarioABC(t *testing.T) {
	f := newFixture(t)
	res := f.cache.Merge(model.ComputedMap{
		"A": {Value: model.Number(2)},
		"B": {Value: model.Number(4)},
		"C": {Value: model.Number(5)},
	})
	if !reflect.DeepEqual(res.Applied, []string{"A", "B", "C"}) {
		t.Errorf("Applied = %v", res.Applied)
	}

	deps, _ := f.graph.DependenciesOf("C")
	if !reflect.DeepEqual(deps, []string{"B", "A"}) {
		t.Errorf("DependenciesOf(C) = %v", deps)
	}

	p := f.sel.Current()
	if !reflect.DeepEqual(p.NodeIDs(), []string{"A", "B", "C"}) {
		t.Errorf("projection nodes = %v", p.NodeIDs())
	}
	want := []model.Edge{{Source: "A", Target: "B"}, {Source: "B", Target: "C"}}
	if !reflect.DeepEqual(p.Edges, want) {
		t.Errorf("projection edges = %v", p.Edges)
	}
	for i, v := range []float64{2, 4, 5} {
		if p.Nodes[i].Value != model.Number(v) {
			t.Errorf("node %s value = %#v, want %v", p.Nodes[i].ID, p.Nodes[i].Value, v)
		}
	}
	if c, _ := f.store.Get("C"); c.Value != model.Number(5) {
		t.Errorf("store C = %#v", c.Value)
	}
}

func TestMerge_PartialFailureKeepsSiblings(t *testing.T) {
	f := newFixture(t)
	res := f.cache.Merge(model.ComputedMap{
		"B": {Value: model.Number(4)},
		"C": {Value: model.Number(0), Error: "#DIV/0!"},
		"Z": {Value: model.Number(1)},
	})
	if !reflect.DeepEqual(res.Failed, []string{"C"}) || !reflect.DeepEqual(res.Unknown, []string{"Z"}) {
		t.Errorf("result = %+v", res)
	}
	b, _ := f.graph.Node("B")
	c, _ := f.graph.Node("C")
	if b.Value != model.Number(4) || b.Error != "" {
		t.Errorf("B = %+v", b)
	}
	if c.Error != "#DIV/0!" {
		t.Errorf("C = %+v", c)
	}
}

func TestMerge_DisjointSubsetsCommute(t *testing.T) {
	a := newFixture(t)
	a.cache.Merge(model.ComputedMap{"A": {Value: model.Number(1)}})
	a.cache.Merge(model.ComputedMap{"B": {Value: model.Number(2)}})

	b := newFixture(t)
	b.cache.Merge(model.ComputedMap{"A": {Value: model.Number(1)}, "B": {Value: model.Number(2)}})

	if !reflect.DeepEqual(a.store.Categories(), b.store.Categories()) {
		t.Error("store state differs")
	}
	if !reflect.DeepEqual(a.graph.Nodes(), b.graph.Nodes()) {
		t.Error("graph annotations differ")
	}
}

func TestMergeTicket_LastRequestWins(t *testing.T) {
	f := newFixture(t)
	first := f.cache.Begin(map[string]float64{"A": 1})
	second := f.cache.Begin(map[string]float64{"A": 3})
	if second.Sequence <= first.Sequence {
		t.Fatalf("sequence did not grow: %d then %d", first.Sequence, second.Sequence)
	}

	res, err := f.cache.MergeTicket(second, model.ComputedMap{"A": {Value: model.Number(3)}})
	if err != nil {
		t.Fatalf("MergeTicket(second): %v", err)
	}
	if res.Sequence != second.Sequence {
		t.Errorf("Sequence = %d", res.Sequence)
	}

	// The older response arrives late and must be discarded.
	if _, err := f.cache.MergeTicket(first, model.ComputedMap{"A": {Value: model.Number(1)}}); !errors.Is(err, ErrStaleResult) {
		t.Fatalf("expected ErrStaleResult, got %v", err)
	}
	if a, _ := f.store.Get("A"); a.Value != model.Number(3) {
		t.Errorf("stale result leaked into store: %#v", a.Value)
	}
	if f.cache.Applied() != second.Sequence || f.cache.Latest() != second.Sequence {
		t.Errorf("Applied=%d Latest=%d", f.cache.Applied(), f.cache.Latest())
	}
}

func TestContinueStalesPreviousTickets(t *testing.T) {
	prev := newFixture(t)
	first := prev.cache.Begin(nil)
	prev.cache.Begin(nil)

	next := newFixture(t)
	next.cache.Continue(prev.cache)
	latest := prev.cache.Latest()
	for _, tk := range []Ticket{first, {Sequence: latest}} {
		if _, err := next.cache.MergeTicket(tk, model.ComputedMap{"A": {Value: model.Number(9)}}); !errors.Is(err, ErrStaleResult) {
			t.Errorf("MergeTicket(seq %d) err = %v, want ErrStaleResult", tk.Sequence, err)
		}
	}
	if tk := next.cache.Begin(nil); tk.Sequence <= latest {
		t.Errorf("Begin after Continue = %d, want > %d", tk.Sequence, latest)
	}

	fresh := newFixture(t)
	fresh.cache.Continue(nil)
	if fresh.cache.Latest() != 0 {
		t.Errorf("Continue(nil) moved the sequence to %d", fresh.cache.Latest())
	}
}

func TestFailTicket(t *testing.T) {
	f := newFixture(t)
	stale := f.cache.Begin(nil)
	tk := f.cache.Begin(nil)
	if err := f.cache.FailTicket(stale, "timeout"); !errors.Is(err, ErrStaleResult) {
		t.Fatalf("expected ErrStaleResult, got %v", err)
	}
	if err := f.cache.FailTicket(tk, "calculator unreachable"); err != nil {
		t.Fatal(err)
	}
	for _, n := range f.graph.Nodes() {
		if n.Error != "calculator unreachable" {
			t.Errorf("%s error = %q", n.ID, n.Error)
		}
	}
	if a, _ := f.store.Get("A"); a.Value != model.Number(2) {
		t.Errorf("values must survive a failed request, got %#v", a.Value)
	}
}
