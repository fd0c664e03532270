package graph

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/params"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

// param is shorthand for a parameter with dependencies.
func param(id string, deps ...string) *model.Parameter {
	return &model.Parameter{ID: id, Name: id, Dependencies: deps}
}

func build(ps ...*model.Parameter) *Graph {
	return Build(Parameters(ps), quiet)
}

func TestBuild_EdgesFollowDeclaredOrder(t *testing.T) {
	g := build(
		param("A"),
		param("B"),
		param("C", "B", "A"),
	)
	want := []model.Edge{{Source: "B", Target: "C"}, {Source: "A", Target: "C"}}
	if got := g.Edges(); !reflect.DeepEqual(got, want) {
		t.Errorf("Edges = %v, want %v", got, want)
	}
	if got := g.Incoming("C"); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Errorf("Incoming(C) = %v", got)
	}
	if got := g.Outgoing("A"); !reflect.DeepEqual(got, []string{"C"}) {
		t.Errorf("Outgoing(A) = %v", got)
	}
}

func TestBuild_DanglingDependencyDropped(t *testing.T) {
	g := build(param("A", "ghost"), param("B", "A"))
	if g.HasEdge("ghost", "A") {
		t.Error("dangling edge should be dropped")
	}
	if len(g.Edges()) != 1 {
		t.Errorf("Edges = %v", g.Edges())
	}
	ws := g.Warnings()
	if len(ws) != 1 || ws[0].Kind != WarnDanglingReference || ws[0].Source != "ghost" {
		t.Errorf("Warnings = %+v", ws)
	}
	deps, err := g.DependenciesOf("B")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(deps, []string{"A"}) {
		t.Errorf("DependenciesOf(B) = %v", deps)
	}
}

func TestBuild_DuplicateEdgesAndNodes(t *testing.T) {
	g := Build(Parameters{param("A"), param("B", "A", "A"), param("A")},
		WithEdges([]model.DependencyRecord{
			{SourceID: "A", TargetID: "B"},
			{SourceID: "B", TargetID: "nowhere"},
		}), quiet)
	if g.Len() != 2 {
		t.Errorf("Len = %d, want 2", g.Len())
	}
	if len(g.Edges()) != 1 {
		t.Errorf("Edges = %v", g.Edges())
	}
	var kinds []WarningKind
	for _, w := range g.Warnings() {
		kinds = append(kinds, w.Kind)
	}
	if !reflect.DeepEqual(kinds, []WarningKind{WarnDuplicateNode, WarnDanglingReference}) {
		t.Errorf("warning kinds = %v", kinds)
	}
}

func TestBuild_ExtraEdgesAppendedAfterDeclared(t *testing.T) {
	g := Build(Parameters{param("A"), param("B"), param("C", "B")},
		WithEdges([]model.DependencyRecord{{SourceID: "A", TargetID: "C"}}), quiet)
	if got := g.Incoming("C"); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Errorf("Incoming(C) = %v", got)
	}
}

func TestDependenciesOf(t *testing.T) {
	g := build(
		param("A"),
		param("B", "A"),
		param("X"),
		param("C", "B", "X"),
		param("D", "C", "A"),
	)
	for _, tc := range []struct {
		id   string
		want []string
	}{
		{"A", nil},
		{"B", []string{"A"}},
		{"C", []string{"B", "A", "X"}},
		{"D", []string{"C", "B", "A", "X"}},
	} {
		got, err := g.DependenciesOf(tc.id)
		if err != nil {
			t.Fatalf("DependenciesOf(%s): %v", tc.id, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("DependenciesOf(%s) = %v, want %v", tc.id, got, tc.want)
		}
	}

	dependents, _ := g.DependentsOf("A")
	if !reflect.DeepEqual(dependents, []string{"B", "C", "D"}) {
		t.Errorf("DependentsOf(A) = %v", dependents)
	}

	if _, err := g.DependenciesOf("nope"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestDependenciesOf_TwoNodeCycle(t *testing.T) {
	g := build(param("A", "B"), param("B", "A"))

	report := g.DetectCycles()
	if !report.HasCycle {
		t.Fatal("expected a cycle")
	}
	deps, err := g.DependenciesOf("A")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(deps, []string{"B"}) {
		t.Errorf("DependenciesOf(A) = %v, want [B]", deps)
	}
}

func TestDependenciesOf_NeverContainsSelf(t *testing.T) {
	g := build(param("A", "A", "B"), param("B", "C"), param("C", "A"))
	for _, id := range []string{"A", "B", "C"} {
		deps, _ := g.DependenciesOf(id)
		for _, d := range deps {
			if d == id {
				t.Errorf("DependenciesOf(%s) contains itself: %v", id, deps)
			}
		}
		if len(deps) != 2 {
			t.Errorf("DependenciesOf(%s) = %v, want the two other nodes", id, deps)
		}
	}
}

func TestDetectCycles_ThreeNodeCycle(t *testing.T) {
	// A→B→C→A: B depends on A, C on B, A on C.
	g := build(param("A", "C"), param("B", "A"), param("C", "B"), param("D", "C"), param("E"))
	r := g.DetectCycles()
	if !r.HasCycle {
		t.Fatal("expected HasCycle")
	}
	if len(r.Cycle) != 4 || r.Cycle[0] != r.Cycle[3] {
		t.Errorf("Cycle = %v, want a closed path of three nodes", r.Cycle)
	}
	if !reflect.DeepEqual(r.CyclicNodes, []string{"A", "B", "C"}) {
		t.Errorf("CyclicNodes = %v", r.CyclicNodes)
	}
	if !reflect.DeepEqual(r.Affected, []string{"A", "B", "C", "D"}) {
		t.Errorf("Affected = %v", r.Affected)
	}
	if !g.HasCycle("D") || g.HasCycle("E") {
		t.Error("HasCycle: D depends on the cycle, E does not")
	}
	if n, _ := g.Node("A"); !n.InCycle {
		t.Error("A should be marked InCycle")
	}
	if n, _ := g.Node("D"); n.InCycle {
		t.Error("D is affected but not on the cycle")
	}
}

func TestDetectCycles_Acyclic(t *testing.T) {
	g := build(param("A"), param("B", "A"), param("C", "A", "B"))
	r := g.DetectCycles()
	if r.HasCycle || len(r.Cycle) != 0 || len(r.Affected) != 0 {
		t.Errorf("unexpected cycle report: %+v", r)
	}
}

func TestDetectCycles_SelfLoop(t *testing.T) {
	g := build(param("A", "A"), param("B"))
	r := g.DetectCycles()
	if !r.HasCycle || !reflect.DeepEqual(r.Cycle, []string{"A", "A"}) {
		t.Errorf("report = %+v", r)
	}
	if !reflect.DeepEqual(r.CyclicNodes, []string{"A"}) {
		t.Errorf("CyclicNodes = %v", r.CyclicNodes)
	}
}

func TestDetectCycles_ReportIsCopy(t *testing.T) {
	g := build(param("A", "B"), param("B", "A"))
	r := g.DetectCycles()
	r.CyclicNodes[0] = "mutated"
	if g.DetectCycles().CyclicNodes[0] != "A" {
		t.Error("DetectCycles must not expose internal state")
	}
}

func TestChain(t *testing.T) {
	g := build(param("A", "C"), param("B", "A"), param("C", "B"), param("D", "C"))
	root, err := g.Chain("D", 0)
	if err != nil {
		t.Fatal(err)
	}
	// D -> C -> B -> A -> C(cycle)
	path := []string{}
	n := root
	for n != nil {
		path = append(path, n.ID)
		if n.IsCycle || len(n.Children) == 0 {
			if !n.IsCycle {
				t.Fatalf("chain ended without cycle marker at %s", n.ID)
			}
			break
		}
		n = n.Children[0]
	}
	if !reflect.DeepEqual(path, []string{"D", "C", "B", "A", "C"}) {
		t.Errorf("chain path = %v", path)
	}

	shallow, _ := g.Chain("D", 1)
	if len(shallow.Children) != 1 || len(shallow.Children[0].Children) != 0 {
		t.Errorf("depth 1 chain should stop below the first level: %+v", shallow)
	}

	if _, err := g.Chain("nope", 0); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestTopologicalOrder(t *testing.T) {
	g := build(param("C", "B"), param("B", "A"), param("A"), param("X", "Y"), param("Y", "X"), param("Z"))
	got := g.TopologicalOrder()
	want := []string{"A", "B", "C", "Z", "X", "Y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopologicalOrder = %v, want %v", got, want)
	}
}

func TestAnnotate(t *testing.T) {
	g := build(param("A"), param("B", "A"))
	before := g.Edges()
	if !g.Annotate("A", model.Number(3), "boom") {
		t.Fatal("Annotate(A) = false")
	}
	if g.Annotate("ghost", model.Number(1), "") {
		t.Error("Annotate(ghost) = true")
	}
	n, _ := g.Node("A")
	if n.Value != model.Number(3) || n.Error != "boom" {
		t.Errorf("node = %+v", n)
	}
	if !reflect.DeepEqual(before, g.Edges()) {
		t.Error("Annotate must not change topology")
	}
}

func TestBuild_FromParameterStore(t *testing.T) {
	s := params.New(&model.Categories{
		Input:        []*model.Parameter{{ID: "A", Value: model.Number(2)}},
		Intermediate: []*model.Parameter{{ID: "B", Dependencies: []string{"A"}, Formula: "A*2"}},
		Output:       []*model.Parameter{{ID: "C", Dependencies: []string{"B"}, Formula: "B+1", Unit: "kg"}},
	})
	g := Build(s, quiet)
	recs := g.Records()
	want := []model.DependencyRecord{
		{SourceID: "A", TargetID: "B", Source: "A", Target: "B"},
		{SourceID: "B", TargetID: "C", Source: "B", Target: "C"},
	}
	if !reflect.DeepEqual(recs, want) {
		t.Errorf("Records = %+v", recs)
	}
	c, _ := g.Node("C")
	if c.Category != model.CategoryOutput || c.Unit != "kg" || c.Value != model.Number(0) {
		t.Errorf("node C = %+v", c)
	}
}

func TestCategorize(t *testing.T) {
	ps := []*model.Parameter{
		param("in"),
		param("mid", "in"),
		param("out", "mid"),
		param("alone"),
		param("x", "y"),
		param("y", "x"),
	}
	cats := Categorize(ps, quiet)
	ids := func(list []*model.Parameter) []string {
		var out []string
		for _, p := range list {
			out = append(out, p.ID)
		}
		return out
	}
	if got := ids(cats.Input); !reflect.DeepEqual(got, []string{"in"}) {
		t.Errorf("Input = %v", got)
	}
	if got := ids(cats.Intermediate); !reflect.DeepEqual(got, []string{"mid", "x", "y"}) {
		t.Errorf("Intermediate = %v", got)
	}
	if got := ids(cats.Output); !reflect.DeepEqual(got, []string{"out"}) {
		t.Errorf("Output = %v", got)
	}
	if got := ids(cats.Independent); !reflect.DeepEqual(got, []string{"alone"}) {
		t.Errorf("Independent = %v", got)
	}
	if !ps[4].HasCircularDependency || ps[1].HasCircularDependency {
		t.Error("HasCircularDependency should be set only on cyclic parameters")
	}
}
