package compute

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func num(t *testing.T, m model.ComputedMap, id string) float64 {
	t.Helper()
	cv, ok := m[id]
	if !ok {
		t.Fatalf("no result for %q", id)
	}
	if cv.Error != "" {
		t.Fatalf("%s: unexpected error %q", id, cv.Error)
	}
	f, ok := cv.Value.Float()
	if !ok {
		t.Fatalf("%s: value %v is not a number", id, cv.Value)
	}
	return f
}

func chain() []*model.Parameter {
	return []*model.Parameter{
		{ID: "A", Name: "A", Value: model.Number(2)},
		{ID: "B", Name: "B", Dependencies: []string{"A"}, Formula: "A*2"},
		{ID: "C", Name: "C", Dependencies: []string{"B"}, Formula: "B+1"},
	}
}

func TestLocalComputeChain(t *testing.T) {
	calc := NewLocal(quietLogger())

	out, err := calc.Compute(context.Background(), &Request{Parameters: chain()})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for id, want := range map[string]float64{"A": 2, "B": 4, "C": 5} {
		if got := num(t, out, id); got != want {
			t.Errorf("%s = %v, want %v", id, got, want)
		}
	}

	out, err = calc.Compute(context.Background(), &Request{
		Parameters: chain(),
		Inputs:     map[string]float64{"A": 3, "ghost": 1},
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for id, want := range map[string]float64{"A": 3, "B": 6, "C": 7} {
		if got := num(t, out, id); got != want {
			t.Errorf("with override %s = %v, want %v", id, got, want)
		}
	}
	if _, ok := out["ghost"]; ok {
		t.Error("override for unknown parameter produced a result")
	}
}

func TestLocalComputeCycle(t *testing.T) {
	ps := []*model.Parameter{
		{ID: "X", Dependencies: []string{"Y"}, Formula: "Y+1", Value: model.Number(1)},
		{ID: "Y", Dependencies: []string{"X"}, Formula: "X+1", Value: model.Number(2)},
		{ID: "Z", Dependencies: []string{"X"}, Formula: "X*2", Value: model.Number(3)},
		{ID: "W", Formula: "1+1"},
	}
	out, err := NewLocal(quietLogger()).Compute(context.Background(), &Request{Parameters: ps})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for id, want := range map[string]string{
		"X": "circular dependency",
		"Y": "circular dependency",
		"Z": "depends on a circular dependency",
	} {
		cv := out[id]
		if cv.Error != want {
			t.Errorf("%s error = %q, want %q", id, cv.Error, want)
		}
	}
	if f, _ := out["Z"].Value.Float(); f != 3 {
		t.Errorf("Z kept value %v, want 3", out["Z"].Value)
	}
	if got := num(t, out, "W"); got != 2 {
		t.Errorf("W = %v, want 2", got)
	}
}

func TestLocalComputeFailedUpstream(t *testing.T) {
	ps := []*model.Parameter{
		{ID: "A", Value: model.Number(-1)},
		{ID: "B", Dependencies: []string{"A"}, Formula: "SQRT(A)", Value: model.Number(7)},
		{ID: "C", Dependencies: []string{"B"}, Formula: "B+1", Value: model.Number(8)},
	}
	out, err := NewLocal(quietLogger()).Compute(context.Background(), &Request{Parameters: ps})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if out["B"].Error == "" {
		t.Fatal("expected SQRT of a negative number to fail")
	}
	if f, _ := out["B"].Value.Float(); f != 7 {
		t.Errorf("B kept value %v, want 7", out["B"].Value)
	}
	if want := `depends on failed parameter "B"`; out["C"].Error != want {
		t.Errorf("C error = %q, want %q", out["C"].Error, want)
	}
}

func TestLocalComputeCellReferences(t *testing.T) {
	ps := []*model.Parameter{
		{ID: "Length", Sheet: "S", Row: 2, Value: model.Number(2)},
		{ID: "Width", Sheet: "S", Row: 3, Value: model.Number(3)},
		{ID: "Area", Sheet: "S", Row: 4, Dependencies: []string{"Length", "Width"}, Formula: "C2*C3"},
		{ID: "Total", Sheet: "S", Row: 5, Dependencies: []string{"Length", "Width"}, Formula: "SUM(C2:C3)"},
	}
	out, err := NewLocal(quietLogger()).Compute(context.Background(), &Request{
		Parameters: ps,
		Inputs:     map[string]float64{"Width": 5},
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := num(t, out, "Area"); got != 10 {
		t.Errorf("Area = %v, want 10", got)
	}
	if got := num(t, out, "Total"); got != 7 {
		t.Errorf("Total = %v, want 7", got)
	}
}

func TestLocalComputeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(quietLogger()).Compute(ctx, &Request{Parameters: chain()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEvaluateFunctions(t *testing.T) {
	values := map[string]model.Value{
		"a":          model.Number(2),
		"b":          model.Number(3),
		"Total Cost": model.Number(5),
		"label":      model.String("1:"),
	}
	tests := []struct {
		formula string
		want    model.Value
	}{
		{"=a*b", model.Number(6)},
		{"SUM(1, 2, 3)", model.Number(6)},
		{"sum(a, b)", model.Number(5)},
		{"AVERAGE(2, 4)", model.Number(3)},
		{"MIN(3, 1, 2)", model.Number(1)},
		{"MAX([1, 5], 2)", model.Number(5)},
		{"COUNT(1, 2, \"x\")", model.Number(2)},
		{"ABS(-2)", model.Number(2)},
		{"ROUND(2.5, 0)", model.Number(3)},
		{"ROUND(1234, -2)", model.Number(1200)},
		{"SQRT(16)", model.Number(4)},
		{"POWER(2, 10)", model.Number(1024)},
		{"CEILING(4.2)", model.Number(5)},
		{"CEILING(4.2, 0.5)", model.Number(4.5)},
		{"FLOOR(4.8, 2)", model.Number(4)},
		{"IF(a > 1, 10, 20)", model.Number(10)},
		{"IF(a = 2, 1, 0)", model.Number(1)},
		{"IF(0, 1)", model.Number(0)},
		{"a <> 2", model.Number(0)},
		{"AND(1, TRUE)", model.Number(1)},
		{"OR(FALSE, 0)", model.Number(0)},
		{"NOT(0)", model.Number(1)},
		{"CONCAT(label, 2.5)", model.String("1:2.5")},
		{`CONCAT("a""b", 1)`, model.String(`a"b1`)},
		{"UPPER(\"kn\")", model.String("KN")},
		{"LEN(\"abc\")", model.Number(3)},
		{`param["Total Cost"] * 2`, model.Number(10)},
		{`"${a}"`, model.String("${a}")},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := Evaluate(tt.formula, values)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.formula, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.formula, got, tt.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	values := map[string]model.Value{"a": model.Number(2)}
	tests := []struct {
		formula string
		want    string
	}{
		{"SQRT(-1)", "#NUM!"},
		{"1/0", ""},
		{"AVERAGE()", "#DIV/0!"},
		{"missing + 1", "Unknown variable"},
		{"a +", "parse error"},
		{"[1, 2]", "not a single value"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			_, err := Evaluate(tt.formula, values)
			if err == nil {
				t.Fatalf("Evaluate(%q) succeeded, want error", tt.formula)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Evaluate(%q) error = %q, want it to mention %q", tt.formula, err, tt.want)
			}
		})
	}
}
