package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

// paramObject is the variable through which any parameter can be read by
// identifier: param["Total Cost"].
const paramObject = "param"

// Local evaluates formulas in-process as HCL expressions.
//
// A formula may name other parameters directly when their identifiers are
// valid HCL identifiers, or through the param object otherwise. Formulas of
// spreadsheet-extracted parameters may also use cell references, which are
// rewritten to the parameters on the referenced rows. The function table
// covers the common spreadsheet functions (SUM, AVERAGE, MIN, MAX, ABS,
// ROUND, SQRT, POWER, CEILING, FLOOR, IF, AND, OR, NOT, CONCAT, ...).
type Local struct {
	logger *slog.Logger
}

// NewLocal returns a local calculator.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{logger: logger}
}

// Compute evaluates every formula in dependency order and returns a value
// for every parameter. Overridden inputs take the override verbatim.
// Formulas on or behind a cycle, or depending on a failed formula, keep their
// current value and carry an error.
func (l *Local) Compute(ctx context.Context, req *Request) (model.ComputedMap, error) {
	g := graph.Build(graph.Parameters(req.Parameters), graph.WithLogger(l.logger))

	byID := make(map[string]*model.Parameter, len(req.Parameters))
	values := make(map[string]cty.Value, len(req.Parameters))
	for _, p := range req.Parameters {
		if p == nil {
			continue
		}
		if _, dup := byID[p.ID]; dup {
			continue
		}
		byID[p.ID] = p
		values[p.ID] = toCty(p.Value)
	}
	for id, v := range req.Inputs {
		if _, ok := byID[id]; !ok {
			l.logger.Debug("ignoring override for unknown parameter", "parameter", id)
			continue
		}
		values[id] = cty.NumberFloatVal(v)
	}

	loc := workbook.NewLocator(req.Parameters)
	out := make(model.ComputedMap, len(byID))
	failed := make(map[string]bool)
	fail := func(p *model.Parameter, msg string) {
		out[p.ID] = model.ComputedValue{Value: p.Value, Error: msg}
		failed[p.ID] = true
	}

	for _, id := range g.TopologicalOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := byID[id]
		if v, ok := req.Inputs[id]; ok {
			out[id] = model.ComputedValue{Value: model.Number(v)}
			continue
		}
		if strings.TrimSpace(p.Formula) == "" {
			out[id] = model.ComputedValue{Value: p.Value}
			continue
		}

		node, _ := g.Node(id)
		if node.InCycle {
			fail(p, "circular dependency")
			continue
		}
		if g.HasCycle(id) {
			fail(p, "depends on a circular dependency")
			continue
		}
		if dep := firstFailed(g.Incoming(id), failed); dep != "" {
			fail(p, fmt.Sprintf("depends on failed parameter %q", dep))
			continue
		}

		v, err := evaluate(p, values, loc)
		if err != nil {
			fail(p, err.Error())
			continue
		}
		values[id] = toCty(v)
		out[id] = model.ComputedValue{Value: v}
	}

	l.logger.Debug("local compute finished", "parameters", len(out), "failed", len(failed))
	return out, nil
}

func firstFailed(ids []string, failed map[string]bool) string {
	for _, id := range ids {
		if failed[id] {
			return id
		}
	}
	return ""
}

// Evaluate evaluates a single formula against the given values, keyed by
// parameter identifier.
func Evaluate(formula string, values map[string]model.Value) (model.Value, error) {
	vs := make(map[string]cty.Value, len(values))
	for id, v := range values {
		vs[id] = toCty(v)
	}
	return evaluate(&model.Parameter{ID: "formula", Formula: formula}, vs, nil)
}

func evaluate(p *model.Parameter, values map[string]cty.Value, loc *workbook.Locator) (model.Value, error) {
	src := Translate(p.Formula, p.Sheet, loc)
	expr, diags := hclsyntax.ParseExpression([]byte(src), p.ID, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return model.Absent(), fmt.Errorf("parse error: %s", diagSummary(diags))
	}

	vars := map[string]cty.Value{
		"TRUE":  cty.True,
		"FALSE": cty.False,
	}
	obj := make(map[string]cty.Value)
	for _, tr := range expr.Variables() {
		root := tr.RootName()
		if root == paramObject {
			id, ok := traversalKey(tr)
			if !ok {
				// dynamic key: expose everything
				maps.Copy(obj, values)
				continue
			}
			if v, ok := values[id]; ok {
				obj[id] = v
			}
			continue
		}
		if v, ok := values[root]; ok {
			vars[root] = v
		}
	}
	vars[paramObject] = cty.ObjectVal(obj)

	v, diags := expr.Value(&hcl.EvalContext{Variables: vars, Functions: spreadsheetFunctions})
	if diags.HasErrors() {
		return model.Absent(), errors.New(diagSummary(diags))
	}
	return fromCty(v)
}

// traversalKey returns the key of param["key"] or param.key.
func traversalKey(tr hcl.Traversal) (string, bool) {
	if len(tr) < 2 {
		return "", false
	}
	switch step := tr[1].(type) {
	case hcl.TraverseIndex:
		if step.Key.Type() == cty.String && step.Key.IsKnown() && !step.Key.IsNull() {
			return step.Key.AsString(), true
		}
	case hcl.TraverseAttr:
		return step.Name, true
	}
	return "", false
}

func diagSummary(diags hcl.Diagnostics) string {
	parts := make([]string, 0, len(diags))
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		if d.Detail != "" {
			parts = append(parts, d.Summary+": "+d.Detail)
		} else {
			parts = append(parts, d.Summary)
		}
	}
	return strings.Join(parts, "; ")
}

func toCty(v model.Value) cty.Value {
	switch v.Kind() {
	case model.KindNumber:
		f, _ := v.Float()
		if math.IsNaN(f) {
			return cty.NullVal(cty.Number)
		}
		return cty.NumberFloatVal(f)
	case model.KindString:
		s, _ := v.Text()
		return cty.StringVal(s)
	}
	return cty.NumberIntVal(0)
}

func fromCty(v cty.Value) (model.Value, error) {
	if v.IsNull() || !v.IsKnown() {
		return model.Absent(), errors.New("formula produced no value")
	}
	switch v.Type() {
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInf() {
			return model.Absent(), errDivZero
		}
		f, _ := bf.Float64()
		return model.Number(f), nil
	case cty.String:
		return model.String(v.AsString()), nil
	case cty.Bool:
		return model.Number(boolFloat(v.True())), nil
	}
	return model.Absent(), fmt.Errorf("formula produced a %s, not a single value", v.Type().FriendlyName())
}
