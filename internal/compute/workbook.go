package compute

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

// Workbook recalculates the source spreadsheet itself: input overrides are
// written into their value cells and every formula cell is evaluated by the
// spreadsheet engine. The stored spreadsheet is never modified.
type Workbook struct {
	logger *slog.Logger
}

// NewWorkbook returns a spreadsheet calculator.
func NewWorkbook(logger *slog.Logger) *Workbook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workbook{logger: logger}
}

// Compute implements Calculator. It returns ErrNoSource when the request
// carries no spreadsheet.
func (w *Workbook) Compute(ctx context.Context, req *Request) (model.ComputedMap, error) {
	if len(req.Source) == 0 {
		return nil, ErrNoSource
	}
	f, err := excelize.OpenReader(bytes.NewReader(req.Source))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	g := graph.Build(graph.Parameters(req.Parameters), graph.WithLogger(w.logger))
	out := make(model.ComputedMap, g.Len())
	seen := make(map[string]bool, g.Len())

	var located []*model.Parameter
	for _, p := range req.Parameters {
		if p == nil || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		v, override := req.Inputs[p.ID]
		switch {
		case override && p.Sheet != "" && p.Row > 0:
			if err := f.SetCellValue(p.Sheet, workbook.ValueCell(p.Row), v); err != nil {
				return nil, fmt.Errorf("writing input %s: %w", p.ID, err)
			}
			out[p.ID] = model.ComputedValue{Value: model.Number(v)}
		case override:
			out[p.ID] = model.ComputedValue{Value: model.Number(v)}
		case p.Formula != "" && p.Sheet != "" && p.Row > 0:
			located = append(located, p)
		default:
			out[p.ID] = model.ComputedValue{Value: p.Value}
		}
	}

	for _, p := range located {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.HasCycle(p.ID) {
			out[p.ID] = model.ComputedValue{Value: p.Value, Error: "circular dependency"}
			continue
		}
		cell := workbook.ValueCell(p.Row)
		raw, err := f.CalcCellValue(p.Sheet, cell, excelize.Options{RawCellValue: true})
		if err != nil {
			w.logger.Warn("recalculation failed", "parameter", p.ID, "cell", p.Sheet+"!"+cell, "error", err)
			out[p.ID] = model.ComputedValue{Value: p.Value, Error: fmt.Sprintf("reading %s!%s: %v", p.Sheet, cell, err)}
			continue
		}
		out[p.ID] = model.ComputedValue{Value: model.ParseCellValue(raw)}
	}
	return out, nil
}
