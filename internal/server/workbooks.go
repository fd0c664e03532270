package server

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/engine"
	"github.com/alfredjeanlab/paramgraph/internal/events"
	"github.com/alfredjeanlab/paramgraph/internal/idgen"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/propagation"
	"github.com/alfredjeanlab/paramgraph/internal/store"
	"github.com/alfredjeanlab/paramgraph/internal/view"
	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

// createResponse is returned when a workbook is created.
type createResponse struct {
	Workbook      *model.Workbook         `json:"workbook"`
	Report        *engine.LoadReport      `json:"report"`
	Consolidation *workbook.Consolidation `json:"consolidation,omitempty"`
}

// createWorkbook validates and loads cats, persists the workbook and keeps
// the loaded engine as its session. wb is completed in place.
func (s *GraphServer) createWorkbook(ctx context.Context, wb *model.Workbook, cats *model.Categories, deps []model.DependencyRecord) (*createResponse, error) {
	if wb.Name == "" {
		return nil, inputError("name is required")
	}

	e := s.newEngine()
	report, err := e.Load(cats, deps)
	if err != nil {
		return nil, err
	}
	normalized, err := e.Parameters()
	if err != nil {
		return nil, err
	}

	id, err := idgen.Workbook()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	wb.ID = id
	wb.ParamCount = normalized.Len()
	wb.CreatedAt = now
	wb.UpdatedAt = now

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateWorkbook(ctx, wb); err != nil {
			return fmt.Errorf("create workbook: %w", err)
		}
		if err := tx.SaveParameters(ctx, wb.ID, normalized, deps); err != nil {
			return fmt.Errorf("save parameters: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sessionsMu.Lock()
	s.sessions[wb.ID] = &session{workbook: wb, engine: e}
	s.sessionsMu.Unlock()

	s.logger.Info("workbook created",
		"workbook_id", wb.ID,
		"name", wb.Name,
		"parameters", report.Parameters,
		"edges", report.Edges)

	s.publish(ctx, events.TopicWorkbookCreated, events.WorkbookCreated{
		Workbook: wb,
		Edges:    report.Edges,
		Warnings: len(report.Warnings),
	})
	if report.Cycles.HasCycle {
		s.logger.Warn("workbook has circular dependencies",
			"workbook_id", wb.ID, "cycle", report.Cycles.Cycle)
		s.publish(ctx, events.TopicCycleDetected, events.CycleDetected{
			WorkbookID: wb.ID,
			Cycles:     [][]string{report.Cycles.Cycle},
		})
	}
	s.changed()

	return &createResponse{Workbook: wb, Report: report}, nil
}

// uploadWorkbook extracts parameters from a spreadsheet and creates a
// workbook that keeps the spreadsheet for recalculation. Duplicated
// parameters are consolidated first and the optimized spreadsheet is kept;
// a spreadsheet that cannot be rewritten is kept as uploaded.
func (s *GraphServer) uploadWorkbook(ctx context.Context, name, filename string, data []byte) (*createResponse, error) {
	opt, err := workbook.Optimize(data, workbook.WithLogger(s.logger))
	if err != nil {
		res, xerr := workbook.ExtractBytes(data, workbook.WithLogger(s.logger))
		if xerr != nil {
			return nil, &extractError{err: xerr}
		}
		s.logger.Warn("keeping workbook unoptimized", "file", filename, "error", err)
		opt = &workbook.Optimized{Result: res, Workbook: data}
	}
	if opt.Categories.Len() == 0 {
		return nil, &extractError{err: fmt.Errorf("no parameters found in %s", filename)}
	}
	wb := &model.Workbook{
		Name:       name,
		SourceFile: filename,
		Sheets:     opt.Sheets,
		Source:     opt.Workbook,
	}
	resp, err := s.createWorkbook(ctx, wb, opt.Categories, opt.Dependencies)
	if err != nil {
		return nil, err
	}
	if !opt.Consolidation.Empty() {
		resp.Consolidation = opt.Consolidation
	}
	return resp, nil
}

func (s *GraphServer) deleteWorkbook(ctx context.Context, id string) error {
	if err := s.store.DeleteWorkbook(ctx, id); err != nil {
		return err
	}
	s.evict(id)
	s.logger.Info("workbook deleted", "workbook_id", id)
	s.publish(ctx, events.TopicWorkbookDeleted, events.WorkbookDeleted{WorkbookID: id})
	s.changed()
	return nil
}

// calculatedValue is one entry of a calculate response.
type calculatedValue struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Value model.Value `json:"value"`
	Unit  string      `json:"unit,omitempty"`
	Error string      `json:"error,omitempty"`
}

// calculateResponse is the result of one calculate call.
type calculateResponse struct {
	CalculatedValues map[string]calculatedValue `json:"calculated_values"`
	Sequence         uint64                     `json:"sequence"`
	Applied          []string                   `json:"applied"`
	Failed           []string                   `json:"failed,omitempty"`
	Unknown          []string                   `json:"unknown,omitempty"`
}

// calculate runs a compute request against the workbook's session and merges
// the result. Every request that is not superseded is recorded in the
// computation history.
func (s *GraphServer) calculate(ctx context.Context, id string, inputs map[string]float64) (*calculateResponse, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := sess.engine.Recompute(ctx, s.calculator, inputs, sess.workbook.Source)
	if err != nil {
		if classify(err) == kindConflict {
			return nil, err
		}
		latest, _ := sess.engine.Sequence()
		s.recordComputation(ctx, &model.Computation{
			WorkbookID: id,
			Sequence:   latest,
			Inputs:     inputs,
			Error:      err.Error(),
		})
		s.publish(ctx, events.TopicValuesComputed, events.ValuesComputed{
			WorkbookID: id,
			Sequence:   latest,
			Error:      err.Error(),
		})
		return nil, err
	}

	resp := &calculateResponse{
		CalculatedValues: make(map[string]calculatedValue, len(res.Values)),
		Sequence:         res.Merge.Sequence,
		Applied:          res.Merge.Applied,
		Failed:           res.Merge.Failed,
		Unknown:          res.Merge.Unknown,
	}
	for pid, cv := range res.Values {
		out := calculatedValue{ID: pid, Name: pid, Value: cv.Value, Error: cv.Error}
		if p, err := sess.engine.Parameter(pid); err == nil {
			out.Name = p.Name
			out.Unit = p.Unit
		}
		resp.CalculatedValues[pid] = out
	}

	s.recordComputation(ctx, &model.Computation{
		WorkbookID: id,
		Sequence:   res.Merge.Sequence,
		Inputs:     inputs,
		Applied:    len(res.Merge.Applied),
		Failed:     len(res.Merge.Failed),
	})
	s.publish(ctx, events.TopicValuesComputed, events.ValuesComputed{
		WorkbookID: id,
		Sequence:   res.Merge.Sequence,
		Applied:    len(res.Merge.Applied),
		Failed:     len(res.Merge.Failed),
		Values:     changedValues(res.Values, res.Merge),
	})
	return resp, nil
}

func (s *GraphServer) recordComputation(ctx context.Context, c *model.Computation) {
	c.CreatedAt = time.Now().UTC()
	if err := s.store.RecordComputation(ctx, c); err != nil {
		s.logger.Warn("failed to record computation",
			"workbook_id", c.WorkbookID, "sequence", c.Sequence, "error", err)
	}
}

// changedValues keeps the entries the merge applied or failed.
func changedValues(values model.ComputedMap, merge *propagation.MergeResult) model.ComputedMap {
	out := make(model.ComputedMap, len(merge.Applied)+len(merge.Failed))
	for id, cv := range values {
		if slices.Contains(merge.Applied, id) || slices.Contains(merge.Failed, id) {
			out[id] = cv
		}
	}
	return out
}

// viewRequest selects a projection. An empty Mode keeps the current mode and
// an empty Focus keeps the current selection unless Clear is set.
type viewRequest struct {
	WorkbookID string `json:"workbook_id,omitempty"`
	Mode       string `json:"mode"`
	Focus      string `json:"focus"`
	Clear      bool   `json:"clear"`
}

// project derives a projection without touching the session's selection.
func (s *GraphServer) project(ctx context.Context, req viewRequest) (*view.Projection, error) {
	sess, err := s.session(ctx, req.WorkbookID)
	if err != nil {
		return nil, err
	}
	if req.Mode == "" && req.Focus == "" {
		return sess.engine.Projection(), nil
	}
	// A focus without a mode means the focused view.
	mode := view.ModeFocused
	if req.Mode != "" {
		if mode, err = view.ParseMode(req.Mode); err != nil {
			return nil, inputError(err.Error())
		}
	}
	return sess.engine.Project(mode, req.Focus), nil
}

// selectView updates the session's mode and focal node. Switching modes
// alone keeps the selected node, so returning to dependencies mode focuses
// on it again.
func (s *GraphServer) selectView(ctx context.Context, req viewRequest) (*view.Projection, error) {
	sess, err := s.session(ctx, req.WorkbookID)
	if err != nil {
		return nil, err
	}
	if req.Clear && req.Focus != "" {
		return nil, inputError("focus and clear are mutually exclusive")
	}
	var p *view.Projection
	if req.Mode != "" {
		mode, err := view.ParseMode(req.Mode)
		if err != nil {
			return nil, inputError(err.Error())
		}
		p = sess.engine.SetMode(mode)
	}
	if req.Focus != "" || req.Clear {
		p = sess.engine.Select(req.Focus)
	}
	if p == nil {
		p = sess.engine.Projection()
	}

	s.publish(ctx, events.TopicViewChanged, events.ViewChanged{
		WorkbookID: req.WorkbookID,
		Mode:       string(p.Mode),
		State:      string(p.State),
		Focal:      p.Focal,
		Nodes:      len(p.Nodes),
	})
	return p, nil
}

// parameterDetail returns the detail record of one parameter.
func (s *GraphServer) parameterDetail(ctx context.Context, workbookID, id string) (*model.ParameterDetail, error) {
	if id == "" {
		return nil, inputError("parameter id is required")
	}
	sess, err := s.session(ctx, workbookID)
	if err != nil {
		return nil, err
	}
	return sess.engine.Detail(id)
}
