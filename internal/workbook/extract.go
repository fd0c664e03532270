// Package workbook extracts parameters and their formula dependencies from
// .xlsx spreadsheets.
//
// Every sheet is read as a parameter table: row 1 is a header, column A
// holds the parameter name, column B the unit and column C the value or
// formula. Formula cell references resolve to the parameters declared on
// the referenced rows.
package workbook

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
)

const (
	firstDataRow = 2
	minColumns   = 3

	// ValueColumn is the column holding parameter values and formulas.
	ValueColumn = "C"
)

// Result is the outcome of an extraction.
type Result struct {
	Categories   *model.Categories        `json:"parameters"`
	Dependencies []model.DependencyRecord `json:"dependencies"`
	Sheets       []string                 `json:"sheets"`
	Skipped      []string                 `json:"skipped_sheets,omitempty"`
}

// Option configures Extract, Consolidate and Optimize.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for extraction warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ValueCell returns the address of the value cell on row.
func ValueCell(row int) string {
	return ValueColumn + strconv.Itoa(row)
}

// Extract reads a workbook and returns its categorized parameters.
func Extract(r io.Reader, opts ...Option) (*Result, error) {
	o := newOptions(opts)

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	return extract(f, o)
}

// ExtractBytes is Extract over an in-memory workbook.
func ExtractBytes(data []byte, opts ...Option) (*Result, error) {
	return Extract(bytes.NewReader(data), opts...)
}

// ExtractFile reads the workbook at path.
func ExtractFile(path string, opts ...Option) (*Result, error) {
	o := newOptions(opts)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()

	return extract(f, o)
}

// row is one parameter row as read from a sheet.
type row struct {
	sheet string
	num   int
	name  string
	unit  string
	value string
}

func extract(f *excelize.File, o options) (*Result, error) {
	res := &Result{}
	var rows []row
	for _, sheet := range f.GetSheetList() {
		cells, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
		}
		width := 0
		for _, c := range cells {
			width = max(width, len(c))
		}
		if len(cells) < firstDataRow || width < minColumns {
			o.logger.Warn("skipping sheet without a parameter table", "sheet", sheet, "rows", len(cells), "columns", width)
			res.Skipped = append(res.Skipped, sheet)
			continue
		}
		res.Sheets = append(res.Sheets, sheet)
		for i := firstDataRow - 1; i < len(cells); i++ {
			r := row{sheet: sheet, num: i + 1}
			r.name = column(cells[i], 0)
			if r.name == "" {
				continue
			}
			r.unit = column(cells[i], 1)
			r.value = column(cells[i], 2)
			rows = append(rows, r)
		}
	}

	ps := make([]*model.Parameter, 0, len(rows))
	for _, r := range rows {
		p := &model.Parameter{
			Name:  r.name,
			Unit:  r.unit,
			Sheet: r.sheet,
			Row:   r.num,
			Value: model.ParseCellValue(r.value),
		}
		formula, err := f.GetCellFormula(r.sheet, ValueCell(r.num))
		if err != nil {
			return nil, fmt.Errorf("reading formula %s!%s: %w", r.sheet, ValueCell(r.num), err)
		}
		p.Formula = formula
		ps = append(ps, p)
	}
	link(ps)

	g := graph.Build(graph.Parameters(ps), graph.WithLogger(o.logger))
	res.Categories = g.Categorize(ps)

	// Formulas without a cached result, e.g. in a workbook never opened by a
	// spreadsheet application, are evaluated once here. Cells behind a cycle
	// are left absent.
	for _, p := range ps {
		if p.Formula == "" || !p.Value.IsAbsent() || g.HasCycle(p.ID) {
			continue
		}
		v, err := f.CalcCellValue(p.Sheet, ValueCell(p.Row))
		if err != nil {
			o.logger.Warn("formula has no cached value", "parameter", p.ID, "error", err)
			continue
		}
		p.Value = model.ParseCellValue(v)
	}
	res.Dependencies = records(ps)
	o.logger.Info("workbook extracted", "sheets", len(res.Sheets), "parameters", len(ps), "dependencies", len(res.Dependencies))
	return res, nil
}

// link assigns every parameter its id and resolves formula references
// against the rows the parameters live on. A name used on more than one row
// gets a sheet and row qualified id.
func link(ps []*model.Parameter) {
	seen := make(map[string]int, len(ps))
	for _, p := range ps {
		seen[p.Name]++
	}
	loc := &Locator{rows: make(map[string]map[int]string), names: make(map[string]string)}
	for _, p := range ps {
		p.ID = p.Name
		if seen[p.Name] > 1 {
			p.ID = fmt.Sprintf("%s_%s_r%d", p.Name, p.Sheet, p.Row)
		}
		loc.Add(p.Sheet, p.Row, p.ID, p.Name)
	}
	for _, p := range ps {
		p.Dependencies, p.DependencyNames, p.FormulaDescription = nil, nil, ""
		if p.Formula == "" {
			continue
		}
		p.FormulaDescription = loc.Describe(p.Formula, p.Sheet, p.Row)
		p.Dependencies, p.DependencyNames = dependencies(loc, p.Formula, p.Sheet, p.ID)
	}
}

// records lists the dependency edges of ps in parameter order.
func records(ps []*model.Parameter) []model.DependencyRecord {
	var out []model.DependencyRecord
	for _, p := range ps {
		for i, dep := range p.Dependencies {
			out = append(out, model.DependencyRecord{
				SourceID: dep,
				TargetID: p.ID,
				Source:   p.DependencyNames[i],
				Target:   p.Name,
			})
		}
	}
	return out
}

// dependencies resolves the references of formula, dropping the owning
// parameter itself and repeats. Order is first appearance.
func dependencies(loc *Locator, formula, sheet, self string) (ids, names []string) {
	ids, names = []string{}, []string{}
	seen := map[string]bool{self: true}
	for _, ref := range ScanReferences(formula) {
		for _, id := range loc.Resolve(ref, sheet) {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			names = append(names, loc.Name(id))
		}
	}
	return ids, names
}

func column(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}
