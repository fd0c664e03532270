package workbook

import (
	"bytes"
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Annotation column headers written by Optimize.
const (
	DependencyHeader = "Dependencies"
	FormulaHeader    = "Formula"
)

// Row fills by category. Parameters on a cycle use circularFill.
var categoryFills = map[model.Category]string{
	model.CategoryInput:        "ADD8E6",
	model.CategoryOutput:       "F08080",
	model.CategoryIntermediate: "90EE90",
}

const circularFill = "FFD700"

// Consolidation records how Consolidate merged and renamed parameters that
// share a name.
type Consolidation struct {
	Replaced []Replacement `json:"replaced,omitempty"`
	Renamed  []Rename      `json:"renamed,omitempty"`

	removed  map[string][]int      // sheet -> removed rows, ascending
	redirect map[location]location // removed row -> row of its replacement
}

type location struct {
	sheet string
	row   int
}

// Replacement is a parameter row removed in favor of another row with the
// same name and value.
type Replacement struct {
	ID     string `json:"id"` // before consolidation
	Sheet  string `json:"sheet"`
	Row    int    `json:"row"` // before consolidation
	Source string `json:"source"`
}

// Rename is a parameter renamed because another row with the same name
// holds a different value.
type Rename struct {
	ID    string `json:"id"`
	Sheet string `json:"sheet"`
	Row   int    `json:"row"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Empty reports whether nothing was merged or renamed.
func (c *Consolidation) Empty() bool {
	return c == nil || len(c.Replaced) == 0 && len(c.Renamed) == 0
}

// Consolidate merges parameters that share a name.
//
// Rows with the same name and value collapse into one, preferring a row
// without a formula. The other rows are removed and references to them
// point at the kept row. Rows with the same name but different values are
// renamed name_2, name_3 and so on in value order: numbers ascending, then
// strings, then absent values.
//
// The result describes the workbook as it reads once the removed rows are
// deleted: rows below a removed row move up and formulas are rewritten to
// match. res itself is not modified.
func Consolidate(res *Result, opts ...Option) (*Result, *Consolidation) {
	o := newOptions(opts)
	ps := sheetOrder(res)
	c := &Consolidation{
		removed:  make(map[string][]int),
		redirect: make(map[location]location),
	}

	replacedBy := make(map[*model.Parameter]*model.Parameter)
	for _, group := range byName(ps) {
		for _, same := range byValue(group) {
			src := same[0]
			for _, p := range same {
				if p.Formula == "" && len(p.Dependencies) == 0 {
					src = p
					break
				}
			}
			for _, p := range same {
				if p != src {
					replacedBy[p] = src
				}
			}
		}
	}

	kept := make([]*model.Parameter, 0, len(ps))
	for _, p := range ps {
		src, ok := replacedBy[p]
		if !ok {
			kept = append(kept, p)
			continue
		}
		c.removed[p.Sheet] = append(c.removed[p.Sheet], p.Row)
		c.redirect[location{p.Sheet, p.Row}] = location{src.Sheet, src.Row}
	}

	var renamed []*model.Parameter
	from := make(map[*model.Parameter]string)
	for _, group := range byName(kept) {
		values := byValue(group)
		slices.SortStableFunc(values, func(a, b []*model.Parameter) int {
			return compareValues(a[0].Value, b[0].Value)
		})
		for i, same := range values[1:] {
			for _, p := range same {
				from[p] = p.Name
				p.Name = fmt.Sprintf("%s_%d", p.Name, i+2)
				renamed = append(renamed, p)
			}
		}
	}

	for _, p := range kept {
		if p.Formula != "" {
			p.Formula = c.RewriteFormula(p.Formula, p.Sheet)
		}
		p.Row = c.moved(p.Sheet, p.Row)
	}
	link(kept)

	for _, p := range ps {
		if src, ok := replacedBy[p]; ok {
			c.Replaced = append(c.Replaced, Replacement{ID: p.ID, Sheet: p.Sheet, Row: p.Row, Source: src.ID})
		}
	}
	for _, p := range renamed {
		c.Renamed = append(c.Renamed, Rename{ID: p.ID, Sheet: p.Sheet, Row: p.Row, From: from[p], To: p.Name})
	}

	out := &Result{
		Categories:   graph.Build(graph.Parameters(kept), graph.WithLogger(o.logger)).Categorize(kept),
		Dependencies: records(kept),
		Sheets:       slices.Clone(res.Sheets),
		Skipped:      slices.Clone(res.Skipped),
	}
	if !c.Empty() {
		o.logger.Info("workbook consolidated", "replaced", len(c.Replaced), "renamed", len(c.Renamed))
	}
	return out, c
}

// sheetOrder returns copies of the parameters of res ordered by sheet, then
// row.
func sheetOrder(res *Result) []*model.Parameter {
	index := make(map[string]int, len(res.Sheets))
	for i, s := range res.Sheets {
		index[s] = i
	}
	position := func(p *model.Parameter) int {
		if i, ok := index[p.Sheet]; ok {
			return i
		}
		return len(res.Sheets)
	}
	var ps []*model.Parameter
	res.Categories.Each(func(_ model.Category, p *model.Parameter) {
		ps = append(ps, p.Clone())
	})
	slices.SortStableFunc(ps, func(a, b *model.Parameter) int {
		return cmp.Or(cmp.Compare(position(a), position(b)), cmp.Compare(a.Row, b.Row))
	})
	return ps
}

// byName groups the located parameters of ps sharing a name, in order of
// first appearance. Names used once are left out.
func byName(ps []*model.Parameter) [][]*model.Parameter {
	var names []string
	groups := make(map[string][]*model.Parameter)
	for _, p := range ps {
		if p.Sheet == "" || p.Row < firstDataRow {
			continue
		}
		if _, ok := groups[p.Name]; !ok {
			names = append(names, p.Name)
		}
		groups[p.Name] = append(groups[p.Name], p)
	}
	var out [][]*model.Parameter
	for _, n := range names {
		if len(groups[n]) > 1 {
			out = append(out, groups[n])
		}
	}
	return out
}

// byValue splits ps into runs of equal values, in order of first appearance.
func byValue(ps []*model.Parameter) [][]*model.Parameter {
	var out [][]*model.Parameter
	index := make(map[model.Value]int)
	for _, p := range ps {
		i, ok := index[p.Value]
		if !ok {
			i = len(out)
			index[p.Value] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], p)
	}
	return out
}

func compareValues(a, b model.Value) int {
	rank := func(v model.Value) int {
		switch v.Kind() {
		case model.KindNumber:
			return 0
		case model.KindString:
			return 1
		}
		return 2
	}
	if c := cmp.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	if x, ok := a.Float(); ok {
		y, _ := b.Float()
		return cmp.Compare(x, y)
	}
	x, _ := a.Text()
	y, _ := b.Text()
	return strings.Compare(x, y)
}

// moved returns where row of sheet ends up once the removed rows are
// deleted.
func (c *Consolidation) moved(sheet string, row int) int {
	n, _ := slices.BinarySearch(c.removed[sheet], row)
	return row - n
}

// movedEnd is moved for the last row of a range. A removed end row shrinks
// the range to the row above it.
func (c *Consolidation) movedEnd(sheet string, row int) int {
	n, found := slices.BinarySearch(c.removed[sheet], row)
	if found {
		n++
	}
	return row - n
}

func (c *Consolidation) isRemoved(sheet string, row int) bool {
	_, found := slices.BinarySearch(c.removed[sheet], row)
	return found
}

// RewriteFormula rewrites a formula written on sheet before consolidation
// so that it reads the same cells afterwards. A single cell on a removed
// row points at the row that replaced it. Other addresses follow their rows
// as they move up.
func (c *Consolidation) RewriteFormula(formula, sheet string) string {
	if c == nil || len(c.removed) == 0 {
		return formula
	}
	refs := ScanReferences(formula)
	if len(refs) == 0 {
		return formula
	}
	var b strings.Builder
	prev := 0
	for _, ref := range refs {
		b.WriteString(formula[prev:ref.Start])
		b.WriteString(c.rewriteRef(ref, sheet))
		prev = ref.End
	}
	b.WriteString(formula[prev:])
	return b.String()
}

func (c *Consolidation) rewriteRef(ref Reference, sheet string) string {
	target, prefix, cells := sheet, "", ref.Text
	if i := strings.LastIndexByte(ref.Text, '!'); i >= 0 {
		target, prefix, cells = ref.Sheet, ref.Text[:i+1], ref.Text[i+1:]
	}

	first, last, isRange := strings.Cut(cells, ":")
	if !isRange {
		row := cellRow(first)
		src, ok := c.redirect[location{target, row}]
		if !ok {
			return prefix + withRow(first, c.moved(target, row))
		}
		switch {
		case src.sheet == target && prefix != "":
		case src.sheet == sheet:
			prefix = ""
		default:
			prefix = quoteSheet(src.sheet) + "!"
		}
		return prefix + withRow(first, c.moved(src.sheet, src.row))
	}

	top, bottom := cellRow(first), cellRow(last)
	if top <= bottom {
		return prefix + withRow(first, c.moved(target, top)) + ":" + withRow(last, c.movedEnd(target, bottom))
	}
	return prefix + withRow(first, c.movedEnd(target, top)) + ":" + withRow(last, c.moved(target, bottom))
}

// withRow replaces the row number of a cell address, keeping its column and
// any $ markers.
func withRow(cell string, row int) string {
	i := strings.IndexAny(cell, "0123456789")
	if i < 0 {
		return cell
	}
	return cell[:i] + strconv.Itoa(row)
}

// quoteSheet formats a sheet name for use in a formula. Names of letters
// only are left bare.
func quoteSheet(name string) string {
	bare := name != ""
	for i := 0; i < len(name) && bare; i++ {
		ch := name[i]
		bare = ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
	}
	if bare {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// Optimized is a consolidated workbook.
type Optimized struct {
	*Result
	Consolidation *Consolidation `json:"consolidation,omitempty"`
	Workbook      []byte         `json:"-"`
}

// Optimize consolidates the workbook in data and returns the rewritten
// spreadsheet with its extraction.
//
// Removed rows are deleted, renamed parameters get their new name in
// column A and every formula is rewritten for the moved rows. Each
// parameter table is annotated: name, unit and value cells are filled by
// category, and two trailing columns give each parameter's dependencies
// and its formula in parameter names.
func Optimize(data []byte, opts ...Option) (*Optimized, error) {
	o := newOptions(opts)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	res, err := extract(f, o)
	if err != nil {
		return nil, err
	}
	out, c := Consolidate(res, opts...)
	if !c.Empty() {
		if err := c.apply(f, res); err != nil {
			return nil, fmt.Errorf("consolidating workbook: %w", err)
		}
	}
	if err := annotate(f, out); err != nil {
		return nil, fmt.Errorf("annotating workbook: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return &Optimized{Result: out, Consolidation: c, Workbook: buf.Bytes()}, nil
}

type formulaCell struct {
	sheet    string
	col, row int
	formula  string
}

// apply deletes the removed rows of f, renames parameters and rewrites
// every formula. res is the extraction f was read into.
func (c *Consolidation) apply(f *excelize.File, res *Result) error {
	cells, err := formulaCells(f, res)
	if err != nil {
		return err
	}

	for _, sheet := range slices.Sorted(maps.Keys(c.removed)) {
		rows := c.removed[sheet]
		for i := len(rows) - 1; i >= 0; i-- {
			if err := f.RemoveRow(sheet, rows[i]); err != nil {
				return fmt.Errorf("removing %s row %d: %w", sheet, rows[i], err)
			}
		}
	}
	for _, r := range c.Renamed {
		if err := f.SetCellStr(r.Sheet, "A"+strconv.Itoa(r.Row), r.To); err != nil {
			return fmt.Errorf("renaming %s: %w", r.From, err)
		}
	}

	for _, fc := range cells {
		if c.isRemoved(fc.sheet, fc.row) {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(fc.col, c.moved(fc.sheet, fc.row))
		if err != nil {
			return err
		}
		// clearing first drops any shared formula the cell belonged to
		if err := f.SetCellFormula(fc.sheet, cell, ""); err != nil {
			return fmt.Errorf("rewriting %s!%s: %w", fc.sheet, cell, err)
		}
		if err := f.SetCellFormula(fc.sheet, cell, c.RewriteFormula(fc.formula, fc.sheet)); err != nil {
			return fmt.Errorf("rewriting %s!%s: %w", fc.sheet, cell, err)
		}
	}
	return nil
}

// formulaCells lists every formula of f. GetRows drops trailing cells
// without a value, so the parameter columns and rows are always scanned.
func formulaCells(f *excelize.File, res *Result) ([]formulaCell, error) {
	lastRow := make(map[string]int)
	res.Categories.Each(func(_ model.Category, p *model.Parameter) {
		lastRow[p.Sheet] = max(lastRow[p.Sheet], p.Row)
	})

	var out []formulaCell
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
		}
		for r := 1; r <= max(len(rows), lastRow[sheet]); r++ {
			width := minColumns
			if r <= len(rows) {
				width = max(width, len(rows[r-1]))
			}
			for col := 1; col <= width; col++ {
				cell, err := excelize.CoordinatesToCellName(col, r)
				if err != nil {
					return nil, err
				}
				formula, err := f.GetCellFormula(sheet, cell)
				if err != nil {
					return nil, fmt.Errorf("reading formula %s!%s: %w", sheet, cell, err)
				}
				if formula != "" {
					out = append(out, formulaCell{sheet: sheet, col: col, row: r, formula: formula})
				}
			}
		}
	}
	return out, nil
}

// annotate fills parameter rows by category and writes the dependency and
// formula columns. A workbook annotated before reuses its columns.
func annotate(f *excelize.File, res *Result) error {
	fills := make(map[string]int)
	fill := func(color string) (int, error) {
		if id, ok := fills[color]; ok {
			return id, nil
		}
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		fills[color] = id
		return id, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	bySheet := make(map[string][]*model.Parameter)
	res.Categories.Each(func(_ model.Category, p *model.Parameter) {
		bySheet[p.Sheet] = append(bySheet[p.Sheet], p)
	})

	for _, sheet := range res.Sheets {
		depCol, reused, err := annotationColumn(f, sheet)
		if err != nil {
			return err
		}
		set := func(col, row int, v string, style int) error {
			cell, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return err
			}
			if err := f.SetCellStr(sheet, cell, v); err != nil {
				return err
			}
			if style == 0 {
				return nil
			}
			return f.SetCellStyle(sheet, cell, cell, style)
		}
		if err := set(depCol, 1, DependencyHeader, bold); err != nil {
			return err
		}
		if err := set(depCol+1, 1, FormulaHeader, bold); err != nil {
			return err
		}

		for _, p := range bySheet[sheet] {
			color := categoryFills[p.Category]
			if p.HasCircularDependency {
				color = circularFill
			}
			if color != "" {
				id, err := fill(color)
				if err != nil {
					return err
				}
				if err := f.SetCellStyle(sheet, "A"+strconv.Itoa(p.Row), ValueCell(p.Row), id); err != nil {
					return err
				}
			}
			if deps := strings.Join(p.DependencyNames, ", "); deps != "" || reused {
				if err := set(depCol, p.Row, deps, 0); err != nil {
					return err
				}
			}
			if p.FormulaDescription != "" || reused {
				if err := set(depCol+1, p.Row, p.FormulaDescription, 0); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// annotationColumn returns the column of the dependency annotations on
// sheet: the existing one if the header row has it, otherwise the first
// column past the data.
func annotationColumn(f *excelize.File, sheet string) (col int, reused bool, err error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, false, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}
	if len(rows) > 0 {
		if i := slices.Index(rows[0], DependencyHeader); i >= 0 {
			return i + 1, true, nil
		}
	}
	width := minColumns
	for _, r := range rows {
		width = max(width, len(r))
	}
	return width + 1, false, nil
}
