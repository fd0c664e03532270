package workbook

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Reference is a cell or range reference found in a formula.
type Reference struct {
	Text     string `json:"text"`
	Start    int    `json:"start"` // byte offset in the formula
	End      int    `json:"end"`
	Sheet    string `json:"sheet,omitempty"` // empty means the formula's own sheet
	FirstRow int    `json:"first_row"`
	LastRow  int    `json:"last_row"`
}

// IsRange reports whether the reference spans more than one cell.
func (r Reference) IsRange() bool {
	return strings.Contains(r.Text, ":")
}

var refPattern = regexp.MustCompile(
	`(?:('(?:[^']|'')+'|[A-Za-z_][A-Za-z0-9_.]*)!)?` + // optional sheet
		`(\$?[A-Za-z]{1,3}\$?([0-9]+))` + // first cell
		`(?::(\$?[A-Za-z]{1,3}\$?([0-9]+)))?`, // optional range end
)

// ScanReferences returns the cell references of formula in order of
// appearance. Text inside string literals, function names such as LOG10 and
// identifiers that merely contain a cell-like suffix are not references.
func ScanReferences(formula string) []Reference {
	literals := stringLiterals(formula)
	var refs []Reference
	for _, m := range refPattern.FindAllStringSubmatchIndex(formula, -1) {
		start, end := m[0], m[1]
		if inSpans(literals, start) {
			continue
		}
		if start > 0 && isIdentByte(formula[start-1]) {
			continue
		}
		if end < len(formula) && (formula[end] == '(' || isIdentByte(formula[end])) {
			continue
		}

		first, err := strconv.Atoi(formula[m[6]:m[7]])
		if err != nil || first < 1 {
			continue
		}
		last := first
		if m[10] >= 0 {
			last, err = strconv.Atoi(formula[m[10]:m[11]])
			if err != nil || last < 1 {
				continue
			}
			if last < first {
				first, last = last, first
			}
		}

		var sheet string
		if m[2] >= 0 {
			sheet = unquoteSheet(formula[m[2]:m[3]])
		}
		refs = append(refs, Reference{
			Text:     formula[start:end],
			Start:    start,
			End:      end,
			Sheet:    sheet,
			FirstRow: first,
			LastRow:  last,
		})
	}
	return refs
}

func unquoteSheet(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// stringLiterals returns the [start, end) spans of double-quoted literals.
// A doubled quote inside a literal is an escaped quote.
func stringLiterals(s string) [][2]int {
	var spans [][2]int
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		j := i + 1
		for j < len(s) {
			if s[j] == '"' {
				if j+1 < len(s) && s[j+1] == '"' {
					j += 2
					continue
				}
				break
			}
			j++
		}
		spans = append(spans, [2]int{i, j + 1})
		i = j
	}
	return spans
}

func inSpans(spans [][2]int, pos int) bool {
	for _, sp := range spans {
		if pos >= sp[0] && pos < sp[1] {
			return true
		}
	}
	return false
}

// Locator maps spreadsheet rows to the parameters declared on them.
type Locator struct {
	rows  map[string]map[int]string // sheet -> row -> id
	names map[string]string         // id -> display name
}

// NewLocator indexes every parameter that carries a sheet and row.
func NewLocator(ps []*model.Parameter) *Locator {
	l := &Locator{
		rows:  make(map[string]map[int]string),
		names: make(map[string]string),
	}
	for _, p := range ps {
		if p == nil || p.Sheet == "" || p.Row < 1 {
			continue
		}
		l.Add(p.Sheet, p.Row, p.ID, p.Name)
	}
	return l
}

// Add records that the parameter id with the given name lives on row of
// sheet. The first parameter added for a row wins.
func (l *Locator) Add(sheet string, row int, id, name string) {
	byRow, ok := l.rows[sheet]
	if !ok {
		byRow = make(map[int]string)
		l.rows[sheet] = byRow
	}
	if _, taken := byRow[row]; !taken {
		byRow[row] = id
	}
	if _, ok := l.names[id]; !ok {
		l.names[id] = name
	}
}

// Lookup returns the parameter on row of sheet.
func (l *Locator) Lookup(sheet string, row int) (string, bool) {
	id, ok := l.rows[sheet][row]
	return id, ok
}

// Name returns the display name recorded for id.
func (l *Locator) Name(id string) string {
	if n, ok := l.names[id]; ok && n != "" {
		return n
	}
	return id
}

// Resolve returns the parameters ref points at when written in a formula on
// sheet, in row order. The header row never resolves.
func (l *Locator) Resolve(ref Reference, sheet string) []string {
	if ref.Sheet != "" {
		sheet = ref.Sheet
	}
	byRow := l.rows[sheet]
	if byRow == nil {
		return nil
	}
	var ids []string
	for r := max(ref.FirstRow, firstDataRow); r <= ref.LastRow; r++ {
		if id, ok := byRow[r]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Describe rewrites formula, which lives on row of sheet, for display: every
// cell address that resolves to another parameter is replaced by that
// parameter's name. Addresses on the formula's own row are kept. Range
// endpoints are replaced individually.
func (l *Locator) Describe(formula, sheet string, row int) string {
	refs := ScanReferences(formula)
	if len(refs) == 0 {
		return formula
	}
	var b strings.Builder
	prev := 0
	for _, ref := range refs {
		b.WriteString(formula[prev:ref.Start])
		b.WriteString(l.describeRef(ref, sheet, row))
		prev = ref.End
	}
	b.WriteString(formula[prev:])
	return b.String()
}

func (l *Locator) describeRef(ref Reference, sheet string, self int) string {
	target := sheet
	if ref.Sheet != "" {
		target = ref.Sheet
	}
	cells := []string{ref.Text}
	if i := strings.LastIndexByte(ref.Text, '!'); i >= 0 {
		cells[0] = ref.Text[i+1:]
	}
	cells = strings.SplitN(cells[0], ":", 2)
	rows := []int{ref.FirstRow, ref.LastRow}
	if len(cells) == 2 {
		// rows were swapped if the range was written bottom-up
		if cellRow(cells[0]) != ref.FirstRow {
			rows[0], rows[1] = rows[1], rows[0]
		}
	}

	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = cell
		if rows[i] < firstDataRow || target == sheet && rows[i] == self {
			continue
		}
		if id, ok := l.Lookup(target, rows[i]); ok {
			parts[i] = l.Name(id)
		}
	}
	return strings.Join(parts, ":")
}

func cellRow(cell string) int {
	i := strings.IndexAny(cell, "0123456789")
	if i < 0 {
		return 0
	}
	n, _ := strconv.Atoi(cell[i:])
	return n
}
