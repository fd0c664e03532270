package compute

import (
	"strings"

	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

// Translate rewrites a spreadsheet formula into an HCL expression.
//
// A leading "=" is dropped, "<>" becomes "!=" and a lone "=" becomes "==".
// Spreadsheet string literals ("a""b") become HCL strings. When sheet is set
// and loc is not nil, cell references resolving to parameters become
// param["id"], and ranges become tuples of the parameters they cover.
// References that resolve to nothing are left as written.
func Translate(formula, sheet string, loc *workbook.Locator) string {
	formula = strings.TrimSpace(formula)
	formula = strings.TrimPrefix(formula, "=")

	var refs []workbook.Reference
	if sheet != "" && loc != nil {
		refs = workbook.ScanReferences(formula)
	}

	var b strings.Builder
	b.Grow(len(formula) + 16)
	for i := 0; i < len(formula); {
		for len(refs) > 0 && refs[0].Start < i {
			refs = refs[1:]
		}
		if len(refs) > 0 && refs[0].Start == i {
			ref := refs[0]
			refs = refs[1:]
			b.WriteString(translateRef(ref, sheet, loc))
			i = ref.End
			continue
		}

		c := formula[i]
		switch {
		case c == '"':
			i = copyLiteral(&b, formula, i)
		case c == '<' && i+1 < len(formula) && formula[i+1] == '>':
			b.WriteString("!=")
			i += 2
		case c == '=':
			prev := byte(0)
			if i > 0 {
				prev = formula[i-1]
			}
			if prev != '<' && prev != '>' && prev != '!' && prev != '=' &&
				(i+1 >= len(formula) || formula[i+1] != '=') {
				b.WriteString("==")
			} else {
				b.WriteByte(c)
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func translateRef(ref workbook.Reference, sheet string, loc *workbook.Locator) string {
	ids := loc.Resolve(ref, sheet)
	if len(ids) == 0 {
		return ref.Text
	}
	if !ref.IsRange() {
		return paramRef(ids[0])
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = paramRef(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func paramRef(id string) string {
	return paramObject + "[" + quote(id) + "]"
}

// copyLiteral copies the spreadsheet string literal starting at s[i] as an
// HCL string and returns the index after it.
func copyLiteral(b *strings.Builder, s string, i int) int {
	var lit strings.Builder
	j := i + 1
	for j < len(s) {
		if s[j] == '"' {
			if j+1 < len(s) && s[j+1] == '"' {
				lit.WriteByte('"')
				j += 2
				continue
			}
			j++
			break
		}
		lit.WriteByte(s[j])
		j++
	}
	b.WriteString(quote(lit.String()))
	return j
}

// quote returns s as an HCL quoted string. Template sequences are escaped so
// the result is always a literal.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '$', '%':
			b.WriteByte(c)
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
