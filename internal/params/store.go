// Package params holds the canonical parameter records of one loaded workbook
// and applies computed values to them.
package params

import (
	"sort"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Normalize fills defaults on every parameter in place so later stages can
// rely on a canonical shape. Calling it again changes nothing.
//
//   - ID falls back to Name
//   - Dependencies and DependencyNames default to empty lists
//   - FormulaDescription falls back to Formula
//   - an absent Value becomes numeric zero
//   - Category is set to the owning list
func Normalize(c *model.Categories) {
	if c == nil {
		return
	}
	for _, cat := range model.AllCategories {
		list := c.List(cat)
		if list == nil {
			c.Set(cat, []*model.Parameter{})
			continue
		}
		for _, p := range list {
			if p == nil {
				continue
			}
			normalizeParameter(cat, p)
		}
	}
}

func normalizeParameter(cat model.Category, p *model.Parameter) {
	if p.ID == "" {
		p.ID = p.Name
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Dependencies == nil {
		p.Dependencies = []string{}
	}
	if p.DependencyNames == nil {
		p.DependencyNames = []string{}
	}
	if p.FormulaDescription == "" {
		p.FormulaDescription = p.Formula
	}
	if p.Value.IsAbsent() {
		p.Value = model.Number(0)
	}
	p.Category = cat
}

// Store is the Parameter Store: the authoritative holder of parameter values
// for one loaded graph. It is not safe for concurrent use; the owning engine
// serializes access.
type Store struct {
	cats  *model.Categories
	index map[string][]*model.Parameter
	dirty map[model.Category]bool
}

// New normalizes c and wraps it in a Store. The store takes ownership of c.
func New(c *model.Categories) *Store {
	if c == nil {
		c = &model.Categories{}
	}
	Normalize(c)
	s := &Store{
		cats:  c,
		index: make(map[string][]*model.Parameter, c.Len()),
		dirty: make(map[model.Category]bool),
	}
	c.Each(func(_ model.Category, p *model.Parameter) {
		s.index[p.ID] = append(s.index[p.ID], p)
	})
	return s
}

// ApplyResult reports what ApplyComputedValues changed.
type ApplyResult struct {
	Applied []string // identifiers whose value was written
	Failed  []string // identifiers that carry an error after the merge
	Unknown []string // identifiers not present in the store
	Dirty   []model.Category
}

// ApplyComputedValues writes each computed value verbatim into the matching
// parameter and sets or clears its error. Unknown identifiers are skipped.
// Identifiers are visited in sorted order so results are deterministic.
func (s *Store) ApplyComputedValues(values model.ComputedMap) *ApplyResult {
	res := &ApplyResult{}
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	touched := make(map[model.Category]bool)
	for _, id := range ids {
		cv := values[id]
		records, ok := s.index[id]
		if !ok {
			res.Unknown = append(res.Unknown, id)
			continue
		}
		for _, p := range records {
			p.Value = cv.Value
			p.Error = cv.Error
			touched[p.Category] = true
		}
		res.Applied = append(res.Applied, id)
		if cv.Error != "" {
			res.Failed = append(res.Failed, id)
		}
	}

	for _, cat := range model.AllCategories {
		if touched[cat] {
			s.dirty[cat] = true
			res.Dirty = append(res.Dirty, cat)
		}
	}
	return res
}

// FailAll attaches err to every parameter without touching values. It is
// used when a compute request fails as a whole.
func (s *Store) FailAll(err string) {
	s.cats.Each(func(cat model.Category, p *model.Parameter) {
		p.Error = err
		s.dirty[cat] = true
	})
}

// FindCategory returns the category owning id, scanning Input, Intermediate,
// Output and then Independent; the first match wins.
func (s *Store) FindCategory(id string) model.Category {
	return FindCategory(s.cats, id)
}

// FindCategory is the store-less form of Store.FindCategory.
func FindCategory(c *model.Categories, id string) model.Category {
	if c == nil {
		return model.CategoryUnknown
	}
	for _, cat := range model.AllCategories {
		for _, p := range c.List(cat) {
			if p != nil && p.ID == id {
				return cat
			}
		}
	}
	return model.CategoryUnknown
}

// Get returns the first parameter with the given identifier in category
// priority order.
func (s *Store) Get(id string) (*model.Parameter, bool) {
	records := s.index[id]
	if len(records) == 0 {
		return nil, false
	}
	return records[0], true
}

// Has reports whether id names a stored parameter.
func (s *Store) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Parameters returns every stored parameter in category priority order.
func (s *Store) Parameters() []*model.Parameter {
	out := make([]*model.Parameter, 0, s.cats.Len())
	s.cats.Each(func(_ model.Category, p *model.Parameter) {
		out = append(out, p)
	})
	return out
}

// Categories returns a deep copy of the four lists.
func (s *Store) Categories() *model.Categories {
	return s.cats.Clone()
}

// Dirty returns the categories touched since the last ClearDirty, in
// priority order.
func (s *Store) Dirty() []model.Category {
	var out []model.Category
	for _, cat := range model.AllCategories {
		if s.dirty[cat] {
			out = append(out, cat)
		}
	}
	return out
}

// ClearDirty resets the dirty set after the collaborator has re-rendered.
func (s *Store) ClearDirty() {
	clear(s.dirty)
}

// Len returns the number of stored parameters.
func (s *Store) Len() int {
	return s.cats.Len()
}
