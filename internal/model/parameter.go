package model

import (
	"encoding/json"
	"fmt"
)

// Category classifies a parameter by its position in the dependency graph.
type Category string

const (
	CategoryInput        Category = "input"
	CategoryIntermediate Category = "intermediate"
	CategoryOutput       Category = "output"
	CategoryIndependent  Category = "independent"

	// CategoryUnknown is returned by lookups that find no owning category.
	// It is never stored on a parameter.
	CategoryUnknown Category = "unknown"
)

// AllCategories lists the storable categories in lookup priority order.
var AllCategories = []Category{CategoryInput, CategoryIntermediate, CategoryOutput, CategoryIndependent}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks whether the category is one of the four storable values.
func (c Category) IsValid() bool {
	switch c {
	case CategoryInput, CategoryIntermediate, CategoryOutput, CategoryIndependent:
		return true
	}
	return false
}

// Parameter is a named value in the dependency graph.
type Parameter struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Category              Category `json:"category,omitempty"`
	Unit                  string   `json:"unit,omitempty"`
	Value                 Value    `json:"value"`
	Dependencies          []string `json:"dependencies"`
	DependencyNames       []string `json:"dependency_names"`
	Formula               string   `json:"formula,omitempty"`
	FormulaDescription    string   `json:"formula_description"`
	Error                 string   `json:"error,omitempty"`
	Sheet                 string   `json:"sheet,omitempty"`
	Row                   int      `json:"row,omitempty"`
	HasCircularDependency bool     `json:"has_circular_dependency,omitempty"`
}

// parameterAliases maps alternative record keys, as produced by localized
// spreadsheet exports, onto the canonical JSON keys.
var parameterAliases = map[string]string{
	"标识符":   "id",
	"名称":    "name",
	"单位":    "unit",
	"值":     "value",
	"公式":    "formula",
	"公式描述":  "formula_description",
	"依赖":    "dependencies",
	"依赖描述":  "dependency_names",
	"有循环依赖": "has_circular_dependency",
	"工作表":   "sheet",
	"行":     "row",
}

// UnmarshalJSON decodes a parameter record, accepting localized key aliases.
// Canonical keys win over aliases when both are present.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode parameter: %w", err)
	}
	for alias, key := range parameterAliases {
		if v, ok := raw[alias]; ok {
			if _, exists := raw[key]; !exists {
				raw[key] = v
			}
			delete(raw, alias)
		}
	}
	canonical, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	type plain Parameter
	var out plain
	if err := json.Unmarshal(canonical, &out); err != nil {
		return fmt.Errorf("decode parameter: %w", err)
	}
	*p = Parameter(out)
	return nil
}

// Clone returns a deep copy of the parameter.
func (p *Parameter) Clone() *Parameter {
	c := *p
	if p.Dependencies != nil {
		c.Dependencies = append([]string(nil), p.Dependencies...)
	}
	if p.DependencyNames != nil {
		c.DependencyNames = append([]string(nil), p.DependencyNames...)
	}
	return &c
}

// Categories holds the four named parameter lists returned by a parameter fetch.
type Categories struct {
	Input        []*Parameter `json:"input_params"`
	Intermediate []*Parameter `json:"intermediate_params"`
	Output       []*Parameter `json:"output_params"`
	Independent  []*Parameter `json:"independent_params"`
}

// List returns the parameter list for the given category, or nil.
func (c *Categories) List(cat Category) []*Parameter {
	switch cat {
	case CategoryInput:
		return c.Input
	case CategoryIntermediate:
		return c.Intermediate
	case CategoryOutput:
		return c.Output
	case CategoryIndependent:
		return c.Independent
	}
	return nil
}

// Set replaces the parameter list for the given category.
func (c *Categories) Set(cat Category, list []*Parameter) {
	switch cat {
	case CategoryInput:
		c.Input = list
	case CategoryIntermediate:
		c.Intermediate = list
	case CategoryOutput:
		c.Output = list
	case CategoryIndependent:
		c.Independent = list
	}
}

// Each calls fn for every parameter in category priority order.
func (c *Categories) Each(fn func(cat Category, p *Parameter)) {
	for _, cat := range AllCategories {
		for _, p := range c.List(cat) {
			if p != nil {
				fn(cat, p)
			}
		}
	}
}

// Len returns the total number of parameters across all categories.
func (c *Categories) Len() int {
	return len(c.Input) + len(c.Intermediate) + len(c.Output) + len(c.Independent)
}

// Clone returns a deep copy of all four lists.
func (c *Categories) Clone() *Categories {
	out := &Categories{}
	for _, cat := range AllCategories {
		src := c.List(cat)
		if src == nil {
			continue
		}
		list := make([]*Parameter, 0, len(src))
		for _, p := range src {
			if p != nil {
				list = append(list, p.Clone())
			}
		}
		out.Set(cat, list)
	}
	return out
}

// Edge is a resolved dependency edge: Target's value depends on Source.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// DependencyRecord is the wire form of a dependency edge. Source and Target
// carry display names when known.
type DependencyRecord struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Source   string `json:"source,omitempty"`
	Target   string `json:"target,omitempty"`
}

// Edge returns the record's identifier pair.
func (r DependencyRecord) Edge() Edge {
	return Edge{Source: r.SourceID, Target: r.TargetID}
}

// ComputedValue is one entry of a compute result.
type ComputedValue struct {
	Value Value  `json:"value"`
	Error string `json:"error,omitempty"`
}

// ComputedMap maps parameter identifiers to freshly computed values.
type ComputedMap map[string]ComputedValue

// ChainNode is one node of a dependency-chain tree. IsCycle marks a
// dependency already present on the path from the root; it has no children.
type ChainNode struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Value    Value        `json:"value"`
	Unit     string       `json:"unit,omitempty"`
	IsCycle  bool         `json:"is_cycle,omitempty"`
	Children []*ChainNode `json:"children,omitempty"`
}

// ParameterDetail is the response of a parameter detail fetch.
type ParameterDetail struct {
	Parameter             *Parameter `json:"parameter"`
	Category              Category   `json:"category"`
	DependencyChain       *ChainNode `json:"dependency_chain,omitempty"`
	HasCircularDependency bool       `json:"has_circular_dependency"`
}
