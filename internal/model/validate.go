package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateIdentifier is matched by validation errors caused by the same
// identifier appearing more than once across the category lists.
var ErrDuplicateIdentifier = errors.New("duplicate parameter identifier")

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
	err     error
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap exposes sentinel causes so callers can use errors.Is.
func (e *ValidationError) Unwrap() []error {
	var errs []error
	for _, fe := range e.Errors {
		if fe.err != nil {
			errs = append(errs, fe.err)
		}
	}
	return errs
}

// ValidateCategories checks a parameter fetch for structural violations.
// Identifiers (after falling back to the name) must be non-empty and unique
// across all four lists. It returns a *ValidationError, or nil.
func ValidateCategories(c *Categories) error {
	if c == nil {
		return &ValidationError{Errors: []FieldError{{Field: "parameters", Message: "is required"}}}
	}
	var ve ValidationError
	seen := make(map[string]string, c.Len())

	for _, cat := range AllCategories {
		for i, p := range c.List(cat) {
			field := fmt.Sprintf("%s[%d]", cat, i)
			if p == nil {
				ve.Errors = append(ve.Errors, FieldError{Field: field, Message: "is null"})
				continue
			}
			id := p.ID
			if id == "" {
				id = p.Name
			}
			if strings.TrimSpace(id) == "" {
				ve.Errors = append(ve.Errors, FieldError{Field: field + ".id", Message: "is required"})
				continue
			}
			if prev, ok := seen[id]; ok {
				ve.Errors = append(ve.Errors, FieldError{
					Field:   field + ".id",
					Message: fmt.Sprintf("%q already declared at %s", id, prev),
					err:     ErrDuplicateIdentifier,
				})
				continue
			}
			seen[id] = field
			if p.Category != "" && p.Category != cat {
				ve.Errors = append(ve.Errors, FieldError{
					Field:   field + ".category",
					Message: fmt.Sprintf("is %q but listed under %q", p.Category, cat),
				})
			}
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateEdges checks dependency records for empty endpoints. Dangling
// endpoints are not a validation failure; the graph drops them.
func ValidateEdges(records []DependencyRecord) error {
	var ve ValidationError
	for i, r := range records {
		if r.SourceID == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: fmt.Sprintf("dependencies[%d].source_id", i), Message: "is required"})
		}
		if r.TargetID == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: fmt.Sprintf("dependencies[%d].target_id", i), Message: "is required"})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
