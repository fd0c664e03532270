// Package compute provides the calculators that turn input overrides into
// freshly computed parameter values.
//
// A calculator returns one entry per parameter it evaluated. An entry with an
// Error carries the value the parameter should keep; the caller merges the
// map into the parameter store as-is.
package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Calculator computes parameter values for a set of input overrides.
type Calculator interface {
	Compute(ctx context.Context, req *Request) (model.ComputedMap, error)
}

// Request is one compute request.
type Request struct {
	// Parameters is the current snapshot, in any category order.
	Parameters []*model.Parameter
	// Inputs overrides parameter values by identifier.
	Inputs map[string]float64
	// Source is the raw spreadsheet the parameters were extracted from,
	// when there is one.
	Source []byte
}

// ErrNoSource is returned by calculators that need the spreadsheet when the
// request has none.
var ErrNoSource = errors.New("no spreadsheet source for this workbook")

// Func adapts a function to Calculator.
type Func func(ctx context.Context, req *Request) (model.ComputedMap, error)

// Compute calls f.
func (f Func) Compute(ctx context.Context, req *Request) (model.ComputedMap, error) {
	return f(ctx, req)
}

// Fallback tries each calculator in turn and returns the first success.
// Calculators failing with ErrNoSource are skipped silently.
type Fallback []Calculator

// Compute implements Calculator.
func (fb Fallback) Compute(ctx context.Context, req *Request) (model.ComputedMap, error) {
	var errs []error
	for _, c := range fb {
		out, err := c.Compute(ctx, req)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrNoSource) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no calculator available: %w", ErrNoSource)
	}
	return nil, errors.Join(errs...)
}
