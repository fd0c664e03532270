// Package store defines the persistence interface for workbooks, their
// parameters and computation history.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// ErrNotFound is returned when a workbook does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for paramgraph.
type Store interface {
	// Workbooks.
	CreateWorkbook(ctx context.Context, wb *model.Workbook) error
	GetWorkbook(ctx context.Context, id string) (*model.Workbook, error)
	ListWorkbooks(ctx context.Context) ([]*model.Workbook, error)
	DeleteWorkbook(ctx context.Context, id string) error

	// Parameters. SaveParameters replaces everything stored for the workbook.
	SaveParameters(ctx context.Context, workbookID string, cats *model.Categories, deps []model.DependencyRecord) error
	GetParameters(ctx context.Context, workbookID string) (*model.Categories, error)
	GetDependencies(ctx context.Context, workbookID string) ([]model.DependencyRecord, error)

	// Computation history.
	RecordComputation(ctx context.Context, c *model.Computation) error
	ListComputations(ctx context.Context, workbookID string, limit int) ([]*model.Computation, error)

	// Transactions.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle.
	Close() error
}
