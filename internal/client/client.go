// Package client provides a transport-agnostic interface for the paramgraph
// service with HTTP/JSON and gRPC implementations.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alfredjeanlab/paramgraph/internal/engine"
	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/view"
	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

// GraphClient is the interface the pgraph CLI commands use to talk to the
// server. It is implemented by HTTPClient (default) and GRPCClient.
type GraphClient interface {
	// Workbooks
	CreateWorkbook(ctx context.Context, req *CreateWorkbookRequest) (*CreateWorkbookResponse, error)
	UploadWorkbook(ctx context.Context, name, filename string, r io.Reader) (*CreateWorkbookResponse, error)
	ListWorkbooks(ctx context.Context) ([]*model.Workbook, error)
	GetWorkbook(ctx context.Context, id string) (*model.Workbook, error)
	DeleteWorkbook(ctx context.Context, id string) error
	DownloadWorkbook(ctx context.Context, id string, w io.Writer) error

	// Graph queries
	GetParameters(ctx context.Context, workbookID string) (*model.Categories, error)
	GetParameter(ctx context.Context, workbookID, id string) (*model.ParameterDetail, error)
	GetClosure(ctx context.Context, workbookID, id string, dependents bool) (*Closure, error)
	GetDependencies(ctx context.Context, workbookID string) ([]model.DependencyRecord, error)
	GetCycles(ctx context.Context, workbookID string) (*graph.CycleReport, error)
	GetOrder(ctx context.Context, workbookID string) ([]string, error)

	// Compute
	Calculate(ctx context.Context, workbookID string, inputs map[string]float64) (*CalculateResponse, error)
	ListComputations(ctx context.Context, workbookID string, limit int) ([]*model.Computation, error)

	// View. GetView is pure when req names a mode or focus; SetView moves
	// the server-side selection.
	GetView(ctx context.Context, workbookID string, req *ViewRequest) (*view.Projection, error)
	SetView(ctx context.Context, workbookID string, req *ViewRequest) (*view.Projection, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// ErrUnsupported is returned by transports that do not carry an operation.
var ErrUnsupported = errors.New("operation not supported by this transport")

func unsupported(transport, op string) error {
	return fmt.Errorf("%s over %s: %w", op, transport, ErrUnsupported)
}

// CreateWorkbookRequest holds parameters for creating a workbook from
// already-extracted parameter lists.
type CreateWorkbookRequest struct {
	Name         string                   `json:"name"`
	Parameters   *model.Categories        `json:"parameters"`
	Dependencies []model.DependencyRecord `json:"dependencies,omitempty"`
}

// CreateWorkbookResponse is the response from CreateWorkbook and UploadWorkbook.
type CreateWorkbookResponse struct {
	Workbook      *model.Workbook         `json:"workbook"`
	Report        *engine.LoadReport      `json:"report"`
	Consolidation *workbook.Consolidation `json:"consolidation,omitempty"`
}

// Closure lists the transitive dependencies or dependents of a parameter.
type Closure struct {
	ID        string   `json:"id"`
	Direction string   `json:"direction"`
	Closure   []string `json:"closure"`
	HasCycle  bool     `json:"has_cycle"`
}

// CalculatedValue is one entry of a calculate response.
type CalculatedValue struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Value model.Value `json:"value"`
	Unit  string      `json:"unit,omitempty"`
	Error string      `json:"error,omitempty"`
}

// CalculateResponse is the response from Calculate.
type CalculateResponse struct {
	CalculatedValues map[string]CalculatedValue `json:"calculated_values"`
	Sequence         uint64                     `json:"sequence"`
	Applied          []string                   `json:"applied"`
	Failed           []string                   `json:"failed,omitempty"`
	Unknown          []string                   `json:"unknown,omitempty"`
}

// ViewRequest selects a projection.
type ViewRequest struct {
	Mode  string `json:"mode,omitempty"`
	Focus string `json:"focus,omitempty"`
	// Clear drops the stored selection. SetView only.
	Clear bool `json:"clear,omitempty"`
}
