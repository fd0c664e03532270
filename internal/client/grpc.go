package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/view"
)

// graphService is the fully-qualified gRPC service name served by pgraph.
const graphService = "/paramgraph.v1.GraphService/"

// GRPCClient implements GraphClient using the gRPC transport. The service
// carries parameter lookups, calculation and projection; workbook management
// stays on HTTP.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// Extra dial options are appended after the insecure transport credentials.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// invoke marshals in into a Struct, calls method and decodes the reply into out.
func (c *GRPCClient) invoke(ctx context.Context, method string, in map[string]any, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, graphService+method, req, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

// --- Supported ---

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.invoke(ctx, "Health", map[string]any{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *GRPCClient) GetParameter(ctx context.Context, workbookID, id string) (*model.ParameterDetail, error) {
	var d model.ParameterDetail
	in := map[string]any{"workbook_id": workbookID, "id": id}
	if err := c.invoke(ctx, "GetParameter", in, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *GRPCClient) Calculate(ctx context.Context, workbookID string, inputs map[string]float64) (*CalculateResponse, error) {
	ins := make(map[string]any, len(inputs))
	for k, v := range inputs {
		ins[k] = v
	}
	var resp CalculateResponse
	in := map[string]any{"workbook_id": workbookID, "inputs": ins}
	if err := c.invoke(ctx, "Calculate", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) GetView(ctx context.Context, workbookID string, req *ViewRequest) (*view.Projection, error) {
	return c.project(ctx, workbookID, req, false)
}

func (c *GRPCClient) SetView(ctx context.Context, workbookID string, req *ViewRequest) (*view.Projection, error) {
	return c.project(ctx, workbookID, req, true)
}

func (c *GRPCClient) project(ctx context.Context, workbookID string, req *ViewRequest, sel bool) (*view.Projection, error) {
	in := map[string]any{"workbook_id": workbookID, "select": sel}
	if req != nil {
		in["mode"] = req.Mode
		in["focus"] = req.Focus
		in["clear"] = req.Clear
	}
	var p view.Projection
	if err := c.invoke(ctx, "Project", in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Unsupported over gRPC ---

func (c *GRPCClient) CreateWorkbook(context.Context, *CreateWorkbookRequest) (*CreateWorkbookResponse, error) {
	return nil, unsupported("grpc", "create workbook")
}

func (c *GRPCClient) UploadWorkbook(context.Context, string, string, io.Reader) (*CreateWorkbookResponse, error) {
	return nil, unsupported("grpc", "upload workbook")
}

func (c *GRPCClient) ListWorkbooks(context.Context) ([]*model.Workbook, error) {
	return nil, unsupported("grpc", "list workbooks")
}

func (c *GRPCClient) GetWorkbook(context.Context, string) (*model.Workbook, error) {
	return nil, unsupported("grpc", "get workbook")
}

func (c *GRPCClient) DeleteWorkbook(context.Context, string) error {
	return unsupported("grpc", "delete workbook")
}

func (c *GRPCClient) DownloadWorkbook(context.Context, string, io.Writer) error {
	return unsupported("grpc", "download workbook")
}

func (c *GRPCClient) GetParameters(context.Context, string) (*model.Categories, error) {
	return nil, unsupported("grpc", "list parameters")
}

func (c *GRPCClient) GetClosure(context.Context, string, string, bool) (*Closure, error) {
	return nil, unsupported("grpc", "closure")
}

func (c *GRPCClient) GetDependencies(context.Context, string) ([]model.DependencyRecord, error) {
	return nil, unsupported("grpc", "list dependencies")
}

func (c *GRPCClient) GetCycles(context.Context, string) (*graph.CycleReport, error) {
	return nil, unsupported("grpc", "cycles")
}

func (c *GRPCClient) GetOrder(context.Context, string) ([]string, error) {
	return nil, unsupported("grpc", "order")
}

func (c *GRPCClient) ListComputations(context.Context, string, int) ([]*model.Computation, error) {
	return nil, unsupported("grpc", "list computations")
}

// --- conversion helpers ---

func toStruct(v map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return s, nil
}

func fromStruct(in *structpb.Struct, dst any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
