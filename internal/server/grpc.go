package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// GraphServiceName is the fully qualified gRPC service name.
const GraphServiceName = "paramgraph.v1.GraphService"

const (
	healthMethod          = "/" + GraphServiceName + "/Health"
	grpcHealthCheckMethod = "/grpc.health.v1.Health/Check"
)

// GraphServiceServer is the gRPC surface of paramgraph. Requests and
// responses are google.protobuf.Struct values shaped like the HTTP JSON
// bodies.
type GraphServiceServer interface {
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetParameter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Calculate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Project(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var graphServiceDesc = grpc.ServiceDesc{
	ServiceName: GraphServiceName,
	HandlerType: (*GraphServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Health", GraphServiceServer.Health),
		unaryMethod("GetParameter", GraphServiceServer.GetParameter),
		unaryMethod("Calculate", GraphServiceServer.Calculate),
		unaryMethod("Project", GraphServiceServer.Project),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "paramgraph/v1/graph.proto",
}

type structCall func(GraphServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structCall) grpc.MethodDesc {
	fullMethod := "/" + GraphServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GraphServiceServer), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the GraphService, the standard health service and reflection, and returns
// the server ready to serve.
func NewGRPCServer(gs *GraphServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(gs.logger),
			LoggingInterceptor(gs.logger),
			AuthInterceptor(authToken),
		),
	)

	srv.RegisterService(&graphServiceDesc, gs)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	reflection.Register(srv)

	return srv
}

// Health returns the service health status.
func (s *GraphServer) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "ok"})
}

// parameterRequest is the GetParameter request body.
type parameterRequest struct {
	WorkbookID string `json:"workbook_id"`
	ID         string `json:"id"`
}

// GetParameter returns the detail record of one parameter.
func (s *GraphServer) GetParameter(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req parameterRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.WorkbookID == "" {
		return nil, status.Error(codes.InvalidArgument, "workbook_id is required")
	}
	detail, err := s.parameterDetail(ctx, req.WorkbookID, req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(detail)
}

// calculateRequest is the Calculate request body.
type calculateRequest struct {
	WorkbookID string             `json:"workbook_id"`
	Inputs     map[string]float64 `json:"inputs"`
}

// Calculate runs a compute request and returns the calculated values.
func (s *GraphServer) Calculate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req calculateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.WorkbookID == "" {
		return nil, status.Error(codes.InvalidArgument, "workbook_id is required")
	}
	resp, err := s.calculate(ctx, req.WorkbookID, req.Inputs)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(resp)
}

// Project derives a projection. With "select": true the session's view
// selection is updated as PUT /view does; otherwise the call is pure.
func (s *GraphServer) Project(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		viewRequest
		Select bool `json:"select"`
	}
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.WorkbookID == "" {
		return nil, status.Error(codes.InvalidArgument, "workbook_id is required")
	}

	project := s.project
	if req.Select {
		project = s.selectView
	}
	p, err := project(ctx, req.viewRequest)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(p)
}

// grpcError maps a service error onto a gRPC status.
func grpcError(err error) error {
	switch classify(err) {
	case kindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case kindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case kindUnprocessable:
		return status.Error(codes.FailedPrecondition, err.Error())
	case kindConflict:
		return status.Error(codes.Aborted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// toStruct converts v to a Struct through its JSON encoding, so gRPC
// responses carry exactly the HTTP field names.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// fromStruct decodes a Struct request into dst.
func fromStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return nil
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("decode request: %v", err))
	}
	return nil
}
