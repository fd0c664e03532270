package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// startGRPC serves srv over an in-memory listener and returns a connection.
func startGRPC(t *testing.T, srv *GraphServer, token string) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(srv, token)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+GraphServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCGraphService(t *testing.T) {
	srv, _, h := newTestServer()
	id := createChain(t, h)
	conn := startGRPC(t, srv, "")
	ctx := context.Background()

	out, err := invoke(t, conn, ctx, "Health", nil)
	if err != nil || out.GetFields()["status"].GetStringValue() != "ok" {
		t.Fatalf("Health = %v, %v", out, err)
	}

	out, err = invoke(t, conn, ctx, "GetParameter", map[string]any{"workbook_id": id, "id": "C"})
	if err != nil {
		t.Fatalf("GetParameter: %v", err)
	}
	if cat := out.GetFields()["category"].GetStringValue(); cat != "output" {
		t.Errorf("category = %q", cat)
	}

	out, err = invoke(t, conn, ctx, "Calculate", map[string]any{
		"workbook_id": id,
		"inputs":      map[string]any{"A": 10},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	c := out.GetFields()["calculated_values"].GetStructValue().GetFields()["C"].GetStructValue()
	if got := c.GetFields()["value"].GetNumberValue(); got != 21 {
		t.Errorf("C = %v, want 21", got)
	}

	out, err = invoke(t, conn, ctx, "Project", map[string]any{
		"workbook_id": id,
		"mode":        "dependencies",
		"focus":       "B",
		"select":      true,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if n := len(out.GetFields()["nodes"].GetListValue().GetValues()); n != 2 {
		t.Errorf("projected %d nodes, want 2", n)
	}
	if p := mustSession(t, srv, id).engine.Projection(); p.Focal != "B" {
		t.Errorf("select did not update the session: focal=%q", p.Focal)
	}
}

func mustSession(t *testing.T, s *GraphServer, id string) *session {
	t.Helper()
	sess, err := s.session(context.Background(), id)
	if err != nil {
		t.Fatalf("session %s: %v", id, err)
	}
	return sess
}

func TestGRPCErrors(t *testing.T) {
	srv, _, h := newTestServer()
	id := createChain(t, h)
	conn := startGRPC(t, srv, "")
	ctx := context.Background()

	for _, tc := range []struct {
		method string
		in     map[string]any
		want   codes.Code
	}{
		{"GetParameter", map[string]any{"id": "C"}, codes.InvalidArgument},
		{"GetParameter", map[string]any{"workbook_id": id, "id": "ghost"}, codes.NotFound},
		{"GetParameter", map[string]any{"workbook_id": "wb-missing", "id": "C"}, codes.NotFound},
		{"Calculate", map[string]any{"workbook_id": id, "inputs": "nope"}, codes.InvalidArgument},
		{"Project", map[string]any{"workbook_id": id, "mode": "sideways"}, codes.InvalidArgument},
	} {
		t.Run(tc.method, func(t *testing.T) {
			_, err := invoke(t, conn, ctx, tc.method, tc.in)
			if status.Code(err) != tc.want {
				t.Fatalf("code = %v, want %v (%v)", status.Code(err), tc.want, err)
			}
		})
	}
}

func TestGRPCAuth(t *testing.T) {
	srv, _, _ := newTestServer()
	conn := startGRPC(t, srv, "secret")

	if _, err := invoke(t, conn, context.Background(), "Health", nil); err != nil {
		t.Fatalf("Health must be exempt: %v", err)
	}
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health check = %v, %v", resp, err)
	}

	_, err = invoke(t, conn, context.Background(), "Project", map[string]any{"workbook_id": "wb-x"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer secret")
	_, err = invoke(t, conn, ctx, "Project", map[string]any{"workbook_id": "wb-x"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound past auth", status.Code(err))
	}
}
