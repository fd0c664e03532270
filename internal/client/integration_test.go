package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/alfredjeanlab/paramgraph/internal/events"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/server"
	"github.com/alfredjeanlab/paramgraph/internal/store/memory"
)

func newGraphServer() *server.GraphServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return server.NewGraphServer(memory.New(), nil, server.WithLogger(logger))
}

func chainRequest() *CreateWorkbookRequest {
	return &CreateWorkbookRequest{
		Name: "chain",
		Parameters: &model.Categories{
			Input:        []*model.Parameter{{ID: "A", Name: "Alpha", Value: model.Number(2)}},
			Intermediate: []*model.Parameter{{ID: "B", Name: "Beta", Dependencies: []string{"A"}, Formula: "A*2"}},
			Output:       []*model.Parameter{{ID: "C", Name: "Gamma", Dependencies: []string{"B"}, Formula: "B+1"}},
		},
	}
}

func TestHTTPClient_EndToEnd(t *testing.T) {
	ts := httptest.NewServer(newGraphServer().NewHTTPHandler("tok"))
	defer ts.Close()
	c := NewHTTPClient(ts.URL, "tok")
	ctx := context.Background()

	created, err := c.CreateWorkbook(ctx, chainRequest())
	if err != nil {
		t.Fatalf("CreateWorkbook: %v", err)
	}
	id := created.Workbook.ID

	wbs, err := c.ListWorkbooks(ctx)
	if err != nil || len(wbs) != 1 || wbs[0].ID != id {
		t.Fatalf("ListWorkbooks = %v, %v", wbs, err)
	}

	order, err := c.GetOrder(ctx, id)
	if err != nil || !slices.Equal(order, []string{"A", "B", "C"}) {
		t.Fatalf("GetOrder = %v, %v", order, err)
	}

	cl, err := c.GetClosure(ctx, id, "C", false)
	if err != nil || !slices.Equal(cl.Closure, []string{"B", "A"}) {
		t.Fatalf("GetClosure = %+v, %v", cl, err)
	}

	resp, err := c.Calculate(ctx, id, map[string]float64{"A": 3})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if f, _ := resp.CalculatedValues["C"].Value.Float(); f != 7 {
		t.Errorf("C = %v, want 7", resp.CalculatedValues["C"].Value)
	}

	history, err := c.ListComputations(ctx, id, 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("ListComputations = %v, %v", history, err)
	}

	p, err := c.SetView(ctx, id, &ViewRequest{Mode: "dependencies", Focus: "B"})
	if err != nil || !slices.Equal(p.NodeIDs(), []string{"A", "B"}) {
		t.Fatalf("SetView = %+v, %v", p, err)
	}

	if err := c.DeleteWorkbook(ctx, id); err != nil {
		t.Fatalf("DeleteWorkbook: %v", err)
	}
	_, err = c.GetWorkbook(ctx, id)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Fatalf("GetWorkbook after delete = %v", err)
	}
}

func TestHTTPClient_StreamEvents(t *testing.T) {
	ts := httptest.NewServer(newGraphServer().NewHTTPHandler(""))
	defer ts.Close()
	c := NewHTTPClient(ts.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan StreamEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.StreamEvents(ctx, StreamFilter{Topics: []string{events.TopicWorkbookCreated}}, func(ev StreamEvent) error {
			select {
			case got <- ev:
			default:
			}
			return nil
		})
	}()

	// The stream subscribes asynchronously; create workbooks until one is seen.
	var ev StreamEvent
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case ev = <-got:
			break wait
		case <-tick.C:
			if _, err := c.CreateWorkbook(ctx, chainRequest()); err != nil {
				t.Fatalf("CreateWorkbook: %v", err)
			}
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
	if ev.Topic != events.TopicWorkbookCreated || ev.ID == "" || !strings.Contains(string(ev.Data), `"chain"`) {
		t.Errorf("event = %+v", ev)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("StreamEvents after cancel = %v", err)
	}
}

func TestReadSSE(t *testing.T) {
	stream := ":keepalive\n\nid:1\nevent:workbook.created\ndata:{\"a\":1}\n\nid:2\nevent:view.changed\ndata:{}\n\n"
	var got []StreamEvent
	err := readSSE(strings.NewReader(stream), func(ev StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].Topic != "view.changed" || string(got[0].Data) != `{"a":1}` {
		t.Errorf("events = %+v", got)
	}

	stop := errors.New("stop")
	err = readSSE(strings.NewReader(stream), func(StreamEvent) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want stop", err)
	}
}

func startGRPCClient(t *testing.T, gs *server.GraphServer, token string) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := server.NewGRPCServer(gs, token)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("NewGRPCClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGRPCClient(t *testing.T) {
	gs := newGraphServer()
	ts := httptest.NewServer(gs.NewHTTPHandler("tok"))
	defer ts.Close()
	ctx := context.Background()

	created, err := NewHTTPClient(ts.URL, "tok").CreateWorkbook(ctx, chainRequest())
	if err != nil {
		t.Fatalf("CreateWorkbook: %v", err)
	}
	id := created.Workbook.ID
	c := startGRPCClient(t, gs, "tok")

	if status, err := c.Health(ctx); err != nil || status != "ok" {
		t.Fatalf("Health = %q, %v", status, err)
	}

	d, err := c.GetParameter(ctx, id, "C")
	if err != nil {
		t.Fatalf("GetParameter: %v", err)
	}
	if d.Category != model.CategoryOutput || d.DependencyChain == nil || d.DependencyChain.ID != "C" {
		t.Errorf("detail = %+v", d)
	}

	resp, err := c.Calculate(ctx, id, map[string]float64{"A": 10})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if f, _ := resp.CalculatedValues["C"].Value.Float(); f != 21 {
		t.Errorf("C = %v, want 21", resp.CalculatedValues["C"].Value)
	}

	p, err := c.GetView(ctx, id, &ViewRequest{Mode: "dependencies", Focus: "B"})
	if err != nil || len(p.Nodes) != 2 {
		t.Fatalf("GetView = %+v, %v", p, err)
	}
	p, err = c.SetView(ctx, id, &ViewRequest{Focus: "C"})
	if err != nil || p.Focal != "C" {
		t.Fatalf("SetView = %+v, %v", p, err)
	}

	if _, err := c.ListWorkbooks(ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ListWorkbooks err = %v, want ErrUnsupported", err)
	}
}
