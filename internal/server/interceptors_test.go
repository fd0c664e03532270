package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const calculateMethod = "/paramgraph.v1.GraphService/Calculate"

func TestBearerAuthCheck(t *testing.T) {
	auth := newBearerAuth("secret")
	for _, tc := range []struct {
		header string
		want   error
	}{
		{"", errNoCredentials},
		{"Basic secret", errBadScheme},
		{"bearer secret", errBadScheme},
		{"Bearer wrong", errBadToken},
		{"Bearer secre", errBadToken},
		{"Bearer secret", nil},
	} {
		if got := auth.check(tc.header); got != tc.want {
			t.Errorf("check(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
	if newBearerAuth("").enabled() {
		t.Error("empty token enables auth")
	}
}

func TestAuthInterceptor(t *testing.T) {
	for _, tc := range []struct {
		name   string
		token  string
		method string
		md     metadata.MD
		want   codes.Code
	}{
		{"disabled", "", calculateMethod, nil, codes.OK},
		{"health exempt", "secret", healthMethod, nil, codes.OK},
		{"grpc health exempt", "secret", grpcHealthCheckMethod, nil, codes.OK},
		{"no metadata", "secret", calculateMethod, nil, codes.Unauthenticated},
		{"no header", "secret", calculateMethod, metadata.Pairs("other", "v"), codes.Unauthenticated},
		{"wrong scheme", "secret", calculateMethod, metadata.Pairs("authorization", "Basic secret"), codes.Unauthenticated},
		{"wrong token", "secret", calculateMethod, metadata.Pairs("authorization", "Bearer nope"), codes.Unauthenticated},
		{"valid", "secret", calculateMethod, metadata.Pairs("authorization", "Bearer secret"), codes.OK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tc.md)
			}
			called := false
			resp, err := AuthInterceptor(tc.token)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tc.method},
				func(context.Context, any) (any, error) {
					called = true
					return "ok", nil
				})
			if status.Code(err) != tc.want {
				t.Fatalf("code = %v, want %v (err %v)", status.Code(err), tc.want, err)
			}
			if called != (tc.want == codes.OK) {
				t.Errorf("handler called = %v", called)
			}
			if tc.want == codes.OK && resp != "ok" {
				t.Errorf("resp = %v", resp)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	for _, tc := range []struct {
		name   string
		token  string
		path   string
		header string
		want   int
	}{
		{"disabled", "", "/v1/workbooks", "", http.StatusOK},
		{"health open", "secret", "/v1/health", "", http.StatusOK},
		{"missing", "secret", "/v1/workbooks", "", http.StatusUnauthorized},
		{"scheme", "secret", "/v1/workbooks", "Basic secret", http.StatusUnauthorized},
		{"wrong", "secret", "/v1/workbooks/wb-1/parameters", "Bearer wrong", http.StatusUnauthorized},
		{"valid", "secret", "/v1/workbooks", "Bearer secret", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tc.token, ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tc.want, rec.Body.String())
			}
			if tc.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Error("401 without WWW-Authenticate challenge")
			}
		})
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	interceptor := RecoveryInterceptor(slog.New(slog.NewTextHandler(&buf, nil)))
	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: healthMethod},
		func(context.Context, any) (any, error) { panic("kaboom") })
	if status.Code(err) != codes.Internal || resp != nil {
		t.Fatalf("resp=%v err=%v, want Internal", resp, err)
	}
	if out := buf.String(); !strings.Contains(out, "kaboom") || !strings.Contains(out, "method="+healthMethod) {
		t.Errorf("panic not logged: %s", out)
	}
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	interceptor := LoggingInterceptor(slog.New(slog.NewTextHandler(&buf, nil)))
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/paramgraph.v1.GraphService/Project"},
		func(context.Context, any) (any, error) { return nil, status.Error(codes.NotFound, "gone") })
	if status.Code(err) != codes.NotFound {
		t.Fatalf("error changed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "method=/paramgraph.v1.GraphService/Project") || !strings.Contains(out, "code=NotFound") {
		t.Errorf("log = %s", out)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := RequestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/panic":
			panic("handler bug")
		case "/late-panic":
			w.WriteHeader(http.StatusAccepted)
			panic("after header")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workbooks", nil))
	if rec.Code != http.StatusTeapot || !strings.Contains(buf.String(), "status=418") {
		t.Errorf("code=%d log=%s", rec.Code, buf.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic answered %d, want 500", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/late-panic", nil))
	if rec.Code != http.StatusAccepted || rec.Body.Len() != 0 {
		t.Errorf("late panic rewrote response: %d %q", rec.Code, rec.Body.String())
	}

	if _, ok := any(&statusRecorder{ResponseWriter: httptest.NewRecorder()}).(http.Flusher); !ok {
		t.Error("statusRecorder does not implement http.Flusher")
	}
}
