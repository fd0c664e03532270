// Package server exposes stored workbooks over HTTP/JSON, gRPC and a
// server-sent event stream. Each workbook that has been touched since
// startup is held as a loaded engine session.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/compute"
	"github.com/alfredjeanlab/paramgraph/internal/engine"
	"github.com/alfredjeanlab/paramgraph/internal/events"
	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/propagation"
	"github.com/alfredjeanlab/paramgraph/internal/store"
)

// DefaultMaxUploadBytes bounds multipart uploads when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// GraphServer serves the paramgraph API.
type GraphServer struct {
	store      store.Store
	publisher  events.Publisher
	hub        *eventHub
	calculator compute.Calculator
	logger     *slog.Logger

	computeTimeout time.Duration
	maxUpload      int64
	eventHistory   int
	onChange       func()

	sessionsMu sync.Mutex
	sessions   map[string]*session // workbook ID → loaded engine
}

// session is one workbook loaded into an engine.
type session struct {
	workbook *model.Workbook
	engine   *engine.Engine
}

// Option configures a GraphServer.
type Option func(*GraphServer)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *GraphServer) { s.logger = l }
}

// WithCalculator replaces the default calculator chain.
func WithCalculator(c compute.Calculator) Option {
	return func(s *GraphServer) { s.calculator = c }
}

// WithComputeTimeout bounds every compute request.
func WithComputeTimeout(d time.Duration) Option {
	return func(s *GraphServer) { s.computeTimeout = d }
}

// WithMaxUploadBytes limits the size of uploaded spreadsheets.
func WithMaxUploadBytes(n int64) Option {
	return func(s *GraphServer) { s.maxUpload = n }
}

// WithEventHistory sets how many events the SSE stream retains for replay.
func WithEventHistory(n int) Option {
	return func(s *GraphServer) { s.eventHistory = n }
}

// WithChangeHook registers fn to be called after a workbook is created or
// deleted, typically to trigger an export.
func WithChangeHook(fn func()) Option {
	return func(s *GraphServer) { s.onChange = fn }
}

// NewGraphServer returns a GraphServer backed by the given store. Events go
// to p and to the server's SSE hub.
func NewGraphServer(st store.Store, p events.Publisher, opts ...Option) *GraphServer {
	s := &GraphServer{
		store:          st,
		logger:         slog.Default(),
		computeTimeout: engine.DefaultComputeTimeout,
		maxUpload:      DefaultMaxUploadBytes,
		eventHistory:   DefaultEventHistory,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if p == nil {
		p = &events.NoopPublisher{}
	}
	s.hub = newEventHub(s.eventHistory)
	s.publisher = events.Multi{p, s.hub}
	if s.calculator == nil {
		// A workbook uploaded as a spreadsheet is recalculated from its own
		// cells; everything else falls back to the formula evaluator.
		s.calculator = compute.Fallback{
			compute.NewWorkbook(s.logger),
			compute.NewLocal(s.logger),
		}
	}
	return s
}

// publish emits an event to NATS and the SSE hub. It is best-effort:
// failures are logged and never reach the caller.
func (s *GraphServer) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func (s *GraphServer) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *GraphServer) newEngine() *engine.Engine {
	return engine.New(
		engine.WithLogger(s.logger),
		engine.WithComputeTimeout(s.computeTimeout),
	)
}

// session returns the loaded engine of a workbook, loading it from the
// store on first use.
func (s *GraphServer) session(ctx context.Context, id string) (*session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}

	wb, err := s.store.GetWorkbook(ctx, id)
	if err != nil {
		return nil, err
	}
	cats, err := s.store.GetParameters(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get parameters: %w", err)
	}
	deps, err := s.store.GetDependencies(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get dependencies: %w", err)
	}

	e := s.newEngine()
	report, err := e.Load(cats, deps)
	if err != nil {
		return nil, fmt.Errorf("load workbook %s: %w", id, err)
	}
	s.logger.Debug("workbook session loaded", "workbook_id", id, "parameters", report.Parameters)

	sess := &session{workbook: wb, engine: e}
	s.sessions[id] = sess
	return sess, nil
}

func (s *GraphServer) evict(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// extractError wraps a spreadsheet that could not be turned into parameters.
// Transport layers map this to 422 / FailedPrecondition.
type extractError struct{ err error }

func (e *extractError) Error() string { return "extract parameters: " + e.err.Error() }
func (e *extractError) Unwrap() error { return e.err }

// errorKind classifies err for the transport layers.
type errorKind int

const (
	kindInternal errorKind = iota
	kindInvalid
	kindNotFound
	kindUnprocessable
	kindConflict
)

func classify(err error) errorKind {
	var (
		ie inputError
		ve *model.ValidationError
		xe *extractError
	)
	switch {
	case errors.As(err, &ie), errors.As(err, &ve):
		return kindInvalid
	case errors.Is(err, store.ErrNotFound), errors.Is(err, graph.ErrNodeNotFound):
		return kindNotFound
	case errors.As(err, &xe):
		return kindUnprocessable
	case errors.Is(err, propagation.ErrStaleResult):
		return kindConflict
	}
	return kindInternal
}
