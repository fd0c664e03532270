// Package memory implements store.Store in process memory. It backs the
// server when no database is configured and is used by tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/store"
)

type memoryState struct {
	workbooks    map[string]*model.Workbook
	parameters   map[string]*model.Categories
	dependencies map[string][]model.DependencyRecord
	computations map[string][]*model.Computation
	lastID       int64
}

func newMemoryState() memoryState {
	return memoryState{
		workbooks:    map[string]*model.Workbook{},
		parameters:   map[string]*model.Categories{},
		dependencies: map[string][]model.DependencyRecord{},
		computations: map[string][]*model.Computation{},
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	out.lastID = s.lastID
	for id, wb := range s.workbooks {
		out.workbooks[id] = cloneWorkbook(wb)
	}
	for id, c := range s.parameters {
		out.parameters[id] = c.Clone()
	}
	for id, d := range s.dependencies {
		out.dependencies[id] = slices.Clone(d)
	}
	for id, list := range s.computations {
		cs := make([]*model.Computation, len(list))
		for i, c := range list {
			cs[i] = cloneComputation(c)
		}
		out.computations[id] = cs
	}
	return out
}

func cloneWorkbook(wb *model.Workbook) *model.Workbook {
	c := *wb
	c.Sheets = slices.Clone(wb.Sheets)
	c.Source = slices.Clone(wb.Source)
	return &c
}

func cloneComputation(c *model.Computation) *model.Computation {
	out := *c
	out.Inputs = maps.Clone(c.Inputs)
	return &out
}

// Store is an in-memory store.Store.
type Store struct {
	mu    sync.Mutex
	state memoryState
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newMemoryState()}
}

func (s *Store) view(fn func(tx *txStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txStore{state: &s.state})
}

func (s *Store) CreateWorkbook(ctx context.Context, wb *model.Workbook) error {
	return s.view(func(tx *txStore) error { return tx.CreateWorkbook(ctx, wb) })
}

func (s *Store) GetWorkbook(ctx context.Context, id string) (*model.Workbook, error) {
	var out *model.Workbook
	err := s.view(func(tx *txStore) (err error) {
		out, err = tx.GetWorkbook(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) ListWorkbooks(ctx context.Context) ([]*model.Workbook, error) {
	var out []*model.Workbook
	err := s.view(func(tx *txStore) (err error) {
		out, err = tx.ListWorkbooks(ctx)
		return err
	})
	return out, err
}

func (s *Store) DeleteWorkbook(ctx context.Context, id string) error {
	return s.view(func(tx *txStore) error { return tx.DeleteWorkbook(ctx, id) })
}

func (s *Store) SaveParameters(ctx context.Context, workbookID string, cats *model.Categories, deps []model.DependencyRecord) error {
	return s.view(func(tx *txStore) error { return tx.SaveParameters(ctx, workbookID, cats, deps) })
}

func (s *Store) GetParameters(ctx context.Context, workbookID string) (*model.Categories, error) {
	var out *model.Categories
	err := s.view(func(tx *txStore) (err error) {
		out, err = tx.GetParameters(ctx, workbookID)
		return err
	})
	return out, err
}

func (s *Store) GetDependencies(ctx context.Context, workbookID string) ([]model.DependencyRecord, error) {
	var out []model.DependencyRecord
	err := s.view(func(tx *txStore) (err error) {
		out, err = tx.GetDependencies(ctx, workbookID)
		return err
	})
	return out, err
}

func (s *Store) RecordComputation(ctx context.Context, c *model.Computation) error {
	return s.view(func(tx *txStore) error { return tx.RecordComputation(ctx, c) })
}

func (s *Store) ListComputations(ctx context.Context, workbookID string, limit int) ([]*model.Computation, error) {
	var out []*model.Computation
	err := s.view(func(tx *txStore) (err error) {
		out, err = tx.ListComputations(ctx, workbookID, limit)
		return err
	})
	return out, err
}

// RunInTransaction runs fn against a copy of the state and installs the
// copy only when fn succeeds. Writers are serialized.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state.clone()
	if err := fn(&txStore{state: &state}); err != nil {
		return err
	}
	s.state = state
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// txStore operates on a state the caller has locked.
type txStore struct {
	state *memoryState
}

var _ store.Store = (*txStore)(nil)

func (tx *txStore) CreateWorkbook(_ context.Context, wb *model.Workbook) error {
	if _, exists := tx.state.workbooks[wb.ID]; exists {
		return fmt.Errorf("workbook %s already exists", wb.ID)
	}
	tx.state.workbooks[wb.ID] = cloneWorkbook(wb)
	return nil
}

func (tx *txStore) GetWorkbook(_ context.Context, id string) (*model.Workbook, error) {
	wb, ok := tx.state.workbooks[id]
	if !ok {
		return nil, fmt.Errorf("workbook %s: %w", id, store.ErrNotFound)
	}
	return cloneWorkbook(wb), nil
}

func (tx *txStore) ListWorkbooks(_ context.Context) ([]*model.Workbook, error) {
	out := make([]*model.Workbook, 0, len(tx.state.workbooks))
	for _, wb := range tx.state.workbooks {
		c := cloneWorkbook(wb)
		c.Source = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *txStore) DeleteWorkbook(_ context.Context, id string) error {
	if _, ok := tx.state.workbooks[id]; !ok {
		return fmt.Errorf("workbook %s: %w", id, store.ErrNotFound)
	}
	delete(tx.state.workbooks, id)
	delete(tx.state.parameters, id)
	delete(tx.state.dependencies, id)
	delete(tx.state.computations, id)
	return nil
}

func (tx *txStore) SaveParameters(_ context.Context, workbookID string, cats *model.Categories, deps []model.DependencyRecord) error {
	wb, ok := tx.state.workbooks[workbookID]
	if !ok {
		return fmt.Errorf("workbook %s: %w", workbookID, store.ErrNotFound)
	}
	c := cats.Clone()
	c.Each(func(cat model.Category, p *model.Parameter) { p.Category = cat })
	tx.state.parameters[workbookID] = c
	tx.state.dependencies[workbookID] = slices.Clone(deps)
	wb.ParamCount = c.Len()
	wb.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *txStore) GetParameters(_ context.Context, workbookID string) (*model.Categories, error) {
	if _, ok := tx.state.workbooks[workbookID]; !ok {
		return nil, fmt.Errorf("workbook %s: %w", workbookID, store.ErrNotFound)
	}
	out := &model.Categories{}
	if c, ok := tx.state.parameters[workbookID]; ok {
		out = c.Clone()
	}
	for _, cat := range model.AllCategories {
		if out.List(cat) == nil {
			out.Set(cat, []*model.Parameter{})
		}
	}
	return out, nil
}

func (tx *txStore) GetDependencies(_ context.Context, workbookID string) ([]model.DependencyRecord, error) {
	if _, ok := tx.state.workbooks[workbookID]; !ok {
		return nil, fmt.Errorf("workbook %s: %w", workbookID, store.ErrNotFound)
	}
	out := slices.Clone(tx.state.dependencies[workbookID])
	if out == nil {
		out = []model.DependencyRecord{}
	}
	return out, nil
}

func (tx *txStore) RecordComputation(_ context.Context, c *model.Computation) error {
	if _, ok := tx.state.workbooks[c.WorkbookID]; !ok {
		return fmt.Errorf("workbook %s: %w", c.WorkbookID, store.ErrNotFound)
	}
	tx.state.lastID++
	c.ID = tx.state.lastID
	tx.state.computations[c.WorkbookID] = append(tx.state.computations[c.WorkbookID], cloneComputation(c))
	return nil
}

// ListComputations returns the newest computations first.
func (tx *txStore) ListComputations(_ context.Context, workbookID string, limit int) ([]*model.Computation, error) {
	if limit <= 0 {
		limit = 50
	}
	list := tx.state.computations[workbookID]
	out := make([]*model.Computation, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneComputation(list[i]))
	}
	return out, nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (tx *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(tx)
}

// Close is a no-op for a transaction store.
func (tx *txStore) Close() error { return nil }
