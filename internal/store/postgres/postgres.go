// Package postgres implements store.Store on PostgreSQL. The schema is
// embedded and migrated forward when the store is opened.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Option tunes the connection pool.
type Option func(*sql.DB)

// WithMaxOpenConns caps concurrent connections.
func WithMaxOpenConns(n int) Option {
	return func(db *sql.DB) { db.SetMaxOpenConns(n) }
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(db *sql.DB) { db.SetConnMaxLifetime(d) }
}

var defaultPool = []Option{
	WithMaxOpenConns(25),
	func(db *sql.DB) { db.SetMaxIdleConns(5) },
	WithConnMaxLifetime(5 * time.Minute),
}

// queries runs every store operation against an executor, which is the
// pool for PostgresStore and the open transaction for txStore.
type queries struct {
	db executor
}

func (q queries) CreateWorkbook(ctx context.Context, wb *model.Workbook) error {
	return queryCreateWorkbook(ctx, q.db, wb)
}

func (q queries) GetWorkbook(ctx context.Context, id string) (*model.Workbook, error) {
	return queryGetWorkbook(ctx, q.db, id)
}

func (q queries) ListWorkbooks(ctx context.Context) ([]*model.Workbook, error) {
	return queryListWorkbooks(ctx, q.db)
}

func (q queries) DeleteWorkbook(ctx context.Context, id string) error {
	return queryDeleteWorkbook(ctx, q.db, id)
}

func (q queries) SaveParameters(ctx context.Context, workbookID string, cats *model.Categories, deps []model.DependencyRecord) error {
	return querySaveParameters(ctx, q.db, workbookID, cats, deps)
}

func (q queries) GetParameters(ctx context.Context, workbookID string) (*model.Categories, error) {
	return queryGetParameters(ctx, q.db, workbookID)
}

func (q queries) GetDependencies(ctx context.Context, workbookID string) ([]model.DependencyRecord, error) {
	return queryGetDependencies(ctx, q.db, workbookID)
}

func (q queries) RecordComputation(ctx context.Context, c *model.Computation) error {
	return queryRecordComputation(ctx, q.db, c)
}

func (q queries) ListComputations(ctx context.Context, workbookID string, limit int) ([]*model.Computation, error) {
	return queryListComputations(ctx, q.db, workbookID, limit)
}

// PostgresStore is the pooled store. SaveParameters always runs in its
// own transaction because it replaces a workbook's rows wholesale.
type PostgresStore struct {
	queries
	pool *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New connects to databaseURL, applies pending migrations and returns the
// store. Options override the default pool settings.
func New(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, opt := range append(defaultPool, opts...) {
		opt(db)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return newStore(db), nil
}

func newStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{db: db}, pool: db}
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveParameters(ctx context.Context, workbookID string, cats *model.Categories, deps []model.DependencyRecord) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.SaveParameters(ctx, workbookID, cats, deps)
	})
}

// RunInTransaction commits when fn returns nil and rolls back otherwise.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStore{queries{db: tx}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.pool.Close()
}

// txStore is the store handed to RunInTransaction callbacks.
type txStore struct {
	queries
}

var _ store.Store = (*txStore)(nil)

// RunInTransaction joins the open transaction; there is no nesting.
func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op; the parent store owns the connection.
func (s *txStore) Close() error { return nil }
