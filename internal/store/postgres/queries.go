package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/store"
)

// workbookColumns is the column list used for SELECT statements on the workbooks table.
const workbookColumns = `id, name, source_file, sheets, param_count, created_at, updated_at`

// parameterColumns is the column list used for SELECT statements on the parameters table.
const parameterColumns = `id, category, name, unit, value, formula, formula_description,
	dependencies, dependency_names, sheet, row_num, error, has_circular`

const computationColumns = `id, workbook_id, sequence, inputs, applied, failed, error, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// notFound maps sql.ErrNoRows onto store.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return err
}

func queryCreateWorkbook(ctx context.Context, db executor, wb *model.Workbook) error {
	sheets, err := jsonbBytes(wb.Sheets)
	if err != nil {
		return fmt.Errorf("encode sheets: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO workbooks (
			id, name, source_file, sheets, param_count, source, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wb.ID,
		wb.Name,
		nullString(wb.SourceFile),
		sheets,
		wb.ParamCount,
		wb.Source,
		wb.CreatedAt,
		wb.UpdatedAt,
	)
	return err
}

func queryGetWorkbook(ctx context.Context, db executor, id string) (*model.Workbook, error) {
	row := db.QueryRowContext(ctx, `SELECT `+workbookColumns+`, source FROM workbooks WHERE id = $1`, id)
	wb, err := scanWorkbookWithSource(row)
	if err != nil {
		return nil, notFound(err, "workbook "+id)
	}
	return wb, nil
}

func queryListWorkbooks(ctx context.Context, db executor) ([]*model.Workbook, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+workbookColumns+` FROM workbooks ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Workbook
	for rows.Next() {
		wb, err := scanWorkbook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func queryDeleteWorkbook(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM workbooks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workbook %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// querySaveParameters replaces the parameters and dependency records of a
// workbook. It issues several statements and must run inside a transaction.
func querySaveParameters(ctx context.Context, db executor, workbookID string, cats *model.Categories, deps []model.DependencyRecord) error {
	res, err := db.ExecContext(ctx,
		`UPDATE workbooks SET param_count = $2, updated_at = now() WHERE id = $1`,
		workbookID, cats.Len())
	if err != nil {
		return fmt.Errorf("update workbook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workbook %s: %w", workbookID, store.ErrNotFound)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM parameters WHERE workbook_id = $1`, workbookID); err != nil {
		return fmt.Errorf("clear parameters: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM dependencies WHERE workbook_id = $1`, workbookID); err != nil {
		return fmt.Errorf("clear dependencies: %w", err)
	}

	position := 0
	var insertErr error
	cats.Each(func(cat model.Category, p *model.Parameter) {
		if insertErr != nil {
			return
		}
		insertErr = queryInsertParameter(ctx, db, workbookID, position, cat, p)
		position++
	})
	if insertErr != nil {
		return insertErr
	}

	for i, d := range deps {
		_, err := db.ExecContext(ctx, `
			INSERT INTO dependencies (workbook_id, position, source_id, target_id, source_name, target_name)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			workbookID, i, d.SourceID, d.TargetID, nullString(d.Source), nullString(d.Target))
		if err != nil {
			return fmt.Errorf("insert dependency %s -> %s: %w", d.SourceID, d.TargetID, err)
		}
	}
	return nil
}

func queryInsertParameter(ctx context.Context, db executor, workbookID string, position int, cat model.Category, p *model.Parameter) error {
	value, err := valueBytes(p.Value)
	if err != nil {
		return fmt.Errorf("encode value of %s: %w", p.ID, err)
	}
	deps, err := jsonbBytes(p.Dependencies)
	if err != nil {
		return fmt.Errorf("encode dependencies of %s: %w", p.ID, err)
	}
	names, err := jsonbBytes(p.DependencyNames)
	if err != nil {
		return fmt.Errorf("encode dependency names of %s: %w", p.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO parameters (
			workbook_id, id, position, category, name, unit, value, formula,
			formula_description, dependencies, dependency_names, sheet, row_num,
			error, has_circular
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15
		)`,
		workbookID,
		p.ID,
		position,
		string(cat),
		p.Name,
		nullString(p.Unit),
		value,
		nullString(p.Formula),
		nullString(p.FormulaDescription),
		deps,
		names,
		nullString(p.Sheet),
		p.Row,
		nullString(p.Error),
		p.HasCircularDependency,
	)
	if err != nil {
		return fmt.Errorf("insert parameter %s: %w", p.ID, err)
	}
	return nil
}

func queryGetParameters(ctx context.Context, db executor, workbookID string) (*model.Categories, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+parameterColumns+` FROM parameters WHERE workbook_id = $1 ORDER BY position`,
		workbookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := &model.Categories{
		Input:        []*model.Parameter{},
		Intermediate: []*model.Parameter{},
		Output:       []*model.Parameter{},
		Independent:  []*model.Parameter{},
	}
	n := 0
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		cat := p.Category
		if !cat.IsValid() {
			cat = model.CategoryIndependent
		}
		cats.Set(cat, append(cats.List(cat), p))
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		if err := queryWorkbookExists(ctx, db, workbookID); err != nil {
			return nil, err
		}
	}
	return cats, nil
}

func queryGetDependencies(ctx context.Context, db executor, workbookID string) ([]model.DependencyRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT source_id, target_id, source_name, target_name
		FROM dependencies WHERE workbook_id = $1 ORDER BY position`, workbookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.DependencyRecord{}
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if err := queryWorkbookExists(ctx, db, workbookID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func queryWorkbookExists(ctx context.Context, db executor, id string) error {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workbooks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("workbook %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func queryRecordComputation(ctx context.Context, db executor, c *model.Computation) error {
	inputs := c.Inputs
	if inputs == nil {
		inputs = map[string]float64{}
	}
	b, err := jsonbBytes(inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO computations (workbook_id, sequence, inputs, applied, failed, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		c.WorkbookID,
		int64(c.Sequence),
		b,
		c.Applied,
		c.Failed,
		nullString(c.Error),
		c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert computation: %w", err)
	}
	return nil
}

func queryListComputations(ctx context.Context, db executor, workbookID string, limit int) ([]*model.Computation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+computationColumns+`
		FROM computations WHERE workbook_id = $1
		ORDER BY id DESC
		LIMIT $2`, workbookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Computation
	for rows.Next() {
		c, err := scanComputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
