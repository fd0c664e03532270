package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanWorkbook scans a single row into a model.Workbook.
// The row must contain columns in the order defined by workbookColumns.
func scanWorkbook(row scannable) (*model.Workbook, error) {
	var wb model.Workbook
	var (
		sourceFile sql.NullString
		sheets     []byte
	)
	err := row.Scan(
		&wb.ID,
		&wb.Name,
		&sourceFile,
		&sheets,
		&wb.ParamCount,
		&wb.CreatedAt,
		&wb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	wb.SourceFile = sourceFile.String
	if len(sheets) > 0 {
		if err := json.Unmarshal(sheets, &wb.Sheets); err != nil {
			return nil, fmt.Errorf("decode sheets of workbook %s: %w", wb.ID, err)
		}
	}
	return &wb, nil
}

// scanWorkbookWithSource scans workbookColumns followed by the source column.
func scanWorkbookWithSource(row scannable) (*model.Workbook, error) {
	var wb model.Workbook
	var (
		sourceFile sql.NullString
		sheets     []byte
		source     []byte
	)
	err := row.Scan(
		&wb.ID,
		&wb.Name,
		&sourceFile,
		&sheets,
		&wb.ParamCount,
		&wb.CreatedAt,
		&wb.UpdatedAt,
		&source,
	)
	if err != nil {
		return nil, err
	}
	wb.SourceFile = sourceFile.String
	if len(sheets) > 0 {
		if err := json.Unmarshal(sheets, &wb.Sheets); err != nil {
			return nil, fmt.Errorf("decode sheets of workbook %s: %w", wb.ID, err)
		}
	}
	if len(source) > 0 {
		wb.Source = source
	}
	return &wb, nil
}

// scanParameter scans a single row into a model.Parameter.
// The row must contain columns in the order defined by parameterColumns.
func scanParameter(row scannable) (*model.Parameter, error) {
	var p model.Parameter
	var (
		category    string
		unit        sql.NullString
		value       []byte
		formula     sql.NullString
		description sql.NullString
		deps        []byte
		depNames    []byte
		sheet       sql.NullString
		errText     sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&category,
		&p.Name,
		&unit,
		&value,
		&formula,
		&description,
		&deps,
		&depNames,
		&sheet,
		&p.Row,
		&errText,
		&p.HasCircularDependency,
	)
	if err != nil {
		return nil, err
	}
	p.Category = model.Category(category)
	p.Unit = unit.String
	p.Formula = formula.String
	p.FormulaDescription = description.String
	p.Sheet = sheet.String
	p.Error = errText.String

	if len(value) > 0 {
		if err := json.Unmarshal(value, &p.Value); err != nil {
			return nil, fmt.Errorf("decode value of %s: %w", p.ID, err)
		}
	}
	if err := unmarshalList(deps, &p.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies of %s: %w", p.ID, err)
	}
	if err := unmarshalList(depNames, &p.DependencyNames); err != nil {
		return nil, fmt.Errorf("decode dependency names of %s: %w", p.ID, err)
	}
	return &p, nil
}

// scanDependency scans a single row into a model.DependencyRecord.
func scanDependency(row scannable) (model.DependencyRecord, error) {
	var d model.DependencyRecord
	var source, target sql.NullString
	if err := row.Scan(&d.SourceID, &d.TargetID, &source, &target); err != nil {
		return d, err
	}
	d.Source = source.String
	d.Target = target.String
	return d, nil
}

// scanComputation scans a single row into a model.Computation.
func scanComputation(row scannable) (*model.Computation, error) {
	var c model.Computation
	var (
		inputs  []byte
		errText sql.NullString
	)
	err := row.Scan(
		&c.ID,
		&c.WorkbookID,
		&c.Sequence,
		&inputs,
		&c.Applied,
		&c.Failed,
		&errText,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Error = errText.String
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &c.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs of computation %d: %w", c.ID, err)
		}
	}
	return &c, nil
}

func unmarshalList(b []byte, dst *[]string) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes marshals v for a JSONB column; nil slices become an empty array.
func jsonbBytes(v any) ([]byte, error) {
	if list, ok := v.([]string); ok && list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

// valueBytes encodes a parameter value for the value column; absent is null.
func valueBytes(v model.Value) ([]byte, error) {
	if v.IsAbsent() {
		return nil, nil
	}
	return json.Marshal(v)
}
