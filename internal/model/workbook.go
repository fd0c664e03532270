package model

import "time"

// Workbook is a stored parameter set, typically extracted from one spreadsheet.
type Workbook struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceFile string    `json:"source_file,omitempty"`
	Sheets     []string  `json:"sheets,omitempty"`
	ParamCount int       `json:"param_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Source holds the raw spreadsheet bytes when the workbook was uploaded.
	// It is never serialized.
	Source []byte `json:"-"`
}

// Computation records one merged compute request.
type Computation struct {
	ID         int64              `json:"id"`
	WorkbookID string             `json:"workbook_id"`
	Sequence   uint64             `json:"sequence"`
	Inputs     map[string]float64 `json:"inputs"`
	Applied    int                `json:"applied"`
	Failed     int                `json:"failed"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}
