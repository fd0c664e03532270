package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/store"
)

// FormatVersion is written into every export header.
const FormatVersion = "1"

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	WorkbookCount  int       `json:"workbook_count"`
	ParameterCount int       `json:"parameter_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// workbookRecord is the data of a "workbook" line.
type workbookRecord struct {
	Workbook     *model.Workbook          `json:"workbook"`
	Parameters   *model.Categories        `json:"parameters"`
	Dependencies []model.DependencyRecord `json:"dependencies"`
}

// ExportJSONL writes every workbook with its parameter lists and dependency
// records as JSONL to w, sorted by workbook id. Spreadsheet source bytes are
// not exported.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	workbooks, err := s.ListWorkbooks(ctx)
	if err != nil {
		return fmt.Errorf("list workbooks: %w", err)
	}
	sort.Slice(workbooks, func(i, j int) bool {
		return workbooks[i].ID < workbooks[j].ID
	})

	records := make([]workbookRecord, 0, len(workbooks))
	params := 0
	for _, wb := range workbooks {
		cats, err := s.GetParameters(ctx, wb.ID)
		if err != nil {
			return fmt.Errorf("get parameters for %s: %w", wb.ID, err)
		}
		deps, err := s.GetDependencies(ctx, wb.ID)
		if err != nil {
			return fmt.Errorf("get dependencies for %s: %w", wb.ID, err)
		}
		params += cats.Len()
		records = append(records, workbookRecord{Workbook: wb, Parameters: cats, Dependencies: deps})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:        FormatVersion,
		Type:           "header",
		Timestamp:      time.Now().UTC(),
		WorkbookCount:  len(records),
		ParameterCount: params,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range records {
		if err := enc.Encode(record{Type: "workbook", Data: r}); err != nil {
			return fmt.Errorf("encode workbook %s: %w", r.Workbook.ID, err)
		}
	}
	return nil
}

// contentHash hashes an export without its header line.
func contentHash(data []byte) [32]byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return sha256.Sum256(data)
}
