package compute

import (
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

// areaWorkbook has Length (C2), Width (C3), Area = C2*C3 and Cost = C4*10.
func areaWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Parameter", "Unit", "Value"},
		{"Length", "m", 2},
		{"Width", "m", 3},
		{"Area", "m2", nil},
		{"Cost", "USD", nil},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	for cell, formula := range map[string]string{"C4": "C2*C3", "C5": "C4*10"} {
		if err := f.SetCellFormula("Sheet1", cell, formula); err != nil {
			t.Fatalf("SetCellFormula: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func allParameters(c *model.Categories) []*model.Parameter {
	var ps []*model.Parameter
	c.Each(func(_ model.Category, p *model.Parameter) { ps = append(ps, p) })
	return ps
}

func TestWorkbookCompute(t *testing.T) {
	data := areaWorkbook(t)
	res, err := workbook.ExtractBytes(data, workbook.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}

	out, err := NewWorkbook(quietLogger()).Compute(context.Background(), &Request{
		Parameters: allParameters(res.Categories),
		Inputs:     map[string]float64{"Width": 5},
		Source:     data,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for id, want := range map[string]float64{"Length": 2, "Width": 5, "Area": 10, "Cost": 100} {
		if got := num(t, out, id); got != want {
			t.Errorf("%s = %v, want %v", id, got, want)
		}
	}
}

func TestWorkbookComputeNoSource(t *testing.T) {
	_, err := NewWorkbook(quietLogger()).Compute(context.Background(), &Request{Parameters: chain()})
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
}

func TestFallbackSkipsMissingSource(t *testing.T) {
	calc := Fallback{NewWorkbook(quietLogger()), NewLocal(quietLogger())}
	out, err := calc.Compute(context.Background(), &Request{Parameters: chain()})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := num(t, out, "C"); got != 5 {
		t.Errorf("C = %v, want 5", got)
	}

	_, err = Fallback{NewWorkbook(quietLogger())}.Compute(context.Background(), &Request{})
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("err = %v, want ErrNoSource", err)
	}

	boom := errors.New("boom")
	failing := Func(func(context.Context, *Request) (model.ComputedMap, error) { return nil, boom })
	if _, err := (Fallback{failing}).Compute(context.Background(), &Request{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
