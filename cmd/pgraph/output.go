package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/paramgraph/internal/client"
	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/ui"
	"github.com/alfredjeanlab/paramgraph/internal/view"
	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// emit prints v as JSON when --json is set and calls table otherwise.
func emit(v any, table func(io.Writer)) error {
	if jsonOutput {
		return printJSON(os.Stdout, v)
	}
	table(os.Stdout)
	return nil
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func valueText(v model.Value, unit, errMsg string) string {
	if errMsg != "" {
		return ui.RenderError("#ERR " + errMsg)
	}
	s := model.FormatValue(v)
	if unit != "" {
		s += " " + unit
	}
	return s
}

func printWorkbookTable(w io.Writer, wb *model.Workbook) {
	fmt.Fprintf(w, "ID:          %s\n", wb.ID)
	fmt.Fprintf(w, "Name:        %s\n", wb.Name)
	if wb.SourceFile != "" {
		fmt.Fprintf(w, "Source:      %s\n", wb.SourceFile)
	}
	if len(wb.Sheets) > 0 {
		fmt.Fprintf(w, "Sheets:      %s\n", strings.Join(wb.Sheets, ", "))
	}
	fmt.Fprintf(w, "Parameters:  %d\n", wb.ParamCount)
	if !wb.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", wb.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func printLoadReport(w io.Writer, resp *client.CreateWorkbookResponse) {
	printWorkbookTable(w, resp.Workbook)
	r := resp.Report
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Edges:       %d\n", r.Edges)
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", ui.RenderWarn("warning:"), warn.Message)
	}
	if r.Cycles != nil && r.Cycles.HasCycle {
		fmt.Fprintf(w, "%s %s\n", ui.RenderWarn("cycle:"), strings.Join(r.Cycles.Cycle, " -> "))
	}
	printConsolidation(w, resp.Consolidation)
}

// printExtraction prints an offline extraction and what consolidating it
// changed, if anything.
func printExtraction(w io.Writer, res *workbook.Result, c *workbook.Consolidation) {
	printCategories(w, res.Categories)
	fmt.Fprintf(w, "%d dependencies across sheets %s\n", len(res.Dependencies), strings.Join(res.Sheets, ", "))
	printConsolidation(w, c)
}

func printConsolidation(w io.Writer, c *workbook.Consolidation) {
	if c.Empty() {
		return
	}
	for _, r := range c.Replaced {
		fmt.Fprintf(w, "merged:  %s!%d %s into %s\n", r.Sheet, r.Row, r.ID, r.Source)
	}
	for _, r := range c.Renamed {
		fmt.Fprintf(w, "renamed: %s!%d %s to %s\n", r.Sheet, r.Row, r.From, r.To)
	}
}

func printWorkbookList(w io.Writer, wbs []*model.Workbook) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPARAMS\tSOURCE\tCREATED")
	for _, wb := range wbs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			wb.ID,
			truncate(wb.Name, 40),
			wb.ParamCount,
			wb.SourceFile,
			wb.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d workbooks\n", len(wbs))
}

func printCategories(w io.Writer, cats *model.Categories) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tID\tNAME\tVALUE\tDEPENDS ON")
	cats.Each(func(cat model.Category, p *model.Parameter) {
		deps := p.DependencyNames
		if len(deps) == 0 {
			deps = p.Dependencies
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ui.RenderCategory(cat, string(cat)),
			p.ID,
			truncate(p.Name, 40),
			valueText(p.Value, p.Unit, p.Error),
			truncate(strings.Join(deps, ", "), max(20, ui.Width()/3)),
		)
	})
	tw.Flush()
	fmt.Fprintf(w, "\n%d parameters (%d input, %d intermediate, %d output, %d independent)\n",
		cats.Len(), len(cats.Input), len(cats.Intermediate), len(cats.Output), len(cats.Independent))
}

func printDetail(w io.Writer, d *model.ParameterDetail) {
	p := d.Parameter
	fmt.Fprintf(w, "ID:          %s\n", p.ID)
	fmt.Fprintf(w, "Name:        %s\n", p.Name)
	fmt.Fprintf(w, "Category:    %s\n", ui.RenderCategory(d.Category, string(d.Category)))
	fmt.Fprintf(w, "Value:       %s\n", valueText(p.Value, p.Unit, p.Error))
	if p.Sheet != "" {
		fmt.Fprintf(w, "Location:    %s row %d\n", p.Sheet, p.Row)
	}
	if p.Formula != "" {
		fmt.Fprintf(w, "Formula:     %s\n", p.Formula)
	}
	if p.FormulaDescription != "" {
		fmt.Fprintf(w, "Description: %s\n", p.FormulaDescription)
	}
	if d.HasCircularDependency {
		fmt.Fprintf(w, "%s\n", ui.RenderWarn("Part of a circular dependency"))
	}
	if d.DependencyChain != nil && len(d.DependencyChain.Children) > 0 {
		fmt.Fprintln(w, "\nDepends on:")
		printChain(w, d.DependencyChain.Children, "")
	}
}

// printChain draws a dependency-chain tree with box-drawing connectors.
func printChain(w io.Writer, nodes []*model.ChainNode, prefix string) {
	for i, n := range nodes {
		connector, childPrefix := "├── ", "│   "
		if i == len(nodes)-1 {
			connector, childPrefix = "└── ", "    "
		}
		label := fmt.Sprintf("%s %s = %s", n.ID, n.Name, valueText(n.Value, n.Unit, ""))
		if n.IsCycle {
			label = n.ID + " " + ui.RenderWarn("(cycle)")
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, connector, label)
		printChain(w, n.Children, prefix+childPrefix)
	}
}

func printClosure(w io.Writer, cl *client.Closure) {
	if len(cl.Closure) == 0 {
		fmt.Fprintf(w, "%s has no %s.\n", cl.ID, cl.Direction)
		return
	}
	fmt.Fprintf(w, "%s %s (%d):\n", cl.ID, cl.Direction, len(cl.Closure))
	for _, id := range cl.Closure {
		fmt.Fprintf(w, "  %s\n", id)
	}
	if cl.HasCycle {
		fmt.Fprintln(w, ui.RenderWarn("graph contains a cycle; closure may be partial"))
	}
}

func printDependencies(w io.Writer, deps []model.DependencyRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\t\tTARGET")
	for _, d := range deps {
		src, tgt := d.SourceID, d.TargetID
		if d.Source != "" {
			src += " (" + d.Source + ")"
		}
		if d.Target != "" {
			tgt += " (" + d.Target + ")"
		}
		fmt.Fprintf(tw, "%s\t->\t%s\n", src, tgt)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d edges\n", len(deps))
}

func printCycles(w io.Writer, r *graph.CycleReport) {
	if !r.HasCycle {
		fmt.Fprintln(w, "No circular dependencies.")
		return
	}
	fmt.Fprintf(w, "%s %s\n", ui.RenderWarn("Cycle:"), strings.Join(r.Cycle, " -> "))
	if len(r.CyclicNodes) > 0 {
		fmt.Fprintf(w, "Cyclic:   %s\n", strings.Join(r.CyclicNodes, ", "))
	}
	if len(r.Affected) > 0 {
		fmt.Fprintf(w, "Affected: %s\n", strings.Join(r.Affected, ", "))
	}
}

func printCalculation(w io.Writer, resp *client.CalculateResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVALUE")
	for _, id := range slices.Sorted(maps.Keys(resp.CalculatedValues)) {
		cv := resp.CalculatedValues[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, truncate(cv.Name, 40), valueText(cv.Value, cv.Unit, cv.Error))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nsequence %d: %d applied", resp.Sequence, len(resp.Applied))
	if len(resp.Failed) > 0 {
		fmt.Fprintf(w, ", %s", ui.RenderError(fmt.Sprintf("%d failed", len(resp.Failed))))
	}
	if len(resp.Unknown) > 0 {
		fmt.Fprintf(w, ", %d unknown ignored", len(resp.Unknown))
	}
	fmt.Fprintln(w)
}

func printComputations(w io.Writer, list []*model.Computation) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No computations recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tWHEN\tINPUTS\tAPPLIED\tFAILED\tERROR")
	for _, c := range list {
		inputs := make([]string, 0, len(c.Inputs))
		for _, k := range slices.Sorted(maps.Keys(c.Inputs)) {
			inputs = append(inputs, fmt.Sprintf("%s=%s", k, model.FormatValue(model.Number(c.Inputs[k]))))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			c.Sequence,
			c.CreatedAt.Format("2006-01-02 15:04:05"),
			truncate(strings.Join(inputs, " "), 40),
			c.Applied,
			c.Failed,
			truncate(c.Error, 40),
		)
	}
	tw.Flush()
}

func printProjection(w io.Writer, p *view.Projection) {
	header := fmt.Sprintf("View: %s (%s)", p.Mode, p.State)
	if p.Focal != "" {
		header += " focused on " + p.Focal
	}
	fmt.Fprintln(w, ui.RenderAccent(header))
	if len(p.Nodes) == 0 {
		fmt.Fprintln(w, "No nodes.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, n := range p.Nodes {
		marker := "  "
		if n.ID == p.Focal {
			marker = "* "
		}
		name := n.Name
		if n.InCycle {
			name += " " + ui.RenderWarn("(cycle)")
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n",
			marker, n.ID, ui.RenderCategory(n.Category, string(n.Category)), name, valueText(n.Value, n.Unit, n.Error))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d nodes, %d edges\n", len(p.Nodes), len(p.Edges))
}
