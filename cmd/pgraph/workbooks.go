package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paramgraph/internal/client"
	"github.com/alfredjeanlab/paramgraph/internal/workbook"
)

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load a workbook from a spreadsheet (.xlsx/.xlsm) or a JSON parameter file",
	Long: `Load a workbook into the server.

A spreadsheet is uploaded as-is; the server extracts its parameters and keeps
the file for recalculation. A JSON file holds the output of
'pgraph extract --json', or the four category lists at top level:

  {"input_params": [...], "intermediate_params": [...],
   "output_params": [...], "independent_params": [...],
   "dependencies": [{"source_id": "A", "target_id": "B"}]}`,
	GroupID: "workbooks",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		name, _ := cmd.Flags().GetString("name")

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		var resp *client.CreateWorkbookResponse
		switch strings.ToLower(filepath.Ext(path)) {
		case ".xlsx", ".xlsm":
			resp, err = graphClient.UploadWorkbook(context.Background(), name, filepath.Base(path), f)
		case ".json":
			req, derr := decodeParameterFile(f)
			if derr != nil {
				return fmt.Errorf("reading %s: %w", path, derr)
			}
			req.Name = name
			if req.Name == "" {
				req.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			resp, err = graphClient.CreateWorkbook(context.Background(), req)
		default:
			return fmt.Errorf("unsupported file type %q (want .xlsx, .xlsm or .json)", filepath.Ext(path))
		}
		if err != nil {
			return fmt.Errorf("loading workbook: %w", err)
		}
		return emit(resp, func(w io.Writer) { printLoadReport(w, resp) })
	},
}

func decodeParameterFile(r io.Reader) (*client.CreateWorkbookRequest, error) {
	var raw struct {
		Parameters   json.RawMessage `json:"parameters"`
		Dependencies json.RawMessage `json:"dependencies"`
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var req client.CreateWorkbookRequest
	// Either {"parameters": {...}} or the category lists at top level.
	if len(raw.Parameters) > 0 {
		err = json.Unmarshal(data, &req)
	} else {
		err = json.Unmarshal(data, &req.Parameters)
		if err == nil && len(raw.Dependencies) > 0 {
			err = json.Unmarshal(raw.Dependencies, &req.Dependencies)
		}
	}
	if err != nil {
		return nil, err
	}
	if req.Parameters == nil || req.Parameters.Len() == 0 {
		return nil, fmt.Errorf("no parameters found")
	}
	return &req, nil
}

var extractCmd = &cobra.Command{
	Use:   "extract <file.xlsx>",
	Short: "Extract parameters from a spreadsheet locally without a server",
	Long: `Extract parameters from a spreadsheet locally without a server.

With --optimize, parameters declared more than once are consolidated first
and the rewritten spreadsheet is saved to the given path.`,
	GroupID: "workbooks",
	Args:    cobra.ExactArgs(1),
	// Runs offline.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("optimize")
		if out == "" {
			res, err := workbook.ExtractFile(args[0])
			if err != nil {
				return err
			}
			return emit(res, func(w io.Writer) { printExtraction(w, res, nil) })
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		opt, err := workbook.Optimize(data)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, opt.Workbook, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		return emit(opt, func(w io.Writer) {
			printExtraction(w, opt.Result, opt.Consolidation)
			fmt.Fprintf(w, "Optimized workbook written to %s\n", out)
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:     "download <workbook-id> <file.xlsx>",
	Short:   "Save the optimized spreadsheet of an uploaded workbook",
	GroupID: "workbooks",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := graphClient.DownloadWorkbook(context.Background(), args[0], f); err != nil {
			f.Close()
			os.Remove(args[1])
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, map[string]string{"workbook": args[0], "file": args[1]})
		}
		fmt.Printf("Saved %s to %s\n", args[0], args[1])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"workbooks", "ls"},
	Short:   "List loaded workbooks",
	GroupID: "workbooks",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wbs, err := graphClient.ListWorkbooks(context.Background())
		if err != nil {
			return err
		}
		return emit(wbs, func(w io.Writer) { printWorkbookList(w, wbs) })
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <workbook-id>",
	Short:   "Delete a workbook and its computation history",
	GroupID: "workbooks",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := graphClient.DeleteWorkbook(context.Background(), args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, map[string]string{"deleted": args[0]})
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	loadCmd.Flags().String("name", "", "workbook name (default: file name)")
	extractCmd.Flags().String("optimize", "", "write the consolidated spreadsheet to this path")
}
