package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paramgraph/internal/config"
	pgsync "github.com/alfredjeanlab/paramgraph/internal/sync"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every stored workbook as JSONL",
	Long: `Export every workbook in the configured database as JSONL, the same
format the sync scheduler writes to S3 or git. Reads PARAMGRAPH_DATABASE_URL.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	// Reads the database directly.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("PARAMGRAPH_DATABASE_URL must be set to export")
		}
		st, err := openStore(cmd.Context(), cfg, cfg.NewLogger(os.Stderr))
		if err != nil {
			return err
		}
		defer st.Close()

		var w io.Writer = cmd.OutOrStdout()
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return pgsync.ExportJSONL(cmd.Context(), st, w)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
}
