package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paramgraph/internal/client"
	"github.com/alfredjeanlab/paramgraph/internal/view"
)

var viewCmd = &cobra.Command{
	Use:   "view <workbook-id> [<focus-id>]",
	Short: "Project the dependency graph, optionally around one parameter",
	Long: `Project a workbook's dependency graph.

Without a focus the current server-side view is shown. With a focus the view
shows that parameter and its transitive dependencies (--mode dependencies,
the default when a focus is given) or the whole graph (--mode all).
--select stores the mode and focus as the workbook's current view; a mode
alone keeps the stored focus, and --clear drops it.`,
	GroupID: "views",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		sel, _ := cmd.Flags().GetBool("select")
		clearFocus, _ := cmd.Flags().GetBool("clear")
		if clearFocus && !sel {
			return fmt.Errorf("--clear requires --select")
		}
		if mode != "" {
			if _, err := view.ParseMode(mode); err != nil {
				return err
			}
		}
		req := &client.ViewRequest{Mode: mode, Clear: clearFocus}
		if len(args) == 2 {
			req.Focus = args[1]
		}

		var (
			p   *view.Projection
			err error
		)
		if sel {
			p, err = graphClient.SetView(context.Background(), args[0], req)
		} else {
			p, err = graphClient.GetView(context.Background(), args[0], req)
		}
		if err != nil {
			return err
		}
		return emit(p, func(w io.Writer) { printProjection(w, p) })
	},
}

func init() {
	viewCmd.Flags().String("mode", "", "view mode: all or dependencies")
	viewCmd.Flags().Bool("select", false, "store this view as the workbook's current view")
	viewCmd.Flags().Bool("clear", false, "with --select, drop the stored focus")
}
