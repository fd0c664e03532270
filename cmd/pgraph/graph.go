package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:     "params <workbook-id>",
	Short:   "List a workbook's parameters by category",
	GroupID: "graph",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cats, err := graphClient.GetParameters(context.Background(), args[0])
		if err != nil {
			return err
		}
		return emit(cats, func(w io.Writer) { printCategories(w, cats) })
	},
}

var showCmd = &cobra.Command{
	Use:     "show <workbook-id> <parameter-id>",
	Short:   "Show a parameter with its dependency chain",
	GroupID: "graph",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := graphClient.GetParameter(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		return emit(d, func(w io.Writer) { printDetail(w, d) })
	},
}

var closureCmd = &cobra.Command{
	Use:     "closure <workbook-id> <parameter-id>",
	Short:   "List everything a parameter depends on, transitively",
	GroupID: "graph",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dependents, _ := cmd.Flags().GetBool("dependents")
		cl, err := graphClient.GetClosure(context.Background(), args[0], args[1], dependents)
		if err != nil {
			return err
		}
		return emit(cl, func(w io.Writer) { printClosure(w, cl) })
	},
}

var depsCmd = &cobra.Command{
	Use:     "deps <workbook-id>",
	Short:   "List the dependency edges of a workbook",
	GroupID: "graph",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := graphClient.GetDependencies(context.Background(), args[0])
		if err != nil {
			return err
		}
		return emit(deps, func(w io.Writer) { printDependencies(w, deps) })
	},
}

var cyclesCmd = &cobra.Command{
	Use:     "cycles <workbook-id>",
	Short:   "Report circular dependencies",
	GroupID: "graph",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := graphClient.GetCycles(context.Background(), args[0])
		if err != nil {
			return err
		}
		return emit(report, func(w io.Writer) { printCycles(w, report) })
	},
}

var orderCmd = &cobra.Command{
	Use:     "order <workbook-id>",
	Short:   "Print the evaluation order of a workbook",
	GroupID: "graph",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := graphClient.GetOrder(context.Background(), args[0])
		if err != nil {
			return err
		}
		return emit(order, func(w io.Writer) {
			fmt.Fprintln(w, strings.Join(order, " -> "))
		})
	},
}

func init() {
	closureCmd.Flags().Bool("dependents", false, "list parameters that depend on this one instead")
}
