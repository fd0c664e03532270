package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var calcCmd = &cobra.Command{
	Use:   "calc <workbook-id> [<id>=<value>...]",
	Short: "Recalculate a workbook with input overrides",
	Long: `Recalculate a workbook. Each argument after the workbook id overrides one
input parameter, e.g.

  pgraph calc wb-abc123 Width=5 Sheet1!B3=12.5`,
	GroupID: "compute",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := parseInputs(args[1:])
		if err != nil {
			return err
		}
		resp, err := graphClient.Calculate(context.Background(), args[0], inputs)
		if err != nil {
			return err
		}
		return emit(resp, func(w io.Writer) { printCalculation(w, resp) })
	},
}

// parseInputs turns id=value arguments into an override map. The last
// assignment to an id wins.
func parseInputs(args []string) (map[string]float64, error) {
	inputs := make(map[string]float64, len(args))
	for _, arg := range args {
		id, raw, ok := strings.Cut(arg, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid input %q (want <id>=<value>)", arg)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %q is not a number", id, raw)
		}
		inputs[id] = v
	}
	return inputs, nil
}

var historyCmd = &cobra.Command{
	Use:     "history <workbook-id>",
	Short:   "Show recent computations of a workbook",
	GroupID: "compute",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		list, err := graphClient.ListComputations(context.Background(), args[0], limit)
		if err != nil {
			return err
		}
		return emit(list, func(w io.Writer) { printComputations(w, list) })
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of computations to show")
}
