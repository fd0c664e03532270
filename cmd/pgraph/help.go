package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paramgraph/internal/ui"
)

// helpRule restyles one part of Cobra's help text. When group is non-zero
// only that submatch is styled and the rest of the match is kept.
type helpRule struct {
	re    *regexp.Regexp
	group int
	style func(string) string
}

var helpRules = []helpRule{
	// Group headers such as "Graph:" or "Flags:".
	{regexp.MustCompile(`(?m)^[A-Z][^\n]*:$`), 0, ui.RenderAccent},
	// Command names in the command list.
	{regexp.MustCompile(`(?m)^  (\S+)  `), 1, ui.RenderCommand},
	// Flag value types.
	{regexp.MustCompile(`--?\S+\s+(string|int|float64|duration|stringSlice|stringArray)\b`), 1, ui.RenderMuted},
	// Quoted defaults.
	{regexp.MustCompile(`\(default "[^"]*"\)`), 0, ui.RenderMuted},
}

// colorizedHelpFunc renders Cobra's usage and restyles it when stdout
// supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(m string) string {
			if r.group == 0 {
				return r.style(m)
			}
			loc := r.re.FindStringSubmatchIndex(m)
			start, end := loc[2*r.group], loc[2*r.group+1]
			return m[:start] + r.style(m[start:end]) + m[end:]
		})
	}
	return s
}
