package ui

import (
	"fmt"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent       = 74  // blue
	colorCmd          = 250 // light gray
	colorMuted        = 245 // medium gray
	colorInput        = 114 // green
	colorIntermediate = 179 // amber
	colorOutput       = 74  // blue
	colorError        = 203 // red
	colorWarn         = 215 // orange
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderError returns s in red.
func RenderError(s string) string { return render(colorError, s) }

// RenderWarn returns s in orange. Used for circular dependencies.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderCategory colors s by the parameter category it belongs to.
// Independent parameters are muted.
func RenderCategory(c model.Category, s string) string {
	switch c {
	case model.CategoryInput:
		return render(colorInput, s)
	case model.CategoryIntermediate:
		return render(colorIntermediate, s)
	case model.CategoryOutput:
		return render(colorOutput, s)
	default:
		return render(colorMuted, s)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
