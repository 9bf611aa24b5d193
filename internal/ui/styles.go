// Package ui renders terminal output: status glyph styles, the timeline
// table, humanized values and JSON/YAML encoders.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Color modes accepted by Init.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#58A6FF"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"})
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// Init selects the color profile for mode. With ColorAuto, color is used
// only when out is a terminal and NO_COLOR is unset.
func Init(mode string, out io.Writer) {
	if ColorEnabled(mode, out) {
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
		if lipgloss.ColorProfile() == termenv.Ascii {
			lipgloss.SetColorProfile(termenv.ANSI256)
		}
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// ColorEnabled reports whether mode resolves to colored output on out.
func ColorEnabled(mode string, out io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return IsTerminal(out)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s in the success color.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s in the failure color.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders s dimmed.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold renders s in bold.
func RenderBold(s string) string { return boldStyle.Render(s) }

// RenderAdded renders an added-lines count as "+N".
func RenderAdded(n int) string {
	return passStyle.Render("+" + itoa(n))
}

// RenderRemoved renders a removed-lines count as "-N".
func RenderRemoved(n int) string {
	return failStyle.Render("-" + itoa(n))
}
