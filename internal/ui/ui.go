// Package ui holds the terminal styling used by the CLI commands.
// Styles degrade to plain text when stdout is not a terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Interactive reports whether stdout is a terminal with color support.
func Interactive() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.DefaultOutput().Profile != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !Interactive() {
		return s
	}
	return style.Render(s)
}

// RenderPass styles a success message.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr styles an error message.
func RenderErr(s string) string { return render(errStyle, s) }

// RenderAccent styles a heading or emphasized value.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim styles secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }
