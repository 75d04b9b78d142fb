package cmd

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	indexStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	argsStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

// formatArgs renders an argument vector the way a POSIX shell would accept it.
func formatArgs(argv []string) string {
	if len(argv) == 0 {
		return mutedStyle.Render("(no arguments)")
	}
	return argsStyle.Render(shellquote.Join(argv...))
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func label(key, value string) string {
	return mutedStyle.Render(key+":") + strings.Repeat(" ", max(1, 12-len(key))) + value
}
