// Package style holds the lipgloss styles shared by the CLI and TUI.
package style

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Success marks completed actions.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)

	// Warning marks non-fatal problems.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)

	// Error marks failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Info highlights links and hints.
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	// Dim is for secondary text such as tags and origins.
	Dim = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	Bold = lipgloss.NewStyle().Bold(true)

	// Code frames the device-flow user code.
	Code = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("12")).
		Padding(0, 3)

	// Header styles table headings.
	Header = lipgloss.NewStyle().Bold(true).Underline(true)

	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Info.Render("→")

	// ActiveMarker flags the profile git currently uses.
	ActiveMarker = Success.Render("*")
)

// Successf renders a success line.
func Successf(format string, args ...any) string {
	return SuccessPrefix + " " + fmt.Sprintf(format, args...)
}

// Warningf renders a warning line.
func Warningf(format string, args ...any) string {
	return WarningPrefix + " " + Warning.Render(fmt.Sprintf(format, args...))
}

// Errorf renders an error line.
func Errorf(format string, args ...any) string {
	return ErrorPrefix + " " + fmt.Sprintf(format, args...)
}
