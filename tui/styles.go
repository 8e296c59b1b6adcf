// Package tui renders data index listings for the terminal.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorPrimary    = lipgloss.Color("#7D56F4") // Purple
	ColorSecondary  = lipgloss.Color("#6C757D") // Gray
	ColorSuccess    = lipgloss.Color("#28A745") // Green
	ColorWarning    = lipgloss.Color("#FFC107") // Yellow
	ColorError      = lipgloss.Color("#DC3545") // Red
	ColorInfo       = lipgloss.Color("#17A2B8") // Blue
	ColorMuted      = lipgloss.Color("#6C757D")
	ColorForeground = lipgloss.Color("#CDD6F4")
)

// Status indicator symbols
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolPending = "○"
	SymbolBullet  = "•"
)

// Styles holds the styles used by the table renderers.
type Styles struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style

	TableHeader lipgloss.Style
	TableRow    lipgloss.Style
	TableCell   lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1),

		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Info:    lipgloss.NewStyle().Foreground(ColorInfo),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),

		TableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary),

		TableRow: lipgloss.NewStyle().
			Foreground(ColorForeground),

		TableCell: lipgloss.NewStyle().
			PaddingRight(1),
	}
}

// StatusIcon returns a styled icon for a copy, request or node state.
func (s *Styles) StatusIcon(status string) string {
	switch status {
	case "present", "keep", "completed", "active":
		return s.Success.Render(SymbolSuccess)
	case "corrupt", "removed", "cancelled", "inactive":
		return s.Error.Render(SymbolError)
	case "suspect", "maybe":
		return s.Warning.Render(SymbolWarning)
	case "pending":
		return s.Muted.Render(SymbolPending)
	default:
		return s.Muted.Render(SymbolBullet)
	}
}

// FormatBytes formats bytes into a human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatTime formats a timestamp for a table cell. The zero time renders
// as "-".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
