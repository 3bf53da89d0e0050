// Package styles holds the terminal colour palette shared by the CLI views.
package styles

import "github.com/charmbracelet/lipgloss"

// Theme is the colour palette. BarStart and BarEnd are the progress bar
// gradient as hex strings.
type Theme struct {
	Brand   lipgloss.Color
	Muted   lipgloss.Color
	Deleted lipgloss.Color
	Failed  lipgloss.Color

	BarStart string
	BarEnd   string
}

func DefaultTheme() *Theme {
	return &Theme{
		Brand:    "#2CA01C",
		Muted:    "#6C7086",
		Deleted:  "#A6E3A1",
		Failed:   "#F38BA8",
		BarStart: "#108000",
		BarEnd:   "#A6E3A1",
	}
}

// Styles are the lipgloss styles the views render with.
type Styles struct {
	theme *Theme

	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Help    lipgloss.Style
}

// NewStyles derives styles from theme; nil means DefaultTheme.
func NewStyles(theme *Theme) *Styles {
	if theme == nil {
		theme = DefaultTheme()
	}
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return &Styles{
		theme:   theme,
		Title:   fg(theme.Brand).Bold(true),
		Muted:   fg(theme.Muted),
		Success: fg(theme.Deleted),
		Error:   fg(theme.Failed),
		Help:    fg(theme.Muted).Italic(true),
	}
}

func DefaultStyles() *Styles { return NewStyles(nil) }

func (s *Styles) Theme() *Theme { return s.theme }
