package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Footer renders the last error and keyboard hints.
type Footer struct {
	width int

	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates the key-hint footer.
func NewFooter() *Footer {
	return &Footer{
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetWidth sets the width the hints are fitted to.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// View renders the hints, preceded by err when set.
func (f *Footer) View(err error) string {
	hints := f.hintStyle.Render("tab/1-4 views │ ↑/↓ scroll │ r refresh │ q quit")
	if err == nil {
		return hints
	}
	msg := "✗ " + err.Error()
	if room := f.width - lipgloss.Width(hints) - 3; room > 10 && len(msg) > room {
		msg = msg[:room-1] + "…"
	}
	return f.errorStyle.Render(msg) + f.separatorStyle.Render(" │ ") + hints
}
