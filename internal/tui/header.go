package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
)

// Header renders the title line with the gate verdict.
type Header struct {
	width int

	titleStyle     lipgloss.Style
	attentionStyle lipgloss.Style
	quietStyle     lipgloss.Style
	dimStyle       lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{
		width: 80,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#45B7D1")),

		attentionStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("214")).
			Padding(0, 1),

		quietStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("34")).
			Padding(0, 1),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// View renders the header. loading shows the spinner in place of the
// refresh time.
func (h *Header) View(project string, gate *orchestrator.GateStatus, takenAt time.Time, loading bool, sp spinner.Model) string {
	scope := "all projects"
	if project != "" {
		scope = project
	}
	left := h.titleStyle.Render("foreman") + h.dimStyle.Render(" · "+scope)

	badge := h.dimStyle.Render("waiting for data")
	if gate != nil {
		if gate.NeedsAttention {
			badge = h.attentionStyle.Render("NEEDS ATTENTION")
		} else {
			badge = h.quietStyle.Render("QUIET")
		}
	}

	var right string
	switch {
	case loading:
		right = sp.View() + h.dimStyle.Render(" refreshing")
	case !takenAt.IsZero():
		right = h.dimStyle.Render(fmt.Sprintf("updated %s", takenAt.Format("15:04:05")))
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", badge)
	gap := h.width - lipgloss.Width(line) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return line + lipgloss.NewStyle().Width(gap).Render("") + right
}
