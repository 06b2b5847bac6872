package tui

import (
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Dashboard views.
const (
	TabOverview = iota
	TabRuns
	TabSignals
	TabReady
)

var defaultTabs = []string{"Overview", "Runs", "Signals", "Ready"}

// TabBar switches between the dashboard views.
type TabBar struct {
	tabs   []string
	active int

	activeStyle   lipgloss.Style
	inactiveStyle lipgloss.Style
	barStyle      lipgloss.Style
}

// NewTabBar starts on the overview.
func NewTabBar() TabBar {
	return TabBar{
		tabs:   defaultTabs,
		active: TabOverview,

		activeStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),

		inactiveStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 2),

		barStyle: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
	}
}

// Update moves between tabs on tab, arrow, h/l and digit keys.
func (t TabBar) Update(msg tea.Msg) (TabBar, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "tab", "right", "l":
			t.active = (t.active + 1) % len(t.tabs)
		case "shift+tab", "left", "h":
			t.active = (t.active - 1 + len(t.tabs)) % len(t.tabs)
		case "1":
			t.SetActive(TabOverview)
		case "2":
			t.SetActive(TabRuns)
		case "3":
			t.SetActive(TabSignals)
		case "4":
			t.SetActive(TabReady)
		}
	}
	return t, nil
}

// View renders the tab bar. counts, when given, is shown next to each label.
func (t TabBar) View(counts ...int) string {
	rendered := make([]string, 0, len(t.tabs))
	for i, tab := range t.tabs {
		label := tab
		if i < len(counts) && counts[i] > 0 {
			label = tab + " " + strconv.Itoa(counts[i])
		}
		if i == t.active {
			rendered = append(rendered, t.activeStyle.Render(label))
		} else {
			rendered = append(rendered, t.inactiveStyle.Render(label))
		}
	}
	return t.barStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
}

// SetActive sets the active tab by index, clamped to the valid range.
func (t *TabBar) SetActive(index int) {
	switch {
	case index < 0:
		t.active = 0
	case index >= len(t.tabs):
		t.active = len(t.tabs) - 1
	default:
		t.active = index
	}
}

// Active returns the currently active tab index.
func (t TabBar) Active() int {
	return t.active
}
