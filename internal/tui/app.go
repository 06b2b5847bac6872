package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
)

// snapshotMsg carries the result of one refresh.
type snapshotMsg struct {
	snap *Snapshot
	err  error
}

// tickMsg asks for the next scheduled refresh.
type tickMsg time.Time

// App is the bubbletea model for the watch dashboard. It polls its Source
// on a fixed interval.
type App struct {
	ctx      context.Context
	source   Source
	interval time.Duration
	now      func() time.Time

	header  *Header
	footer  *Footer
	tabs    TabBar
	spinner spinner.Model

	snap    *Snapshot
	err     error
	loading bool
	offset  int

	width    int
	height   int
	quitting bool
}

// NewApp creates the dashboard. interval below one second is raised to one
// second.
func NewApp(ctx context.Context, source Source, interval time.Duration) *App {
	if interval < time.Second {
		interval = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &App{
		ctx:      ctx,
		source:   source,
		interval: interval,
		now:      time.Now,
		header:   NewHeader(),
		footer:   NewFooter(),
		tabs:     NewTabBar(),
		spinner:  sp,
		loading:  true,
		width:    80,
		height:   24,
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refresh(), a.spinner.Tick)
}

func (a *App) refresh() tea.Cmd {
	return func() tea.Msg {
		snap, err := a.source.Load(a.ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (a *App) schedule() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		case "r":
			if a.loading {
				return a, nil
			}
			a.loading = true
			return a, tea.Batch(a.refresh(), a.spinner.Tick)
		case "up", "k":
			if a.offset > 0 {
				a.offset--
			}
			return a, nil
		case "down", "j":
			if a.offset < len(a.lines())-1 {
				a.offset++
			}
			return a, nil
		}
		prev := a.tabs.Active()
		a.tabs, _ = a.tabs.Update(msg)
		if a.tabs.Active() != prev {
			a.offset = 0
		}
		return a, nil

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.header.SetWidth(msg.Width)
		a.footer.SetWidth(msg.Width)
		return a, nil

	case snapshotMsg:
		a.loading = false
		a.err = msg.err
		if msg.err == nil {
			a.snap = msg.snap
			if n := len(a.lines()); a.offset >= n {
				a.offset = max(n-1, 0)
			}
		}
		return a, a.schedule()

	case tickMsg:
		if a.loading {
			return a, nil
		}
		a.loading = true
		return a, tea.Batch(a.refresh(), a.spinner.Tick)

	case spinner.TickMsg:
		if !a.loading {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// lines returns the body of the active tab.
func (a *App) lines() []string {
	if a.snap == nil || a.snap.Gate == nil {
		return []string{mutedStyle.Render("Loading…")}
	}
	now := a.now()
	switch a.tabs.Active() {
	case TabRuns:
		return runLines(a.snap.Runs, now)
	case TabSignals:
		return signalLines(a.snap.Attention, now)
	case TabReady:
		return readyLines(a.snap.Ready)
	default:
		return overviewLines(a.snap)
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	var (
		project string
		counts  []int
		takenAt time.Time
	)
	if a.snap != nil {
		project = a.snap.Project
		takenAt = a.snap.TakenAt
		counts = []int{0, len(a.snap.Runs), len(a.snap.Attention), len(a.snap.Ready)}
	}
	header := a.header.View(project, a.gate(), takenAt, a.loading, a.spinner)
	tabs := a.tabs.View(counts...)
	footer := a.footer.View(a.err)

	bodyHeight := a.height - lipgloss.Height(header) - lipgloss.Height(tabs) - lipgloss.Height(footer) - 1
	body := clip(a.lines(), a.offset, bodyHeight)
	body = lipgloss.NewStyle().Height(max(bodyHeight, 1)).Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, header, tabs, body, footer)
}

func (a *App) gate() *orchestrator.GateStatus {
	if a.snap == nil {
		return nil
	}
	return a.snap.Gate
}

// Run starts the dashboard on the terminal and blocks until the user quits
// or ctx is done.
func Run(ctx context.Context, source Source, interval time.Duration) error {
	app := NewApp(ctx, source, interval)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
