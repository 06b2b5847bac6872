package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// overviewLines renders the gate details and every work loop.
func overviewLines(s *Snapshot) []string {
	var lines []string
	lines = append(lines, sectionStyle.Render("Gate"))
	d := s.Gate.Details
	rows := []struct {
		label string
		n     int
	}{
		{"Ready tasks", d.ReadyTasks},
		{"Pending inputs", d.PendingInputs},
		{"Pending dispatch", d.PendingDispatch},
		{"Stuck tasks", d.StuckTasks},
		{"In review", d.ReviewTasks},
		{"Unread escalations", d.UnreadEscalations},
		{"Pending signals", d.PendingSignals},
	}
	for _, r := range rows {
		n := mutedStyle.Render("0")
		if r.n > 0 {
			n = warnStyle.Render(fmt.Sprint(r.n))
		}
		lines = append(lines, fmt.Sprintf("  %-20s %s", r.label, n))
	}

	lines = append(lines, "", sectionStyle.Render("Work loops"))
	if len(s.Loops) == 0 {
		lines = append(lines, mutedStyle.Render("  no work loops"))
	}
	for _, l := range s.Loops {
		line := fmt.Sprintf("  %-20s %s  %d/%d agents  cycle %d",
			l.ProjectID, loopStatus(l.Status), l.ActiveAgents, l.MaxAgents, l.CurrentCycle)
		if l.CurrentPhase != "" {
			line += mutedStyle.Render("  " + l.CurrentPhase)
		}
		lines = append(lines, line)
		if l.ErrorMessage != "" {
			lines = append(lines, badStyle.Render("    error: "+l.ErrorMessage))
		}
	}
	return lines
}

func loopStatus(s models.WorkLoopStatus) string {
	label := fmt.Sprintf("%-8s", s)
	switch s {
	case models.WorkLoopRunning:
		return okStyle.Render(label)
	case models.WorkLoopPaused:
		return warnStyle.Render(label)
	case models.WorkLoopError:
		return badStyle.Render(label)
	default:
		return mutedStyle.Render(label)
	}
}

// runLines renders active runs, stuck ones flagged.
func runLines(runs []orchestrator.Run, now time.Time) []string {
	if len(runs) == 0 {
		return []string{mutedStyle.Render("No active runs.")}
	}
	lines := []string{sectionStyle.Render(fmt.Sprintf("%-24s %-14s %-14s %-10s %s", "KEY", "TASK", "AGENT", "STATUS", "STARTED"))}
	for _, r := range runs {
		status := fmt.Sprintf("%-10s", r.Status)
		switch {
		case r.Stuck:
			status = badStyle.Render(fmt.Sprintf("%-10s", "stuck"))
		case r.Status == models.ActivityIdle:
			status = warnStyle.Render(status)
		default:
			status = okStyle.Render(status)
		}
		lines = append(lines, fmt.Sprintf("%-24s %-14s %-14s %s %s ago",
			truncate(r.Key, 24), truncate(r.TaskID, 14), truncate(r.AgentID, 14), status, since(now, r.StartedAt)))
	}
	return lines
}

// signalLines renders blocking signals waiting for a response.
func signalLines(signals []models.Signal, now time.Time) []string {
	if len(signals) == 0 {
		return []string{mutedStyle.Render("Nothing waiting for a response.")}
	}
	var lines []string
	for _, sig := range signals {
		sev := fmt.Sprintf("%-8s", sig.Severity)
		switch sig.Severity {
		case models.SeverityCritical:
			sev = badStyle.Render(sev)
		case models.SeverityHigh:
			sev = warnStyle.Render(sev)
		default:
			sev = mutedStyle.Render(sev)
		}
		head := fmt.Sprintf("%s %-10s %s", sev, sig.Kind, mutedStyle.Render(sig.ID+" · "+since(now, sig.CreatedAt)+" ago"))
		if sig.TaskID != "" {
			head += mutedStyle.Render(" · task " + sig.TaskID)
		}
		lines = append(lines, head, "  "+sig.Message)
	}
	return lines
}

// readyLines renders the dispatch queue in the order it would be picked.
func readyLines(tasks []*models.Task) []string {
	if len(tasks) == 0 {
		return []string{mutedStyle.Render("No dispatchable tasks.")}
	}
	lines := []string{sectionStyle.Render(fmt.Sprintf("%-3s %-14s %-8s %-12s %s", "#", "ID", "PRIORITY", "PROJECT", "TITLE"))}
	for i, t := range tasks {
		prio := fmt.Sprintf("%-8s", t.Priority)
		if t.Priority == models.PriorityUrgent || t.Priority == models.PriorityHigh {
			prio = warnStyle.Render(prio)
		}
		lines = append(lines, fmt.Sprintf("%-3d %-14s %s %-12s %s", i+1, truncate(t.ID, 14), prio, truncate(t.ProjectID, 12), t.Title))
	}
	return lines
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func since(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}

// clip returns the window of lines starting at offset that fits height.
func clip(lines []string, offset, height int) string {
	if offset > len(lines) {
		offset = len(lines)
	}
	end := len(lines)
	if height > 0 && offset+height < end {
		end = offset + height
	}
	return strings.Join(lines[offset:end], "\n")
}
