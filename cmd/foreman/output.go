package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// render writes v in the selected --output format. text is used for the
// default human readable form.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	switch outputFormat {
	case "", "text":
		text(w)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Go through JSON so keys match the API.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", outputFormat)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func statusString(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusReady:
		return color.CyanString(string(s))
	case models.TaskStatusInProgress:
		return color.YellowString(string(s))
	case models.TaskStatusInReview:
		return color.MagentaString(string(s))
	case models.TaskStatusDone:
		return color.GreenString(string(s))
	default:
		return string(s)
	}
}

func loopStatusString(s models.WorkLoopStatus) string {
	switch s {
	case models.WorkLoopRunning:
		return color.GreenString(string(s))
	case models.WorkLoopPaused:
		return color.YellowString(string(s))
	case models.WorkLoopError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func severityString(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case models.SeverityHigh:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func printTasks(w io.Writer, tasks []*models.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tDISPATCH\tTITLE")
	for _, t := range tasks {
		title := t.Title
		if t.HasUnreadEscalation() {
			title = color.RedString("! ") + title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, statusString(t.Status), t.Priority.OrDefault(), t.DispatchStatus, title)
	}
	tw.Flush()
}

func printTask(w io.Writer, t *models.Task) {
	fmt.Fprintf(w, "%s %s\n", color.New(color.Bold).Sprint(t.ID), t.Title)
	fmt.Fprintf(w, "  Project:  %s\n", t.ProjectID)
	fmt.Fprintf(w, "  Status:   %s (dispatch %s)\n", statusString(t.Status), t.DispatchStatus)
	fmt.Fprintf(w, "  Priority: %s\n", t.Priority.OrDefault())
	if t.Role != "" {
		fmt.Fprintf(w, "  Role:     %s\n", t.Role)
	}
	if t.AgentModel != "" {
		fmt.Fprintf(w, "  Model:    %s\n", t.AgentModel)
	}
	if t.Assignee != "" {
		fmt.Fprintf(w, "  Assignee: %s\n", t.Assignee)
	}
	if t.Resolution != models.ResolutionNone {
		fmt.Fprintf(w, "  Resolution: %s\n", t.Resolution)
	}
	if t.EscalatedAt != nil {
		state := "acknowledged"
		if t.HasUnreadEscalation() {
			state = color.RedString("unread")
		}
		fmt.Fprintf(w, "  Escalated: %s ago (%s): %s\n", formatDuration(time.Since(*t.EscalatedAt)), state, t.EscalationReason)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
}

func printComments(w io.Writer, comments []models.Comment) {
	if len(comments) == 0 {
		fmt.Fprintln(w, "No comments.")
		return
	}
	for _, c := range comments {
		fmt.Fprintf(w, "%s %s [%s] %s:\n", color.HiBlackString(c.CreatedAt.Format(time.RFC3339)), c.Type, c.AuthorType, c.Author)
		for _, line := range strings.Split(c.Content, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

func printSignals(w io.Writer, signals []models.Signal) {
	if len(signals) == 0 {
		fmt.Fprintln(w, "No signals.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tKIND\tSEVERITY\tTASK\tAGE\tMESSAGE")
	for _, s := range signals {
		msg := s.Message
		if s.RespondedAt != nil {
			msg = color.HiBlackString("(answered) ") + msg
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Kind, severityString(s.Severity), s.TaskID, formatDuration(time.Since(s.CreatedAt)), msg)
	}
	tw.Flush()
}

func printLoop(w io.Writer, st *models.WorkLoopState) {
	fmt.Fprintf(w, "%s: %s, %d/%d agents, cycle %d", st.ProjectID, loopStatusString(st.Status), st.ActiveAgents, st.MaxAgents, st.CurrentCycle)
	if st.CurrentPhase != "" {
		fmt.Fprintf(w, ", phase %s", st.CurrentPhase)
	}
	if st.LastCycleAt != nil {
		fmt.Fprintf(w, ", last cycle %s ago", formatDuration(time.Since(*st.LastCycleAt)))
	}
	fmt.Fprintln(w)
	if st.ErrorMessage != "" {
		fmt.Fprintf(w, "  %s %s\n", color.RedString("error:"), st.ErrorMessage)
	}
}

func printRuns(w io.Writer, runs []orchestrator.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "KEY\tTASK\tAGENT\tSTATUS\tSTARTED\tNOTE")
	for _, r := range runs {
		note := ""
		switch {
		case r.Stuck:
			note = color.RedString("stuck")
		case r.AbortedLastRun && r.AbortAckedAt == nil:
			note = color.YellowString("aborted: " + r.AbortReason)
		case r.AbortedLastRun:
			note = "aborted (acked)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s ago\t%s\n", r.Key, r.TaskID, r.AgentID, r.Status, formatDuration(time.Since(r.StartedAt)), note)
	}
	tw.Flush()
}

func printGate(w io.Writer, g *orchestrator.GateStatus) {
	if g.NeedsAttention {
		printStatus(w, "●", "Needs attention", color.FgYellow)
	} else {
		printStatus(w, "○", "Nothing to do", color.FgGreen)
	}
	d := g.Details
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
		if r.n > 0 {
			fmt.Fprintf(w, "  %-20s %d\n", r.label+":", r.n)
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
