package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/state"
)

var (
	recoverProject string
	recoverDryRun  bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Repair runs orphaned by an interrupted process",
	Long: `Find and repair runs left inconsistent by a crash.

Dispatched tasks without a running session go back to ready; running
sessions whose task is no longer dispatched are ended as aborted. "foreman
serve" does this on startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			ctx := cmd.Context()
			var (
				report *state.OrphanReport
				err    error
			)
			if recoverDryRun {
				report, err = a.svc.CheckOrphans(ctx, recoverProject)
			} else {
				report, err = a.svc.Recover(ctx, recoverProject)
			}
			if err != nil {
				return err
			}
			if report == nil {
				report = &state.OrphanReport{}
			}
			out := map[string]any{
				"lost_runs":      nonNil(report.LostRuns),
				"stale_sessions": nonNil(report.StaleSessions),
				"repaired":       !recoverDryRun && !report.Empty(),
			}
			return render(cmd, out, func(w io.Writer) {
				if report.Empty() {
					printStatus(w, "✓", "No orphaned runs", color.FgGreen)
					return
				}
				verb := "Repaired"
				if recoverDryRun {
					verb = "Found"
				}
				printStatus(w, "⚠", fmt.Sprintf("%s %d lost runs and %d stale sessions", verb, len(report.LostRuns), len(report.StaleSessions)), color.FgYellow)
				for _, t := range report.LostRuns {
					fmt.Fprintf(w, "  task %s: %s\n", t.ID, t.Title)
				}
				for _, s := range report.StaleSessions {
					fmt.Fprintf(w, "  session %s (task %s)\n", s.Key, s.TaskID)
				}
			})
		})
	},
}

func init() {
	recoverCmd.Flags().StringVarP(&recoverProject, "project", "p", "", "Limit to one project")
	recoverCmd.Flags().BoolVar(&recoverDryRun, "dry-run", false, "Only report what would be repaired")
}
