package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage agent runs",
}

var (
	runsProject string
	runsTask    string
	runsActive  bool

	abortReason string
	pruneAge    time.Duration
)

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			runs, err := a.svc.ListRuns(cmd.Context(), state.SessionFilter{
				ProjectID:  runsProject,
				TaskID:     runsTask,
				ActiveOnly: runsActive,
			})
			if err != nil {
				return err
			}
			return render(cmd, runs, func(w io.Writer) { printRuns(w, runs) })
		})
	},
}

// runAction builds a command acting on one session.
func runAction(use, short, verb string, fn func(cmd *cobra.Command, a *app, key string) (*orchestrator.Run, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(a *app) error {
				run, err := fn(cmd, a, args[0])
				if err != nil {
					return err
				}
				return render(cmd, run, func(w io.Writer) {
					printStatus(w, "✓", fmt.Sprintf("%s %s (%s)", verb, run.Key, run.Status), color.FgGreen)
				})
			})
		},
	}
}

var runsHeartbeatCmd = runAction("heartbeat", "Record agent activity", "Heartbeat for",
	func(cmd *cobra.Command, a *app, key string) (*orchestrator.Run, error) {
		return a.svc.Heartbeat(cmd.Context(), key)
	})

var runsAbortCmd = runAction("abort", "End a run as aborted and free its slot", "Aborted",
	func(cmd *cobra.Command, a *app, key string) (*orchestrator.Run, error) {
		return a.svc.Abort(cmd.Context(), key, abortReason, actorName)
	})

var runsAckCmd = runAction("ack", "Acknowledge an aborted run", "Acknowledged",
	func(cmd *cobra.Command, a *app, key string) (*orchestrator.Run, error) {
		return a.svc.AckAbort(cmd.Context(), key)
	})

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs that ended long ago",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			n, err := a.svc.PruneRuns(cmd.Context(), pruneAge)
			if err != nil {
				return err
			}
			return render(cmd, map[string]int64{"deleted": n}, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Deleted %d runs that ended more than %s ago", n, pruneAge), color.FgGreen)
			})
		})
	},
}

func init() {
	runsListCmd.Flags().StringVarP(&runsProject, "project", "p", "", "Project ID")
	runsListCmd.Flags().StringVarP(&runsTask, "task", "t", "", "Task ID")
	runsListCmd.Flags().BoolVar(&runsActive, "active", false, "Only runs that have not ended")

	runsAbortCmd.Flags().StringVarP(&abortReason, "reason", "r", "", "Why the run is being aborted")
	runsPruneCmd.Flags().DurationVar(&pruneAge, "older-than", 7*24*time.Hour, "Retention for ended runs")

	runsCmd.AddCommand(runsListCmd, runsHeartbeatCmd, runsAbortCmd, runsAckCmd, runsPruneCmd)
}
