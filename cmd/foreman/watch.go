package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/tui"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [project]",
	Short: "Live dashboard of the gate, work loops, runs and signals",
	Long: `Open a terminal dashboard that refreshes on an interval.

Tabs show the gate and work loops, active runs, blocking signals waiting
for a response, and the ready queue in dispatch order. The dashboard only
reads; use the other commands to act on what it shows.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := ""
		if len(args) == 1 {
			project = args[0]
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withService(cmd, func(a *app) error {
			return tui.Run(ctx, &tui.ServiceSource{Svc: a.svc, Project: project}, watchInterval)
		})
	},
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "n", 2*time.Second, "Refresh interval")
}
