package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Inspect and control per-project work loops",
}

var (
	loopMaxAgents int
	loopPhase     string
)

var loopShowCmd = &cobra.Command{
	Use:   "show [project]",
	Short: "Show one work loop, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				st, err := a.svc.WorkLoop().State(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd, st, func(w io.Writer) { printLoop(w, st) })
			}
			states, err := a.svc.WorkLoop().ListStates(ctx)
			if err != nil {
				return err
			}
			return render(cmd, states, func(w io.Writer) {
				if len(states) == 0 {
					fmt.Fprintln(w, "No work loops.")
				}
				for i := range states {
					printLoop(w, &states[i])
				}
			})
		})
	},
}

var loopSetCmd = &cobra.Command{
	Use:   "set <project>",
	Short: "Change max agents or the current phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.WorkLoopPatch
		if cmd.Flags().Changed("max-agents") {
			patch.MaxAgents = &loopMaxAgents
		}
		if cmd.Flags().Changed("phase") {
			patch.CurrentPhase = &loopPhase
		}
		if patch.IsEmpty() {
			return fmt.Errorf("nothing to change: pass --max-agents or --phase")
		}
		return withService(cmd, func(a *app) error {
			st, err := a.svc.WorkLoop().UpsertState(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return render(cmd, st, func(w io.Writer) { printLoop(w, st) })
		})
	},
}

// loopAction builds a status-changing loop command.
func loopAction(use, short string, fn func(c *orchestrator.Coordinator, cmd *cobra.Command, project string) (*models.WorkLoopState, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(a *app) error {
				st, err := fn(a.svc.WorkLoop(), cmd, args[0])
				if err != nil {
					return err
				}
				return render(cmd, st, func(w io.Writer) { printLoop(w, st) })
			})
		},
	}
}

func init() {
	loopSetCmd.Flags().IntVar(&loopMaxAgents, "max-agents", 0, "Maximum concurrent agents")
	loopSetCmd.Flags().StringVar(&loopPhase, "phase", "", "Free-form phase label")

	loopCmd.AddCommand(loopShowCmd, loopSetCmd,
		loopAction("start", "Start (or restart) a work loop", func(c *orchestrator.Coordinator, cmd *cobra.Command, p string) (*models.WorkLoopState, error) {
			return c.Start(cmd.Context(), p)
		}),
		loopAction("stop", "Stop a work loop; running agents keep their slots", func(c *orchestrator.Coordinator, cmd *cobra.Command, p string) (*models.WorkLoopState, error) {
			return c.Stop(cmd.Context(), p)
		}),
		loopAction("pause", "Pause a running work loop", func(c *orchestrator.Coordinator, cmd *cobra.Command, p string) (*models.WorkLoopState, error) {
			return c.Pause(cmd.Context(), p)
		}),
		loopAction("resume", "Resume a paused work loop", func(c *orchestrator.Coordinator, cmd *cobra.Command, p string) (*models.WorkLoopState, error) {
			return c.Resume(cmd.Context(), p)
		}),
	)
}
