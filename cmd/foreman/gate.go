package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	gateExitCode  bool
	gateAttention bool
)

var gateCmd = &cobra.Command{
	Use:   "gate [project]",
	Short: "Report whether anything needs attention",
	Long: `Report whether anything needs attention, for one project or all of them.

The gate only reads, so it is safe to poll from cron or a CI job. With
--exit-code the command exits 0 when attention is needed and 10 when there
is nothing to do, so a wrapper can skip waking an agent:

  foreman gate my-project --exit-code && run-agent`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := ""
		if len(args) == 1 {
			project = args[0]
		}
		return withService(cmd, func(a *app) error {
			ctx := cmd.Context()
			g, err := a.svc.Gate(ctx, project)
			if err != nil {
				return err
			}
			if gateAttention {
				signals, err := a.svc.Attention(ctx, project)
				if err != nil {
					return err
				}
				out := map[string]any{"gate": g, "attention": nonNil(signals)}
				if err := render(cmd, out, func(w io.Writer) {
					printGate(w, g)
					if len(signals) > 0 {
						fmt.Fprintln(w)
						printSignals(w, signals)
					}
				}); err != nil {
					return err
				}
			} else if err := render(cmd, g, func(w io.Writer) { printGate(w, g) }); err != nil {
				return err
			}
			if gateExitCode && !g.NeedsAttention {
				return &exitError{code: 10}
			}
			return nil
		})
	},
}

func init() {
	gateCmd.Flags().BoolVar(&gateExitCode, "exit-code", false, "Exit 10 when nothing needs attention")
	gateCmd.Flags().BoolVar(&gateAttention, "attention", false, "Also list blocking signals waiting for a response")
}
