package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Raise, list and answer agent signals",
}

var (
	signalProject  string
	signalTask     string
	signalSession  string
	signalAgent    string
	signalKind     string
	signalSeverity string

	signalListKind     string
	signalListAll      bool
	signalListBlocking bool
	signalListLimit    int
)

var signalSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Raise a signal",
	Long: `Raise a signal. Kinds are question, blocker, alert and fyi; every kind
but fyi blocks until answered.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			sig, err := a.svc.CreateSignal(cmd.Context(), orchestrator.SignalInput{
				TaskID:     signalTask,
				ProjectID:  signalProject,
				SessionKey: signalSession,
				AgentID:    signalAgent,
				Kind:       models.SignalKind(signalKind),
				Severity:   models.Severity(signalSeverity),
				Message:    strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			return render(cmd, sig, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Raised %s %s (%s)", sig.Kind, sig.ID, severityString(sig.Severity)), color.FgGreen)
			})
		})
	},
}

var signalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signals, most severe first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := state.SignalFilter{
			ProjectID:       signalProject,
			TaskID:          signalTask,
			Kind:            models.SignalKind(signalListKind),
			BlockingOnly:    signalListBlocking,
			UnrespondedOnly: !signalListAll,
			Limit:           signalListLimit,
		}
		return withService(cmd, func(a *app) error {
			signals, err := a.svc.ListSignals(cmd.Context(), f)
			if err != nil {
				return err
			}
			return render(cmd, signals, func(w io.Writer) { printSignals(w, signals) })
		})
	},
}

var signalRespondCmd = &cobra.Command{
	Use:   "respond <id> <response>",
	Short: "Answer a signal",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			sig, err := a.svc.RespondSignal(cmd.Context(), args[0], strings.Join(args[1:], " "), actorName)
			if err != nil {
				return err
			}
			return render(cmd, sig, func(w io.Writer) {
				printStatus(w, "✓", "Answered "+sig.ID, color.FgGreen)
			})
		})
	},
}

func init() {
	signalCmd.PersistentFlags().StringVarP(&signalProject, "project", "p", "", "Project ID")
	signalCmd.PersistentFlags().StringVarP(&signalTask, "task", "t", "", "Task ID")

	signalSendCmd.Flags().StringVar(&signalSession, "session", "", "Session key of the raising run")
	signalSendCmd.Flags().StringVar(&signalAgent, "agent", "", "Raising agent")
	signalSendCmd.Flags().StringVarP(&signalKind, "kind", "k", string(models.SignalQuestion), "question, blocker, alert or fyi")
	signalSendCmd.Flags().StringVar(&signalSeverity, "severity", string(models.SeverityNormal), "normal, high or critical")

	signalListCmd.Flags().StringVarP(&signalListKind, "kind", "k", "", "Filter by kind")
	signalListCmd.Flags().BoolVarP(&signalListAll, "all", "a", false, "Include answered signals")
	signalListCmd.Flags().BoolVar(&signalListBlocking, "blocking", false, "Only blocking signals")
	signalListCmd.Flags().IntVar(&signalListLimit, "limit", 0, "Maximum number of signals")

	signalCmd.AddCommand(signalSendCmd, signalListCmd, signalRespondCmd)
}
