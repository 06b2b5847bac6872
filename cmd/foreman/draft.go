package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/decompose"
	"github.com/ShayCichocki/foreman/pkg/cerr"
)

var (
	draftOut   string
	draftApply bool
	draftModel string
)

var draftCmd = &cobra.Command{
	Use:   "draft <project> <request...>",
	Short: "Ask Claude to break a request into a plan",
	Long: `Ask Claude to break a request into tasks and write them as a plan file.

The plan uses the same format as "foreman seed". By default it is printed
so you can review and edit it before seeding. --apply seeds it right away.

The planner section of the config picks the model. Set ANTHROPIC_API_KEY,
or planner.use_bedrock to go through AWS Bedrock with your AWS credentials.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		model := cfg.Planner.Model
		if draftModel != "" {
			model = draftModel
		}
		client, err := decompose.NewClaudeClient(cmd.Context(), decompose.ClaudeConfig{
			Model:      model,
			MaxTokens:  int64(cfg.Planner.MaxTokens),
			UseBedrock: cfg.Planner.UseBedrock,
			AWSRegion:  cfg.Planner.AWSRegion,
			AWSProfile: cfg.Planner.AWSProfile,
		})
		if err != nil {
			return cerr.Preconditionf("%v", err)
		}

		printStatus(cmd.ErrOrStderr(), "…", fmt.Sprintf("Drafting plan with %s", client.Model()), color.FgCyan)
		plan, v, err := decompose.NewDrafter(client).Draft(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		in, out := client.Usage()
		printStatus(cmd.ErrOrStderr(), "✓", fmt.Sprintf("%d tasks drafted (%d input / %d output tokens)", len(plan.Tasks), in, out), color.FgGreen)
		for _, w := range v.Warnings {
			printStatus(cmd.ErrOrStderr(), "⚠", w, color.FgYellow)
		}
		for _, e := range v.Errors {
			printStatus(cmd.ErrOrStderr(), "✗", e, color.FgRed)
		}

		data, err := decompose.Marshal(plan)
		if err != nil {
			return err
		}
		if draftOut != "" {
			if err := os.WriteFile(draftOut, data, 0o644); err != nil {
				return fmt.Errorf("write plan: %w", err)
			}
			printStatus(cmd.ErrOrStderr(), "✓", "Plan written to "+draftOut, color.FgGreen)
		}
		if !v.Valid {
			return cerr.Validation("drafted plan has %d errors: %s", len(v.Errors), strings.Join(v.Errors, "; "))
		}
		if !draftApply {
			if draftOut != "" {
				return nil
			}
			return render(cmd, plan, func(w io.Writer) {
				w.Write(data)
			})
		}

		return withService(cmd, func(a *app) error {
			res, err := decompose.Apply(cmd.Context(), a.svc, plan, actorName)
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Seeded %s: %d tasks, %d dependencies", plan.Project, len(res.Tasks), res.Edges), color.FgGreen)
				printTasks(w, res.Tasks)
			})
		})
	},
}

func init() {
	draftCmd.Flags().StringVar(&draftOut, "out", "", "Write the plan to a file")
	draftCmd.Flags().BoolVar(&draftApply, "apply", false, "Seed the drafted plan immediately")
	draftCmd.Flags().StringVar(&draftModel, "model", "", "Override planner.model")
}
