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
	seedProject string
	seedDryRun  bool
)

var seedCmd = &cobra.Command{
	Use:   "seed <plan.yaml|->",
	Short: "Create tasks and dependencies from a plan file",
	Long: `Create tasks and dependencies from a YAML plan. Use - to read stdin.

  project: billing
  tasks:
    - id: schema
      title: Add invoice schema
      ready: true
    - title: Invoice API
      priority: high
      depends_on: [schema]

Dependencies name other tasks in the plan by id, or by title when a task
has no id. The whole plan is validated before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readPlan(cmd, args[0])
		if err != nil {
			return err
		}
		plan, err := decompose.Parse(data)
		if err != nil {
			return cerr.Validation("%v", err)
		}
		if seedProject != "" {
			plan.Project = seedProject
		}

		v := decompose.Validate(plan)
		for _, w := range v.Warnings {
			printStatus(cmd.ErrOrStderr(), "⚠", w, color.FgYellow)
		}
		if !v.Valid {
			if outputFormat == "text" {
				for _, e := range v.Errors {
					printStatus(cmd.ErrOrStderr(), "✗", e, color.FgRed)
				}
			}
			return cerr.Validation("plan has %d errors: %s", len(v.Errors), strings.Join(v.Errors, "; "))
		}
		if seedDryRun {
			return render(cmd, v, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Plan for %s is valid: %d tasks", plan.Project, len(plan.Tasks)), color.FgGreen)
			})
		}

		return withService(cmd, func(a *app) error {
			res, err := decompose.Apply(cmd.Context(), a.svc, plan, actorName)
			if err != nil {
				if res != nil && len(res.Tasks) > 0 {
					printStatus(cmd.ErrOrStderr(), "⚠", fmt.Sprintf("%d tasks were created before the failure", len(res.Tasks)), color.FgYellow)
				}
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Seeded %s: %d tasks, %d dependencies", plan.Project, len(res.Tasks), res.Edges), color.FgGreen)
				printTasks(w, res.Tasks)
			})
		})
	},
}

func readPlan(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read plan from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return data, nil
}

func init() {
	seedCmd.Flags().StringVarP(&seedProject, "project", "p", "", "Override the plan's project")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Validate the plan without writing anything")
}
