package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Kill, reassign or split a task",
	Long: `Triage actions for escalated or stuck tasks. Each one ends any active
run of the task, marks its escalation as read and leaves a comment.`,
}

var (
	killReason string

	reassignRole  string
	reassignModel string

	splitTitles []string
	splitFile   string
)

var triageKillCmd = taskAction("kill", "Send a task back to backlog", "Killed",
	func(cmd *cobra.Command, a *app, id string) (*models.Task, error) {
		return a.svc.Kill(cmd.Context(), id, actorName, killReason)
	})

var triageReassignCmd = taskAction("reassign", "Send a task back to ready, optionally with a new role or model", "Reassigned",
	func(cmd *cobra.Command, a *app, id string) (*models.Task, error) {
		in := orchestrator.ReassignInput{TaskID: id, Actor: actorName}
		if cmd.Flags().Changed("role") {
			in.Role = &reassignRole
		}
		if cmd.Flags().Changed("model") {
			in.AgentModel = &reassignModel
		}
		return a.svc.Reassign(cmd.Context(), in)
	})

var triageSplitCmd = &cobra.Command{
	Use:   "split <id>",
	Short: "Replace a task with subtasks",
	Long: `Replace a task with subtasks. The parent is closed as discarded and each
subtask starts in ready, inheriting the parent's project and any field it
leaves empty.

Subtasks come from repeated --subtask flags or a YAML file:

  - title: Add schema
    priority: high
  - title: Add handlers
    role: backend`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subtasks, err := readSubtasks()
		if err != nil {
			return err
		}
		return withService(cmd, func(a *app) error {
			res, err := a.svc.Split(cmd.Context(), args[0], actorName, subtasks)
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Split %s into %d subtasks", res.Parent.ID, len(res.Subtasks)), color.FgGreen)
				printTasks(w, res.Subtasks)
			})
		})
	},
}

func readSubtasks() ([]orchestrator.SubtaskInput, error) {
	var subtasks []orchestrator.SubtaskInput
	if splitFile != "" {
		data, err := os.ReadFile(splitFile)
		if err != nil {
			return nil, fmt.Errorf("read subtasks: %w", err)
		}
		if err := yaml.Unmarshal(data, &subtasks); err != nil {
			return nil, fmt.Errorf("parse %s: %w", splitFile, err)
		}
	}
	for _, title := range splitTitles {
		subtasks = append(subtasks, orchestrator.SubtaskInput{Title: title})
	}
	return subtasks, nil
}

func init() {
	triageKillCmd.Flags().StringVarP(&killReason, "reason", "r", "", "Why the task is being killed")

	triageReassignCmd.Flags().StringVar(&reassignRole, "role", "", "New role")
	triageReassignCmd.Flags().StringVar(&reassignModel, "model", "", "New agent model")

	triageSplitCmd.Flags().StringArrayVar(&splitTitles, "subtask", nil, "Subtask title (repeatable)")
	triageSplitCmd.Flags().StringVarP(&splitFile, "file", "f", "", "YAML file listing subtasks")

	triageCmd.AddCommand(triageKillCmd, triageReassignCmd, triageSplitCmd)
}
