package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect and move tasks",
}

var (
	taskProject     string
	taskID          string
	taskDescription string
	taskPriority    string
	taskRole        string
	taskModel       string
	taskReady       bool

	taskListStatus   []string
	taskListDispatch string
	taskListLimit    int

	dispatchAgent string

	completeSummary string
	completePR      string
	completeNotes   string
	completeAgent   string

	escalateReason string
	eventsKind     string
	eventsLimit    int
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task in backlog (or ready with --ready)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := models.TaskStatusBacklog
		if taskReady {
			status = models.TaskStatusReady
		}
		return withService(cmd, func(a *app) error {
			t, err := a.svc.CreateTask(cmd.Context(), orchestrator.TaskInput{
				ID:          taskID,
				ProjectID:   taskProject,
				Title:       strings.Join(args, " "),
				Description: taskDescription,
				Status:      status,
				Priority:    models.Priority(taskPriority),
				Role:        taskRole,
				AgentModel:  taskModel,
				Actor:       actorName,
			})
			if err != nil {
				return err
			}
			return render(cmd, t, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Created %s (%s)", t.ID, t.Status), color.FgGreen)
			})
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := state.TaskFilter{
			ProjectID:      taskProject,
			DispatchStatus: models.DispatchStatus(taskListDispatch),
			Limit:          taskListLimit,
		}
		for _, s := range taskListStatus {
			f.Statuses = append(f.Statuses, models.TaskStatus(s))
		}
		return withService(cmd, func(a *app) error {
			tasks, err := a.svc.ListTasks(cmd.Context(), f)
			if err != nil {
				return err
			}
			return render(cmd, tasks, func(w io.Writer) { printTasks(w, tasks) })
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			ctx := cmd.Context()
			t, err := a.svc.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			deps, err := a.svc.Dependencies().List(ctx, t.ID)
			if err != nil {
				return err
			}
			incomplete, err := a.svc.Dependencies().Incomplete(ctx, t.ID)
			if err != nil {
				return err
			}
			out := struct {
				*models.Task
				DependsOn  []string `json:"depends_on"`
				Incomplete []string `json:"incomplete_dependencies"`
			}{t, deps, incomplete}
			return render(cmd, out, func(w io.Writer) {
				printTask(w, t)
				if len(deps) > 0 {
					fmt.Fprintf(w, "  Depends on: %s\n", strings.Join(deps, ", "))
				}
				if len(incomplete) > 0 {
					fmt.Fprintf(w, "  %s %s\n", color.YellowString("Waiting for:"), strings.Join(incomplete, ", "))
				}
			})
		})
	},
}

// taskAction builds a command that applies fn to one task and prints the
// result.
func taskAction(use, short, verb string, fn func(cmd *cobra.Command, a *app, id string) (*models.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(a *app) error {
				t, err := fn(cmd, a, args[0])
				if err != nil {
					return err
				}
				return render(cmd, t, func(w io.Writer) {
					printStatus(w, "✓", fmt.Sprintf("%s %s, now %s", verb, t.ID, statusString(t.Status)), color.FgGreen)
				})
			})
		},
	}
}

var taskReadyCmd = taskAction("ready", "Move a backlog task to ready", "Marked ready",
	func(cmd *cobra.Command, a *app, id string) (*models.Task, error) {
		return a.svc.MarkReady(cmd.Context(), id, actorName)
	})

var taskCompleteCmd = taskAction("complete", "Record a completion (in_review with --pr, else done)", "Completed",
	func(cmd *cobra.Command, a *app, id string) (*models.Task, error) {
		return a.svc.Complete(cmd.Context(), orchestrator.CompleteInput{
			TaskID:  id,
			Summary: completeSummary,
			PRURL:   completePR,
			Notes:   completeNotes,
			Agent:   completeAgent,
		})
	})

var taskApproveCmd = taskAction("approve", "Approve a task in review", "Approved",
	func(cmd *cobra.Command, a *app, id string) (*models.Task, error) {
		return a.svc.Approve(cmd.Context(), id, actorName)
	})

var taskEscalateCmd = taskAction("escalate", "Flag a task for triage", "Escalated",
	func(cmd *cobra.Command, a *app, id string) (*models.Task, error) {
		return a.svc.Escalate(cmd.Context(), id, actorName, escalateReason)
	})

var taskAckCmd = taskAction("ack", "Mark a task's escalation as read", "Acknowledged",
	func(cmd *cobra.Command, a *app, id string) (*models.Task, error) {
		return a.svc.Acknowledge(cmd.Context(), id)
	})

var taskDispatchCmd = &cobra.Command{
	Use:   "dispatch <id>",
	Short: "Start an agent run on a ready task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			res, err := a.svc.Dispatch(cmd.Context(), orchestrator.DispatchInput{
				TaskID:  args[0],
				AgentID: dispatchAgent,
				Actor:   actorName,
			})
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("Dispatched %s to %s", res.Task.ID, res.Session.AgentID), color.FgGreen)
				fmt.Fprintf(w, "  Session: %s\n", res.Session.Key)
			})
		})
	},
}

var taskCommentsCmd = &cobra.Command{
	Use:   "comments <id>",
	Short: "Show a task's comment thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			comments, err := a.svc.ListComments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd, comments, func(w io.Writer) { printComments(w, comments) })
		})
	},
}

var taskEventsCmd = &cobra.Command{
	Use:   "events [id]",
	Short: "Show audit events, for one task or a whole project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := state.EventFilter{ProjectID: taskProject, Kind: eventsKind, Limit: eventsLimit}
		if len(args) == 1 {
			f.TaskID = args[0]
		}
		return withService(cmd, func(a *app) error {
			events, err := a.svc.ListEvents(cmd.Context(), f)
			if err != nil {
				return err
			}
			return render(cmd, events, func(w io.Writer) {
				if len(events) == 0 {
					fmt.Fprintln(w, "No events.")
					return
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "TIME\tTASK\tKIND\tACTOR\tPAYLOAD")
				for _, e := range events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.TaskID, e.Kind, e.Actor, string(e.Payload))
				}
				tw.Flush()
			})
		})
	},
}

func init() {
	taskCmd.PersistentFlags().StringVarP(&taskProject, "project", "p", "", "Project ID")

	taskCreateCmd.Flags().StringVar(&taskID, "id", "", "Task ID (generated when empty)")
	taskCreateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Description")
	taskCreateCmd.Flags().StringVar(&taskPriority, "priority", "", "urgent, high, medium or low")
	taskCreateCmd.Flags().StringVar(&taskRole, "role", "", "Role of the agent that should pick it up")
	taskCreateCmd.Flags().StringVar(&taskModel, "model", "", "Agent model")
	taskCreateCmd.Flags().BoolVar(&taskReady, "ready", false, "Create directly in ready")

	taskListCmd.Flags().StringSliceVar(&taskListStatus, "status", nil, "Filter by status (repeatable)")
	taskListCmd.Flags().StringVar(&taskListDispatch, "dispatch", "", "Filter by dispatch status")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 0, "Maximum number of tasks")

	taskDispatchCmd.Flags().StringVar(&dispatchAgent, "agent", "", "Agent ID (generated when empty)")

	taskCompleteCmd.Flags().StringVarP(&completeSummary, "summary", "s", "", "What was done")
	taskCompleteCmd.Flags().StringVar(&completePR, "pr", "", "Pull request URL; sends the task to review")
	taskCompleteCmd.Flags().StringVar(&completeNotes, "notes", "", "Extra notes")
	taskCompleteCmd.Flags().StringVar(&completeAgent, "agent", "", "Reporting agent (defaults to the assignee)")
	_ = taskCompleteCmd.MarkFlagRequired("summary")

	taskEscalateCmd.Flags().StringVarP(&escalateReason, "reason", "r", "", "Why the task needs triage")
	_ = taskEscalateCmd.MarkFlagRequired("reason")

	taskEventsCmd.Flags().StringVar(&eventsKind, "kind", "", "Filter by event kind")
	taskEventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum number of events")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskReadyCmd, taskDispatchCmd,
		taskCompleteCmd, taskApproveCmd, taskEscalateCmd, taskAckCmd, taskCommentsCmd, taskEventsCmd)
}
