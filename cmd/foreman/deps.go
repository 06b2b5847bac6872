package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage task dependencies",
	Long: `Manage dependencies between tasks of the same project.

A task waits for the tasks it depends on to reach done before it can be
dispatched. Edges that would close a cycle are rejected.`,
}

var depsAddCmd = &cobra.Command{
	Use:   "add <task> <depends-on>",
	Short: "Make a task wait for another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			added, err := a.svc.Dependencies().Add(cmd.Context(), args[0], args[1], actorName)
			if err != nil {
				return err
			}
			out := map[string]any{"task_id": args[0], "depends_on_id": args[1], "added": added}
			return render(cmd, out, func(w io.Writer) {
				if added {
					printStatus(w, "✓", fmt.Sprintf("%s now depends on %s", args[0], args[1]), color.FgGreen)
				} else {
					printStatus(w, "=", fmt.Sprintf("%s already depends on %s", args[0], args[1]), color.FgYellow)
				}
			})
		})
	},
}

var depsRemoveCmd = &cobra.Command{
	Use:     "rm <task> <depends-on>",
	Aliases: []string{"remove"},
	Short:   "Remove a dependency",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			if err := a.svc.Dependencies().Remove(cmd.Context(), args[0], args[1], actorName); err != nil {
				return err
			}
			out := map[string]any{"task_id": args[0], "depends_on_id": args[1], "removed": true}
			return render(cmd, out, func(w io.Writer) {
				printStatus(w, "✓", fmt.Sprintf("%s no longer depends on %s", args[0], args[1]), color.FgGreen)
			})
		})
	},
}

var depsListCmd = &cobra.Command{
	Use:   "list <task>",
	Short: "List what a task depends on and what it blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			ctx := cmd.Context()
			deps := a.svc.Dependencies()
			dependsOn, err := deps.List(ctx, args[0])
			if err != nil {
				return err
			}
			blocks, err := deps.BlockedBy(ctx, args[0])
			if err != nil {
				return err
			}
			incomplete, err := deps.Incomplete(ctx, args[0])
			if err != nil {
				return err
			}
			out := map[string]any{
				"task_id":                 args[0],
				"depends_on":              nonNil(dependsOn),
				"blocked_by":              nonNil(blocks),
				"incomplete_dependencies": nonNil(incomplete),
			}
			return render(cmd, out, func(w io.Writer) {
				fmt.Fprintf(w, "Depends on: %s\n", listOrNone(dependsOn))
				fmt.Fprintf(w, "Blocks:     %s\n", listOrNone(blocks))
				if len(incomplete) > 0 {
					fmt.Fprintf(w, "%s %s\n", color.YellowString("Waiting:   "), strings.Join(incomplete, ", "))
				}
			})
		})
	},
}

var depsCheckCmd = &cobra.Command{
	Use:   "check <task> <depends-on>",
	Short: "Report whether adding a dependency would create a cycle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(a *app) error {
			cycle, err := a.svc.Dependencies().WouldCreateCycle(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := map[string]any{"task_id": args[0], "depends_on_id": args[1], "would_create_cycle": cycle}
			return render(cmd, out, func(w io.Writer) {
				if cycle {
					printStatus(w, "✗", "Would create a cycle", color.FgRed)
				} else {
					printStatus(w, "✓", "No cycle", color.FgGreen)
				}
			})
		})
	},
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}

// nonNil turns a nil slice into an empty one so lists encode as [].
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func init() {
	depsCmd.AddCommand(depsAddCmd, depsRemoveCmd, depsListCmd, depsCheckCmd)
}
