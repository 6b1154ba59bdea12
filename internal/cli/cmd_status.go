package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

func newStatusCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show the current run's tasks and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := worktreeRoot()
			if err != nil {
				return err
			}
			id := worktreeIDFor(root)

			a, err := newApp(root, id)
			if err != nil {
				return err
			}

			resolved, err := resolveRunID(root, runID)
			if err != nil {
				return err
			}

			// The in-process Projection only accumulates events for the
			// lifetime of one command invocation (there is no daemon), so
			// status always reads the durable task/run records from disk
			// rather than relying on it.
			return showStatusFromDisk(a, resolved, root)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id (default: most recently updated run)")
	return cmd
}

func showStatusFromDisk(a *app, runID, root string) error {
	entries, err := a.tasks.ReadEntries(runID)
	if err != nil {
		return err
	}
	run, err := loadRun(root, runID)
	if err != nil {
		return err
	}

	if jsonOut {
		tasks := make([]*orcmodel.Task, 0, len(entries))
		for _, e := range entries {
			tasks = append(tasks, e.Task)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run   *orcmodel.Run    `json:"run"`
			Tasks []*orcmodel.Task `json:"tasks"`
		}{Run: run, Tasks: tasks})
	}

	fmt.Println(styleHeading.Render(fmt.Sprintf("run %s (%s)", run.RunID, run.Status)))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tSTATUS\tTITLE\tID")
	for _, e := range entries {
		t := e.Task
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Role, statusStyle(t.Status), truncateText(t.Title, 40), t.ID)
	}
	return w.Flush()
}

func statusStyle(s orcmodel.TaskStatus) string {
	switch s {
	case orcmodel.StatusDone, orcmodel.StatusApproved:
		return styleSuccess.Render(string(s))
	case orcmodel.StatusError, orcmodel.StatusBlocked:
		return styleError.Render(string(s))
	case orcmodel.StatusChangesRequested, orcmodel.StatusAwaitingReview:
		return styleWarning.Render(string(s))
	default:
		return styleMuted.Render(string(s))
	}
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
