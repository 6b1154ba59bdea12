package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newApproveCmd() *cobra.Command {
	var runID string
	var approver string

	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task awaiting review",
		Long: `Record an approval on a task. Once a task's approvals reach its
required count it transitions to approved, unblocking whatever depends
on it. Approving the same task twice as the same approver is a no-op.`,
		Args: cobra.ExactArgs(1),
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

			if approver == "" {
				approver = os.Getenv("USER")
				if approver == "" {
					approver = "unknown"
				}
			}

			task, err := a.gateway.ApproveTask(runContext(), resolved, args[0], approver)
			if err != nil {
				return err
			}

			fmt.Printf("%s task %s approved (%d/%d)\n", styleSuccess.Render("✓"), task.ID, len(task.Approvals), task.ApprovalsRequired)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id (default: most recently updated run)")
	cmd.Flags().StringVar(&approver, "approver", "", "approver identity (default: $USER)")
	return cmd
}
