package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-forged/internal/runctl"
)

func newFollowUpCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "follow-up <task-id> <description>",
		Short: "Submit a follow-up on a run's designated thread task",
		Long: `Append a follow-up to the designated run-thread task. If that task is
an approved reviewer task, this also chains a fresh analysis stage off
of it, continuing the run with a new epic.`,
		Args: cobra.ExactArgs(2),
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

			if err := a.gateway.SubmitFollowUp(runContext(), runctl.FollowUpInput{
				WorktreeID:  id,
				RunID:       resolved,
				TaskID:      args[0],
				Description: args[1],
			}); err != nil {
				return err
			}

			fmt.Printf("%s follow-up submitted\n", styleSuccess.Render("✓"))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id (default: most recently updated run)")
	return cmd
}
