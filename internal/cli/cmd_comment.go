package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-forged/internal/runctl"
)

func newCommentOnTaskCmd() *cobra.Command {
	var runID string
	var author string

	cmd := &cobra.Command{
		Use:   "comment <task-id> <text>",
		Short: "Append a comment to a task's conversation",
		Long: `Append a comment to a task's conversation log. Unlike every other
command, this one is never idempotent: it appends a new entry every
time it runs, even with identical arguments.`,
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

			if author == "" {
				author = os.Getenv("USER")
				if author == "" {
					author = "unknown"
				}
			}

			entry, err := a.gateway.CommentOnTask(runContext(), runctl.CommentInput{
				RunID:  resolved,
				TaskID: args[0],
				Author: author,
				Text:   args[1],
			})
			if err != nil {
				return err
			}

			fmt.Printf("%s comment %s appended to %s\n", styleSuccess.Render("✓"), entry.ID, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id (default: most recently updated run)")
	cmd.Flags().StringVar(&author, "author", "", "comment author (default: $USER)")
	return cmd
}
