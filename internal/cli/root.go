// Package cli implements the orc-forged command-line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	worktreeFlag string
	jsonOut      bool
)

// Command group IDs.
const (
	groupCore  = "core"
	groupTask  = "task"
	groupWorker = "worker"
)

var rootCmd = &cobra.Command{
	Use:   "orc-forged",
	Short: "Multi-role autonomous coding agent orchestrator",
	Long: `orc-forged drives a pipeline of role-specialized coding-agent workers
(two analysts, a consensus builder, a splitter, an implementer, a tester,
and a reviewer) against one worktree at a time.

Quick start:
  orc-forged run "Add retry support to the HTTP client"
  orc-forged status
  orc-forged approve <task-id>`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&worktreeFlag, "worktree", "", "worktree root (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupTask, Title: "Task Management:"},
		&cobra.Group{ID: groupWorker, Title: "Workers:"},
	)

	addCmd(newRunCmd(), groupCore)
	addCmd(newStatusCmd(), groupCore)
	addCmd(newFollowUpCmd(), groupCore)

	addCmd(newApproveCmd(), groupTask)
	addCmd(newCommentOnTaskCmd(), groupTask)

	addCmd(newWorkersCmd(), groupWorker)
}

func addCmd(cmd *cobra.Command, groupID string) {
	cmd.GroupID = groupID
	rootCmd.AddCommand(cmd)
}

// worktreeRoot resolves the worktree root: the --worktree flag, or the
// current working directory.
func worktreeRoot() (string, error) {
	if worktreeFlag != "" {
		return worktreeFlag, nil
	}
	return os.Getwd()
}

// worktreeIDFor derives a stable identifier for a worktree from its root
// path. The Projection and Supervisor key all live state by this id, so
// two invocations against the same directory always share one identity.
func worktreeIDFor(root string) string {
	return root
}
