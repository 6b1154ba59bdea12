package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/runctl"
	"github.com/randalmurphal/orc-forged/internal/supervisor"
)

func newRunCmd() *cobra.Command {
	var guidance string
	var bugHunt bool
	var autoStart bool
	var workerSpec []string

	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Start a new run against the current worktree",
		Long: `Start a new run: seeds the two analyst tasks and (optionally) starts
workers to pick them up immediately.

Examples:
  orc-forged run "Add retry support to the HTTP client"
  orc-forged run "Find and fix bugs in the parser" --bug-hunt --auto-start
  orc-forged run "..." --workers implementer=2,tester=1`,
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

			configs, err := parseWorkerSpec(workerSpec)
			if err != nil {
				return err
			}

			mode := orcmodel.ModeImplementFeature
			if bugHunt {
				mode = orcmodel.ModeBugHunt
			}

			run, err := a.gateway.StartRun(runContext(), runctl.Briefing{
				WorktreeID:       id,
				Description:      args[0],
				Guidance:         guidance,
				Mode:             mode,
				WorkerConfigs:    configs,
				AutoStartWorkers: autoStart,
			})
			if err != nil {
				return err
			}

			fmt.Printf("%s run %s started for %s\n", styleSuccess.Render("✓"), run.RunID, root)

			if !autoStart || len(configs) == 0 {
				return nil
			}

			fmt.Println("workers started; running in the foreground, press Ctrl+C to stop")
			ctx, cancel := setupSignalContext()
			defer cancel()
			a.scheduler.Run(ctx, run.RunID)
			return a.gateway.StopWorkers(runContext(), nil)
		},
	}

	cmd.Flags().StringVar(&guidance, "guidance", "", "extra guidance appended to the analysis prompts")
	cmd.Flags().BoolVar(&bugHunt, "bug-hunt", false, "run in bug-hunt mode instead of implement-feature")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "start workers immediately once the run is created")
	cmd.Flags().StringSliceVar(&workerSpec, "workers", nil, "role=count pairs, e.g. implementer=2,tester=1")

	return cmd
}

// parseWorkerSpec parses "role=count" pairs into WorkerConfigs.
func parseWorkerSpec(spec []string) ([]supervisor.WorkerConfig, error) {
	out := make([]supervisor.WorkerConfig, 0, len(spec))
	for _, s := range spec {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid worker spec %q, expected role=count", s)
		}
		var count int
		if _, err := fmt.Sscanf(parts[1], "%d", &count); err != nil {
			return nil, fmt.Errorf("invalid worker count in %q: %w", s, err)
		}
		out = append(out, supervisor.WorkerConfig{Role: orcmodel.TaskRole(parts[0]), Count: count})
	}
	return out, nil
}
