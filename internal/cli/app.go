package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/randalmurphal/orc-forged/internal/artifact"
	"github.com/randalmurphal/orc-forged/internal/config"
	"github.com/randalmurphal/orc-forged/internal/conversation"
	"github.com/randalmurphal/orc-forged/internal/executor"
	"github.com/randalmurphal/orc-forged/internal/gateway"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/projection"
	"github.com/randalmurphal/orc-forged/internal/runctl"
	"github.com/randalmurphal/orc-forged/internal/scheduler"
	"github.com/randalmurphal/orc-forged/internal/supervisor"
	"github.com/randalmurphal/orc-forged/internal/taskstore"
)

// app bundles the fully wired in-process orchestrator core the CLI
// drives. Each invocation builds a fresh app rooted at the current
// worktree; there is no daemon, so a run's state lives entirely on disk
// between invocations, and the Supervisor/Scheduler only matter for the
// lifetime of commands that actually dispatch work (run, workers start).
type app struct {
	worktreeRoot string
	worktreeID   string
	gateway      *gateway.Gateway
	scheduler    *scheduler.Scheduler
	tasks        *taskstore.Store
	logger       *slog.Logger
}

func newApp(worktreeRoot, worktreeID string) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	loader, err := config.NewLoader(worktreeRoot, "")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tasks := taskstore.New(worktreeRoot, logger)
	conv := conversation.New(worktreeRoot)
	artifacts := artifact.New(worktreeRoot, []string{"**/.git/**", "**/*.key", "**/*.pem"})
	exec := executor.New(executor.Config{Command: "claude", TestCommand: []string{"go", "test", "./..."}}, artifacts)

	proj := projection.New()

	modelPriorityFor := func(role orcmodel.TaskRole) []string {
		for _, w := range loader.Current().Workers {
			if orcmodel.TaskRole(w.Role) == role {
				return w.ModelPriority
			}
		}
		return nil
	}
	sched := scheduler.New(tasks, nil, modelPriorityFor, logger) // Workers set below, after Supervisor exists.

	var sup *supervisor.Supervisor
	onResult := func(ctx context.Context, task *orcmodel.Task, result *executor.Result, runErr error) {
		current, err := tasks.LoadTask(task.RunID, task.ID)
		if err != nil {
			proj.OnError(worktreeID, err)
			return
		}
		if runErr != nil {
			attempt, maxRetries, rErr := sup.RetryAttempt(ctx, task.Role, task.ID)
			if rErr != nil {
				proj.OnError(worktreeID, rErr)
			}
			if attempt <= maxRetries {
				current.Status = orcmodel.StatusReady
			} else {
				current.Status = orcmodel.StatusError
			}
			current.Assignee = ""
		} else {
			current.WorkerOutcome = result.Outcome
			current.Artifacts = appendArtifacts(current.Artifacts, result.Artifacts)
			switch result.Outcome.Status {
			case orcmodel.OutcomeOK:
				if current.ApprovalsRequired > 0 {
					current.Status = orcmodel.StatusAwaitingReview
				} else {
					current.Status = orcmodel.StatusDone
				}
			case orcmodel.OutcomeChangesRequested:
				current.Status = orcmodel.StatusChangesRequested
			default:
				current.Status = orcmodel.StatusBlocked
			}
		}
		if err := tasks.WriteRecord(current); err != nil {
			proj.OnError(worktreeID, err)
			return
		}
		proj.OnTasksUpdated(worktreeID, []*orcmodel.Task{current})
		if _, err := tasks.EnsureWorkflowExpansion(task.RunID); err != nil {
			proj.OnError(worktreeID, err)
		}
		sched.Notify(task.RunID)
	}

	hooks := supervisor.Hooks{
		OnWorkersUpdated: func(workers []orcmodel.WorkerStatus) { proj.OnWorkersUpdated(worktreeID, workers) },
		OnWorkerLog: func(workerID string, chunk []byte) { proj.OnWorkerLog(worktreeID, workerID, chunk) },
	}

	sup = supervisor.New(supervisor.Config{}, exec, onResult, hooks)
	sched.Workers = sup

	runs := runctl.New(worktreeRoot, tasks, conv, sup, sched, runctl.RunEvents{
		OnRunUpdated: func(r *orcmodel.Run) { proj.OnRunUpdated(worktreeID, r) },
		OnConversationAppended: func(e *orcmodel.ConversationEntry) {
			proj.OnConversationAppended(worktreeID, e)
		},
	})

	gw := gateway.New(runs, proj, sup)

	if cfg := loader.Current(); len(cfg.Workers) > 0 {
		if err := sup.Configure(context.Background(), cfg.ToSupervisorConfigs()); err != nil {
			logger.Warn("failed to apply worker config", "error", err)
		}
	}
	loader.OnChange(func(cfg config.Config) {
		if err := sup.Configure(context.Background(), cfg.ToSupervisorConfigs()); err != nil {
			logger.Warn("failed to apply reloaded worker config", "error", err)
		}
	})
	if _, err := loader.WatchAndReload(); err != nil {
		logger.Warn("config watch failed to start", "error", err)
	}

	return &app{
		worktreeRoot: worktreeRoot,
		worktreeID:   worktreeID,
		gateway:      gw,
		scheduler:    sched,
		tasks:        tasks,
		logger:       logger,
	}, nil
}

func appendArtifacts(existing []string, files []artifact.File) []string {
	for _, f := range files {
		existing = append(existing, f.RelativePath)
	}
	return existing
}

// runContext returns a background context; the CLI is a one-shot
// process, so no outer cancellation source exists beyond process exit.
func runContext() context.Context {
	return context.Background()
}
