// Package scheduler runs the cooperative tick loop that matches idle
// workers to ready tasks: deterministic iteration order, dependency and
// implementer-lock gating, and claim-contention retry via the Task
// Store's write lock.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/taskstore"
)

// TickTimeout bounds how long the loop may sit idle between wake-ups,
// per spec.md §5 Timeouts.
const TickTimeout = time.Second

// Store is the subset of *taskstore.Store the scheduler needs.
type Store interface {
	ReadEntries(runID string) ([]taskstore.Entry, error)
	WriteRecord(t *orcmodel.Task) error
	LoadTask(runID, taskID string) (*orcmodel.Task, error)
}

// Workers is the subset of *supervisor.Supervisor the scheduler needs.
type Workers interface {
	Snapshot(ctx context.Context) ([]orcmodel.WorkerStatus, error)
	Dispatch(ctx context.Context, workerID string, task *orcmodel.Task, modelPriority []string) error
	// CheckHeartbeats marks any worker silent past 3*H as error and
	// returns the task ids orphaned by that, per spec.md §4.4.
	CheckHeartbeats(ctx context.Context) ([]string, error)
}

// ModelPriorityFor resolves the model priority list for a role, used
// when dispatching a claimed task.
type ModelPriorityFor func(role orcmodel.TaskRole) []string

// Scheduler drives one run's tick loop.
type Scheduler struct {
	Store            Store
	Workers          Workers
	ModelPriorityFor ModelPriorityFor
	Logger           *slog.Logger

	wake chan string // runIDs needing an out-of-band tick
}

// New creates a Scheduler.
func New(store Store, workers Workers, modelPriorityFor ModelPriorityFor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Store:            store,
		Workers:          workers,
		ModelPriorityFor: modelPriorityFor,
		Logger:           logger,
		wake:             make(chan string, 64),
	}
}

// Notify wakes the loop early for runID, called on Task Store mutations
// and Supervisor state changes instead of waiting out the idle timeout.
func (s *Scheduler) Notify(runID string) {
	select {
	case s.wake <- runID:
	default:
	}
}

// Run drives the tick loop for runID until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, runID string) {
	timer := time.NewTimer(TickTimeout)
	defer timer.Stop()
	for {
		if err := s.Tick(ctx, runID); err != nil {
			s.Logger.Error("scheduler tick failed", "runId", runID, "error", err)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(TickTimeout)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case woke := <-s.wake:
			if woke != runID {
				continue
			}
		}
	}
}

// Tick runs one scheduling pass for runID: for every idle worker, find
// and claim the first eligible ready task for its role.
func (s *Scheduler) Tick(ctx context.Context, runID string) error {
	if err := s.resetStaleHeartbeats(ctx, runID); err != nil {
		return err
	}

	entries, err := s.Store.ReadEntries(runID)
	if err != nil {
		return err
	}
	tasks := make([]*orcmodel.Task, 0, len(entries))
	for _, e := range entries {
		if e.Task.RunID == runID {
			tasks = append(tasks, e.Task)
		}
	}

	workers, err := s.Workers.Snapshot(ctx)
	if err != nil {
		return err
	}

	idle := make([]orcmodel.WorkerStatus, 0, len(workers))
	for _, w := range workers {
		if w.State == orcmodel.WorkerIdle {
			idle = append(idle, w)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		if idle[i].Role != idle[j].Role {
			return idle[i].Role < idle[j].Role
		}
		return idle[i].ID < idle[j].ID
	})

	statusOf := make(map[string]orcmodel.TaskStatus, len(tasks))
	for _, t := range tasks {
		statusOf[t.ID] = t.Status
	}

	for _, w := range idle {
		if implementerLockHeld(tasks, statusOf) && w.Role == orcmodel.RoleImplementer {
			continue
		}
		task := firstEligible(tasks, w.Role, statusOf)
		if task == nil {
			continue
		}
		if err := s.claimAndDispatch(ctx, runID, w.ID, task); err != nil {
			if orcerr.KindOf(err) == orcerr.KindConflictState {
				continue // lost the claim race; re-enter selection next tick
			}
			return err
		}
		statusOf[task.ID] = orcmodel.StatusInProgress
	}
	return nil
}

// resetStaleHeartbeats asks Workers for any task orphaned by a worker
// that has gone silent past its heartbeat deadline and puts each back
// to ready so the next selection pass can reclaim it. A task belonging
// to a different run (or already gone) is skipped rather than failing
// the tick, since CheckHeartbeats is supervisor-wide, not run-scoped.
func (s *Scheduler) resetStaleHeartbeats(ctx context.Context, runID string) error {
	staleTaskIDs, err := s.Workers.CheckHeartbeats(ctx)
	if err != nil {
		return err
	}
	for _, taskID := range staleTaskIDs {
		task, err := s.Store.LoadTask(runID, taskID)
		if err != nil {
			if orcerr.KindOf(err) == orcerr.KindValidation {
				continue
			}
			return err
		}
		task.Status = orcmodel.StatusReady
		task.Assignee = ""
		if err := s.Store.WriteRecord(task); err != nil {
			return err
		}
		s.Logger.Warn("worker heartbeat stale, task reset to ready", "runId", runID, "taskId", taskID)
	}
	return nil
}

// implementerLockHeld reports whether any implementer task is currently
// in_progress, which blocks every other implementer task from starting.
// statusOf is consulted rather than each task's own Status field because
// it already reflects claims made earlier in this same tick; the task
// records loaded at the top of Tick are never mutated in place.
func implementerLockHeld(tasks []*orcmodel.Task, statusOf map[string]orcmodel.TaskStatus) bool {
	for _, t := range tasks {
		if t.Role == orcmodel.RoleImplementer && statusOf[t.ID] == orcmodel.StatusInProgress {
			return true
		}
	}
	return false
}

// firstEligible returns the first ready task matching role whose
// dependencies are satisfied, tie-broken by createdAt then id.
func firstEligible(tasks []*orcmodel.Task, role orcmodel.TaskRole, statusOf map[string]orcmodel.TaskStatus) *orcmodel.Task {
	var candidates []*orcmodel.Task
	for _, t := range tasks {
		if t.Role != role || t.Status != orcmodel.StatusReady {
			continue
		}
		if !t.DependenciesSatisfied(statusOf) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0]
}

// claimAndDispatch atomically transitions task ready->in_progress (by
// re-reading it and checking it is still ready before writing, so a
// concurrent claim always loses the race cleanly) and, on success,
// dispatches it to the worker.
func (s *Scheduler) claimAndDispatch(ctx context.Context, runID, workerID string, task *orcmodel.Task) error {
	current, err := s.Store.LoadTask(runID, task.ID)
	if err != nil {
		return err
	}
	if current.Status != orcmodel.StatusReady {
		return orcerr.Conflict("task no longer ready")
	}
	current.Status = orcmodel.StatusInProgress
	current.Assignee = workerID
	current.LastClaimedBy++
	if err := s.Store.WriteRecord(current); err != nil {
		return err
	}
	task = current

	var priority []string
	if s.ModelPriorityFor != nil {
		priority = s.ModelPriorityFor(task.Role)
	}
	return s.Workers.Dispatch(ctx, workerID, task, priority)
}
