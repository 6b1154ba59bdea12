// Package runctl implements the Run Controller: the operations that
// start, drive, and stop one run per worktree (spec.md §4.6).
package runctl

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orc-forged/internal/atomicfile"
	"github.com/randalmurphal/orc-forged/internal/conversation"
	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/supervisor"
	"github.com/randalmurphal/orc-forged/internal/taskstore"
)

// Briefing is the input to StartRun.
type Briefing struct {
	WorktreeID       string
	Description      string
	Guidance         string
	Mode             orcmodel.RunMode
	WorkerConfigs    []supervisor.WorkerConfig
	AutoStartWorkers bool
}

// FollowUpInput is the input to SubmitFollowUp.
type FollowUpInput struct {
	WorktreeID  string
	RunID       string
	TaskID      string // the designated run-thread task to append to
	Description string
}

// CommentInput is the input to CommentOnTask.
type CommentInput struct {
	RunID  string
	TaskID string
	Author string
	Text   string
}

// RunEvents lets the Run Controller notify the Projection of state
// changes without depending on it directly.
type RunEvents struct {
	OnRunUpdated          func(run *orcmodel.Run)
	OnConversationAppended func(entry *orcmodel.ConversationEntry)
}

// Workers is the subset of *supervisor.Supervisor the controller needs.
type Workers interface {
	Configure(ctx context.Context, configs []supervisor.WorkerConfig) error
	Start(ctx context.Context, configs []supervisor.WorkerConfig) error
	Stop(ctx context.Context, roles []orcmodel.TaskRole) error
}

// Scheduler is notified so it wakes immediately instead of waiting out
// the idle tick.
type Scheduler interface {
	Notify(runID string)
}

// Controller owns run lifecycle for one worktree root.
type Controller struct {
	WorktreeRoot string
	Tasks        *taskstore.Store
	Conversation *conversation.Log
	Workers      Workers
	Scheduler    Scheduler
	Events       RunEvents

	runs map[string]*orcmodel.Run // runID -> in-memory run record, mirrored to disk
}

// New creates a Controller.
func New(worktreeRoot string, tasks *taskstore.Store, conv *conversation.Log, workers Workers, sched Scheduler, events RunEvents) *Controller {
	return &Controller{
		WorktreeRoot: worktreeRoot,
		Tasks:        tasks,
		Conversation: conv,
		Workers:      workers,
		Scheduler:    sched,
		Events:       events,
		runs:         map[string]*orcmodel.Run{},
	}
}

func (c *Controller) runManifestPath(runID string) string {
	return filepath.Join(c.WorktreeRoot, "codex-runs", runID, "run.json")
}

// StartRun establishes the run directory, seeds analysis tasks, and
// (optionally) starts workers. Rejects when a run for this worktree is
// already running — the one non-idempotent verb per spec.md §4.8.
func (c *Controller) StartRun(ctx context.Context, b Briefing) (*orcmodel.Run, error) {
	for _, r := range c.runs {
		if r.WorktreeID == b.WorktreeID && r.Status == orcmodel.RunRunning {
			return nil, orcerr.Conflict("a run is already running for this worktree")
		}
	}

	now := time.Now().UTC()
	run := &orcmodel.Run{
		RunID:       uuid.NewString(),
		WorktreeID:  b.WorktreeID,
		EpicID:      uuid.NewString(),
		Status:      orcmodel.RunBootstrapping,
		Mode:        b.Mode,
		Description: b.Description,
		Guidance:    b.Guidance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.writeManifest(run); err != nil {
		return nil, err
	}
	c.runs[run.RunID] = run
	c.notifyRun(run)

	if _, err := c.Tasks.SeedAnalysis(run.RunID, run.EpicID, run.Description, run.Guidance); err != nil {
		run.Status = orcmodel.RunError
		run.Error = err.Error()
		_ = c.writeManifest(run)
		c.notifyRun(run)
		return nil, err
	}

	run.Status = orcmodel.RunRunning
	run.UpdatedAt = time.Now().UTC()
	if err := c.writeManifest(run); err != nil {
		return nil, err
	}
	c.notifyRun(run)

	if len(b.WorkerConfigs) > 0 {
		if err := c.Workers.Configure(ctx, b.WorkerConfigs); err != nil {
			return run, err
		}
		if b.AutoStartWorkers {
			if err := c.Workers.Start(ctx, nil); err != nil {
				return run, err
			}
		}
	}
	if c.Scheduler != nil {
		c.Scheduler.Notify(run.RunID)
	}
	return run, nil
}

// SubmitFollowUp appends the follow-up as a conversation entry on the
// designated run-thread task and, if that task is a reviewer task that
// is now approved, materializes a fresh analysis stage chained off it.
func (c *Controller) SubmitFollowUp(ctx context.Context, in FollowUpInput) error {
	entry, err := c.Conversation.Append(in.RunID, in.TaskID, "user", in.Description)
	if err != nil {
		return err
	}
	c.notifyConversation(entry)

	reviewer, err := c.Tasks.LoadTask(in.RunID, in.TaskID)
	if err != nil {
		return err
	}
	if reviewer.Role != orcmodel.RoleReviewer || reviewer.Status != orcmodel.StatusApproved {
		return nil
	}

	epicID := uuid.NewString()
	if _, err := c.Tasks.SeedAnalysis(in.RunID, epicID, in.Description, ""); err != nil {
		return err
	}
	if c.Scheduler != nil {
		c.Scheduler.Notify(in.RunID)
	}
	return nil
}

// ApproveTask appends approver to the task's approvals (idempotent: a
// repeat approval from the same approver is a no-op) and transitions the
// task to approved once approvals reach approvalsRequired. A task with
// approvalsRequired 0 records the approval but keeps its status.
func (c *Controller) ApproveTask(ctx context.Context, runID, taskID, approver string) (*orcmodel.Task, error) {
	task, err := c.Tasks.LoadTask(runID, taskID)
	if err != nil {
		return nil, err
	}
	if !task.HasApproval(approver) {
		task.Approvals = append(task.Approvals, approver)
	}
	if len(task.Approvals) >= task.ApprovalsRequired && task.ApprovalsRequired > 0 {
		task.Status = orcmodel.StatusApproved
	}
	if err := c.Tasks.WriteRecord(task); err != nil {
		return nil, err
	}
	if c.Scheduler != nil {
		c.Scheduler.Notify(runID)
	}
	return task, nil
}

// CommentOnTask appends a conversation entry. Unlike every other verb,
// this one is not idempotent: it appends every time it is called.
func (c *Controller) CommentOnTask(ctx context.Context, in CommentInput) (*orcmodel.ConversationEntry, error) {
	entry, err := c.Conversation.Append(in.RunID, in.TaskID, in.Author, in.Text)
	if err != nil {
		return nil, err
	}
	c.notifyConversation(entry)
	return entry, nil
}

// StopRun signals cancellation to the Supervisor and transitions the run
// to completed (cause == nil) or error (cause != nil).
func (c *Controller) StopRun(ctx context.Context, runID string, cause error) error {
	run, ok := c.runs[runID]
	if !ok {
		return orcerr.NotFound("run", runID)
	}
	if err := c.Workers.Stop(ctx, nil); err != nil {
		return err
	}
	if cause != nil {
		run.Status = orcmodel.RunError
		run.Error = cause.Error()
	} else {
		run.Status = orcmodel.RunCompleted
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.UpdatedAt = now
	if err := c.writeManifest(run); err != nil {
		return err
	}
	c.notifyRun(run)
	return nil
}

func (c *Controller) writeManifest(run *orcmodel.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return orcerr.Storage("marshal run manifest", err)
	}
	data = append(data, '\n')
	if err := atomicfile.Write(c.runManifestPath(run.RunID), data, 0o644); err != nil {
		return orcerr.Storage("write run manifest", err)
	}
	return nil
}

func (c *Controller) notifyRun(run *orcmodel.Run) {
	if c.Events.OnRunUpdated != nil {
		c.Events.OnRunUpdated(run)
	}
}

func (c *Controller) notifyConversation(entry *orcmodel.ConversationEntry) {
	if c.Events.OnConversationAppended != nil {
		c.Events.OnConversationAppended(entry)
	}
}
