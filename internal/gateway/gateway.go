// Package gateway exposes the orchestrator's command surface: the eight
// command verbs spec.md §4.8 names plus Subscribe, consumed directly by
// the CLI. The transport
// that would expose this to a remote UI is the named out-of-scope
// collaborator; Gateway is the in-process command surface itself.
package gateway

import (
	"context"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/projection"
	"github.com/randalmurphal/orc-forged/internal/runctl"
	"github.com/randalmurphal/orc-forged/internal/supervisor"
)

// Workers is runctl.Workers (Configure/Start/Stop) plus Snapshot, which
// *supervisor.Supervisor provides. No Gateway verb calls Snapshot;
// GetSnapshot reads the projection only.
type Workers interface {
	runctl.Workers
	Snapshot(ctx context.Context) ([]orcmodel.WorkerStatus, error)
}

// Gateway wires the Run Controller, Projection, and Supervisor behind
// the command verbs named in spec.md §4.8.
type Gateway struct {
	Runs       *runctl.Controller
	Projection *projection.Projection
	Workers    Workers
}

// New creates a Gateway.
func New(runs *runctl.Controller, proj *projection.Projection, workers Workers) *Gateway {
	return &Gateway{Runs: runs, Projection: proj, Workers: workers}
}

// GetSnapshot returns the current projection snapshot for a worktree.
// Idempotent by construction (read-only).
func (g *Gateway) GetSnapshot(worktreeID string) *projection.Snapshot {
	return g.Projection.Snapshot(worktreeID)
}

// StartRun starts a new run for a worktree. Not idempotent: rejects when
// a run for the worktree is already running (spec.md §4.8).
func (g *Gateway) StartRun(ctx context.Context, b runctl.Briefing) (*orcmodel.Run, error) {
	return g.Runs.StartRun(ctx, b)
}

// SubmitFollowUp appends a follow-up and, when applicable, chains a new
// analysis stage off an approved review.
func (g *Gateway) SubmitFollowUp(ctx context.Context, in runctl.FollowUpInput) error {
	return g.Runs.SubmitFollowUp(ctx, in)
}

// ApproveTask records an approval. Idempotent under identical arguments:
// approving the same task twice as the same approver does not
// double-count.
func (g *Gateway) ApproveTask(ctx context.Context, runID, taskID, approver string) (*orcmodel.Task, error) {
	if runID == "" || taskID == "" || approver == "" {
		return nil, orcerr.New(orcerr.KindValidation, "runId, taskId, and approver are required")
	}
	return g.Runs.ApproveTask(ctx, runID, taskID, approver)
}

// CommentOnTask appends a conversation entry. Not idempotent: appends
// every time, per spec.md §4.8.
func (g *Gateway) CommentOnTask(ctx context.Context, in runctl.CommentInput) (*orcmodel.ConversationEntry, error) {
	return g.Runs.CommentOnTask(ctx, in)
}

// ConfigureWorkers declares desired worker counts/model priority per
// role. Idempotent.
func (g *Gateway) ConfigureWorkers(ctx context.Context, configs []supervisor.WorkerConfig) error {
	return g.Workers.Configure(ctx, configs)
}

// StartWorkers reconciles actual worker counts to desired. Idempotent.
func (g *Gateway) StartWorkers(ctx context.Context, configs []supervisor.WorkerConfig) error {
	return g.Workers.Start(ctx, configs)
}

// StopWorkers cancels and removes workers matching roles (or all, if
// roles is empty). Idempotent.
func (g *Gateway) StopWorkers(ctx context.Context, roles []orcmodel.TaskRole) error {
	return g.Workers.Stop(ctx, roles)
}

// Subscribe registers for the worktree's event stream and returns a
// receive channel plus an unsubscribe function.
func (g *Gateway) Subscribe(worktreeID string) (<-chan projection.Event, func()) {
	return g.Projection.Subscribe(worktreeID)
}
