package runctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orc-forged/internal/conversation"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/supervisor"
	"github.com/randalmurphal/orc-forged/internal/taskstore"
)

type noopWorkers struct {
	configured []supervisor.WorkerConfig
	started    bool
	stopped    bool
}

func (w *noopWorkers) Configure(ctx context.Context, configs []supervisor.WorkerConfig) error {
	w.configured = configs
	return nil
}
func (w *noopWorkers) Start(ctx context.Context, configs []supervisor.WorkerConfig) error {
	w.started = true
	return nil
}
func (w *noopWorkers) Stop(ctx context.Context, roles []orcmodel.TaskRole) error {
	w.stopped = true
	return nil
}

type noopScheduler struct{ notified []string }

func (s *noopScheduler) Notify(runID string) { s.notified = append(s.notified, runID) }

func newTestController(t *testing.T) (*Controller, *noopWorkers) {
	t.Helper()
	root := t.TempDir()
	tasks := taskstore.New(root, nil)
	conv := conversation.New(root)
	workers := &noopWorkers{}
	sched := &noopScheduler{}
	return New(root, tasks, conv, workers, sched, RunEvents{}), workers
}

func TestStartRun_SeedsAnalysisAndTransitionsToRunning(t *testing.T) {
	c, workers := newTestController(t)
	run, err := c.StartRun(context.Background(), Briefing{
		WorktreeID:       "wt1",
		Description:      "do the thing",
		Mode:             orcmodel.ModeImplementFeature,
		WorkerConfigs:    []supervisor.WorkerConfig{{Role: orcmodel.RoleAnalystA, Count: 1}},
		AutoStartWorkers: true,
	})
	require.NoError(t, err)
	assert.Equal(t, orcmodel.RunRunning, run.Status)
	assert.True(t, workers.started)

	entries, err := c.Tasks.ReadEntries(run.RunID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStartRun_RejectsWhileAlreadyRunning(t *testing.T) {
	c, _ := newTestController(t)
	_, err := c.StartRun(context.Background(), Briefing{WorktreeID: "wt1", Description: "x"})
	require.NoError(t, err)

	_, err = c.StartRun(context.Background(), Briefing{WorktreeID: "wt1", Description: "y"})
	assert.Error(t, err)
}

func TestApproveTask_IdempotentAndTransitionsOnThreshold(t *testing.T) {
	c, _ := newTestController(t)
	run, err := c.StartRun(context.Background(), Briefing{WorktreeID: "wt1", Description: "x"})
	require.NoError(t, err)

	entries, err := c.Tasks.ReadEntries(run.RunID)
	require.NoError(t, err)
	task := entries[0].Task
	task.ApprovalsRequired = 1
	require.NoError(t, c.Tasks.WriteRecord(task))

	updated, err := c.ApproveTask(context.Background(), run.RunID, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, orcmodel.StatusApproved, updated.Status)
	assert.Equal(t, []string{"alice"}, updated.Approvals)

	// Repeat approval from the same approver does not double-count.
	updated2, err := c.ApproveTask(context.Background(), run.RunID, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, updated2.Approvals)
}

func TestCommentOnTask_AppendsEveryTime(t *testing.T) {
	c, _ := newTestController(t)
	run, err := c.StartRun(context.Background(), Briefing{WorktreeID: "wt1", Description: "x"})
	require.NoError(t, err)
	entries, err := c.Tasks.ReadEntries(run.RunID)
	require.NoError(t, err)
	taskID := entries[0].Task.ID

	_, err = c.CommentOnTask(context.Background(), CommentInput{RunID: run.RunID, TaskID: taskID, Author: "bob", Text: "hello"})
	require.NoError(t, err)
	_, err = c.CommentOnTask(context.Background(), CommentInput{RunID: run.RunID, TaskID: taskID, Author: "bob", Text: "hello"})
	require.NoError(t, err)

	log, err := c.Conversation.Read(run.RunID, taskID)
	require.NoError(t, err)
	assert.Len(t, log, 2)
}

func TestStopRun_TransitionsToCompleted(t *testing.T) {
	c, workers := newTestController(t)
	run, err := c.StartRun(context.Background(), Briefing{WorktreeID: "wt1", Description: "x"})
	require.NoError(t, err)

	require.NoError(t, c.StopRun(context.Background(), run.RunID, nil))
	assert.True(t, workers.stopped)
	assert.Equal(t, orcmodel.RunCompleted, c.runs[run.RunID].Status)
}
