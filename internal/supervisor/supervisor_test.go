package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orc-forged/internal/executor"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

type stubDispatcher struct {
	result *executor.Result
	err    error
	delay  time.Duration
}

func (d *stubDispatcher) Execute(ctx context.Context, ec executor.ExecutionContext) (*executor.Result, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return &executor.Result{Outcome: &orcmodel.WorkerOutcome{Status: orcmodel.OutcomeBlocked}}, nil
		}
	}
	return d.result, d.err
}

func TestConfigureAndStart_SpawnsWorkers(t *testing.T) {
	s := New(Config{}, &stubDispatcher{result: &executor.Result{Outcome: &orcmodel.WorkerOutcome{Status: orcmodel.OutcomeOK}}}, nil, Hooks{})
	ctx := context.Background()

	err := s.Start(ctx, []WorkerConfig{{Role: orcmodel.RoleImplementer, Count: 2}})
	require.NoError(t, err)

	workers, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 2)
	for _, w := range workers {
		assert.Equal(t, orcmodel.WorkerIdle, w.State)
	}
}

func TestConfigure_ClampsCountToRoleCap(t *testing.T) {
	s := New(Config{}, &stubDispatcher{}, nil, Hooks{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, []WorkerConfig{{Role: orcmodel.RoleImplementer, Count: 99}}))
	workers, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 2)
}

func TestStop_RemovesWorkers(t *testing.T) {
	s := New(Config{}, &stubDispatcher{}, nil, Hooks{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, []WorkerConfig{{Role: orcmodel.RoleTester, Count: 2}}))

	require.NoError(t, s.Stop(ctx, nil))
	workers, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestDispatch_RunsTaskAndReturnsWorkerToIdle(t *testing.T) {
	resultCh := make(chan *executor.Result, 1)
	s := New(Config{}, &stubDispatcher{result: &executor.Result{Outcome: &orcmodel.WorkerOutcome{Status: orcmodel.OutcomeOK}}},
		func(ctx context.Context, task *orcmodel.Task, result *executor.Result, runErr error) {
			resultCh <- result
		}, Hooks{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, []WorkerConfig{{Role: orcmodel.RoleImplementer, Count: 1}}))

	workers, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)

	task := &orcmodel.Task{ID: "t1", RunID: "r1", Role: orcmodel.RoleImplementer}
	require.NoError(t, s.Dispatch(ctx, workers[0].ID, task, []string{"model-a"}))

	select {
	case res := <-resultCh:
		assert.Equal(t, orcmodel.OutcomeOK, res.Outcome.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch result")
	}

	// Give the bridge a moment to process the post-run state update.
	time.Sleep(20 * time.Millisecond)
	after, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, orcmodel.WorkerIdle, after[0].State)
}

func TestRetryAttempt_IncrementsPerTask(t *testing.T) {
	s := New(Config{MaxRetries: 2}, &stubDispatcher{}, nil, Hooks{})
	ctx := context.Background()

	attempt1, max1, err := s.RetryAttempt(ctx, orcmodel.RoleImplementer, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt1)
	assert.Equal(t, 2, max1)

	attempt2, _, err := s.RetryAttempt(ctx, orcmodel.RoleImplementer, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt2)
}

func TestCheckHeartbeats_ResetsStaleWorkerAndReturnsItsTask(t *testing.T) {
	s := New(Config{Heartbeat: time.Millisecond}, &stubDispatcher{}, nil, Hooks{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, []WorkerConfig{{Role: orcmodel.RoleImplementer, Count: 1}}))

	workers, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	workerID := workers[0].ID

	_, err = s.b.call(ctx, func(st *supervisorState) (any, error) {
		w := st.workers[workerID]
		w.status.State = orcmodel.WorkerWorking
		w.status.TaskID = "stale-task"
		w.status.LastHeartbeatAt = time.Now().UTC().Add(-time.Hour)
		return nil, nil
	})
	require.NoError(t, err)

	stale, err := s.CheckHeartbeats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-task"}, stale)

	after, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, orcmodel.WorkerError, after[0].State)
	assert.Empty(t, after[0].TaskID)
}

func TestCheckHeartbeats_IgnoresFreshWorkers(t *testing.T) {
	s := New(Config{}, &stubDispatcher{}, nil, Hooks{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, []WorkerConfig{{Role: orcmodel.RoleImplementer, Count: 1}}))

	workers, err := s.Snapshot(ctx)
	require.NoError(t, err)
	workerID := workers[0].ID

	_, err = s.b.call(ctx, func(st *supervisorState) (any, error) {
		w := st.workers[workerID]
		w.status.State = orcmodel.WorkerWorking
		w.status.TaskID = "t1"
		w.status.LastHeartbeatAt = time.Now().UTC()
		return nil, nil
	})
	require.NoError(t, err)

	stale, err := s.CheckHeartbeats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestBridge_RespawnsAfterPanic(t *testing.T) {
	b := newBridge(func() *supervisorState {
		return &supervisorState{configs: map[orcmodel.TaskRole]WorkerConfig{}, workers: map[string]*worker{}, retries: map[string]int{}}
	})
	ctx := context.Background()

	_, err := b.call(ctx, func(st *supervisorState) (any, error) {
		panic("boom")
	})
	assert.Error(t, err)

	// The bridge should lazily respawn and serve subsequent calls fine.
	v, err := b.call(ctx, func(st *supervisorState) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
