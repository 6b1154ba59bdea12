package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/taskstore"
)

type fakeStore struct {
	tasks map[string]*orcmodel.Task
}

func newFakeStore(tasks ...*orcmodel.Task) *fakeStore {
	m := map[string]*orcmodel.Task{}
	for _, t := range tasks {
		m[t.ID] = t
	}
	return &fakeStore{tasks: m}
}

func (f *fakeStore) ReadEntries(runID string) ([]taskstore.Entry, error) {
	var out []taskstore.Entry
	for _, t := range f.tasks {
		if t.RunID == runID {
			out = append(out, taskstore.Entry{Task: t})
		}
	}
	return out, nil
}

func (f *fakeStore) WriteRecord(t *orcmodel.Task) error {
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) LoadTask(runID, taskID string) (*orcmodel.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, assertNotFound{}
	}
	cp := *t
	return &cp, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

type fakeWorkers struct {
	idle       []orcmodel.WorkerStatus
	dispatched []string
	staleTasks []string
}

func (f *fakeWorkers) Snapshot(ctx context.Context) ([]orcmodel.WorkerStatus, error) {
	return f.idle, nil
}

func (f *fakeWorkers) Dispatch(ctx context.Context, workerID string, task *orcmodel.Task, modelPriority []string) error {
	f.dispatched = append(f.dispatched, workerID+":"+task.ID)
	return nil
}

func (f *fakeWorkers) CheckHeartbeats(ctx context.Context) ([]string, error) {
	return f.staleTasks, nil
}

func TestTick_ClaimsReadyTaskForIdleWorker(t *testing.T) {
	task := &orcmodel.Task{ID: "t1", RunID: "r1", Role: orcmodel.RoleImplementer, Status: orcmodel.StatusReady, CreatedAt: time.Now()}
	store := newFakeStore(task)
	workers := &fakeWorkers{idle: []orcmodel.WorkerStatus{{ID: "w1", Role: orcmodel.RoleImplementer, State: orcmodel.WorkerIdle}}}

	s := New(store, workers, func(orcmodel.TaskRole) []string { return []string{"model"} }, nil)
	require.NoError(t, s.Tick(context.Background(), "r1"))

	assert.Equal(t, orcmodel.StatusInProgress, store.tasks["t1"].Status)
	assert.Equal(t, []string{"w1:t1"}, workers.dispatched)
}

func TestTick_RespectsImplementerLock(t *testing.T) {
	running := &orcmodel.Task{ID: "running", RunID: "r1", Role: orcmodel.RoleImplementer, Status: orcmodel.StatusInProgress, CreatedAt: time.Now()}
	ready := &orcmodel.Task{ID: "ready", RunID: "r1", Role: orcmodel.RoleImplementer, Status: orcmodel.StatusReady, CreatedAt: time.Now()}
	store := newFakeStore(running, ready)
	workers := &fakeWorkers{idle: []orcmodel.WorkerStatus{{ID: "w1", Role: orcmodel.RoleImplementer, State: orcmodel.WorkerIdle}}}

	s := New(store, workers, nil, nil)
	require.NoError(t, s.Tick(context.Background(), "r1"))

	assert.Empty(t, workers.dispatched)
	assert.Equal(t, orcmodel.StatusReady, store.tasks["ready"].Status)
}

func TestTick_SkipsTaskWithUnsatisfiedDependency(t *testing.T) {
	dep := &orcmodel.Task{ID: "dep", RunID: "r1", Role: orcmodel.RoleSplitter, Status: orcmodel.StatusInProgress, CreatedAt: time.Now()}
	task := &orcmodel.Task{ID: "t1", RunID: "r1", Role: orcmodel.RoleImplementer, Status: orcmodel.StatusReady, DependsOn: []string{"dep"}, CreatedAt: time.Now()}
	store := newFakeStore(dep, task)
	workers := &fakeWorkers{idle: []orcmodel.WorkerStatus{{ID: "w1", Role: orcmodel.RoleImplementer, State: orcmodel.WorkerIdle}}}

	s := New(store, workers, nil, nil)
	require.NoError(t, s.Tick(context.Background(), "r1"))
	assert.Empty(t, workers.dispatched)
}

func TestTick_ImplementerLockEnforcedWithinSingleTick(t *testing.T) {
	a := &orcmodel.Task{ID: "a", RunID: "r1", Role: orcmodel.RoleImplementer, Status: orcmodel.StatusReady, CreatedAt: time.Now()}
	b := &orcmodel.Task{ID: "b", RunID: "r1", Role: orcmodel.RoleImplementer, Status: orcmodel.StatusReady, CreatedAt: time.Now().Add(time.Second)}
	store := newFakeStore(a, b)
	workers := &fakeWorkers{idle: []orcmodel.WorkerStatus{
		{ID: "w1", Role: orcmodel.RoleImplementer, State: orcmodel.WorkerIdle},
		{ID: "w2", Role: orcmodel.RoleImplementer, State: orcmodel.WorkerIdle},
	}}

	s := New(store, workers, nil, nil)
	require.NoError(t, s.Tick(context.Background(), "r1"))

	assert.Len(t, workers.dispatched, 1, "only one implementer task should claim a worker in a single tick")
	assert.Equal(t, orcmodel.StatusInProgress, store.tasks["a"].Status)
	assert.Equal(t, orcmodel.StatusReady, store.tasks["b"].Status)
}

func TestTick_ResetsTasksOrphanedByStaleHeartbeat(t *testing.T) {
	orphaned := &orcmodel.Task{ID: "t1", RunID: "r1", Role: orcmodel.RoleImplementer, Status: orcmodel.StatusInProgress, Assignee: "w1", CreatedAt: time.Now()}
	store := newFakeStore(orphaned)
	workers := &fakeWorkers{staleTasks: []string{"t1"}}

	s := New(store, workers, nil, nil)
	require.NoError(t, s.Tick(context.Background(), "r1"))

	assert.Equal(t, orcmodel.StatusReady, store.tasks["t1"].Status)
	assert.Empty(t, store.tasks["t1"].Assignee)
}

func TestFirstEligible_TieBreaksByCreatedAtThenID(t *testing.T) {
	older := &orcmodel.Task{ID: "b", Role: orcmodel.RoleTester, Status: orcmodel.StatusReady, CreatedAt: time.Now().Add(-time.Minute)}
	newer := &orcmodel.Task{ID: "a", Role: orcmodel.RoleTester, Status: orcmodel.StatusReady, CreatedAt: time.Now()}
	got := firstEligible([]*orcmodel.Task{newer, older}, orcmodel.RoleTester, map[string]orcmodel.TaskStatus{})
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
}
