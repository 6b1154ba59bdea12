// Package supervisor owns the dynamic set of per-role workers, their
// heartbeats, and crash recovery. All mutable state lives inside a
// single bridge goroutine (see bridge.go); Supervisor's exported methods
// are thin request/response wrappers around it.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orc-forged/internal/executor"
	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// WorkerConfig declares the desired count and model priority for one role.
type WorkerConfig struct {
	Role          orcmodel.TaskRole
	Count         int
	ModelPriority []string
}

// errUnknownWorker reports a worker id the Supervisor does not track.
func errUnknownWorker(id string) error {
	return orcerr.New(orcerr.KindValidation, "unknown worker: "+id)
}

// roleCap bounds Count per role: analysts may fan out to 4 concurrent
// workers, every other role caps at 2.
func roleCap(role orcmodel.TaskRole) int {
	if role == orcmodel.RoleAnalystA || role == orcmodel.RoleAnalystB {
		return 4
	}
	return 2
}

func clampConfig(c WorkerConfig) WorkerConfig {
	maxCount := roleCap(c.Role)
	if c.Count > maxCount {
		c.Count = maxCount
	}
	if c.Count < 0 {
		c.Count = 0
	}
	if len(c.ModelPriority) > 0 && c.Count > 0 {
		for len(c.ModelPriority) < c.Count {
			c.ModelPriority = append(c.ModelPriority, c.ModelPriority[len(c.ModelPriority)-1])
		}
	}
	return c
}

// Dispatcher runs one task to completion; Supervisor calls it once per
// claimed task. It is satisfied by *executor.Executor in production and
// by a stub in tests.
type Dispatcher interface {
	Execute(ctx context.Context, ec executor.ExecutionContext) (*executor.Result, error)
}

// Hooks lets callers (the Projection) observe worker lifecycle events
// without the Supervisor depending on the projection package.
type Hooks struct {
	OnWorkersUpdated func(workers []orcmodel.WorkerStatus)
	OnWorkerLog      func(workerID string, chunk []byte)
}

// Config configures a Supervisor instance.
type Config struct {
	Heartbeat   time.Duration // H; default 5s.
	MaxRetries  int           // per task per role; default 2.
	LogTailSize int           // bytes of worker-log kept on crash; default 4096.
}

func (c Config) heartbeat() time.Duration {
	if c.Heartbeat <= 0 {
		return 5 * time.Second
	}
	return c.Heartbeat
}

func (c Config) maxRetries() int {
	if c.MaxRetries <= 0 {
		return 2
	}
	return c.MaxRetries
}

func (c Config) logTailSize() int {
	if c.LogTailSize <= 0 {
		return 4096
	}
	return c.LogTailSize
}

// worker is one worker slot's live state, owned exclusively by the
// bridge goroutine.
type worker struct {
	status  orcmodel.WorkerStatus
	cancel  context.CancelFunc
	logTail []byte
}

// supervisorState is the bridge's private state: every field here is
// touched only from inside the bridge goroutine.
type supervisorState struct {
	cfg        Config
	dispatcher Dispatcher
	configs    map[orcmodel.TaskRole]WorkerConfig
	workers    map[string]*worker
	retries    map[string]int // taskID -> attempt count, across worker restarts
	hooks      Hooks
	onResult   ResultFunc
}

// ResultFunc reports a finished (or crashed) task execution back to the
// Task Store / Run Controller.
type ResultFunc func(ctx context.Context, task *orcmodel.Task, result *executor.Result, runErr error)

// Supervisor manages worker goroutines through the bridge.
type Supervisor struct {
	b   *bridge
	mu  sync.Mutex
	cfg Config
}

// New creates a Supervisor. dispatcher drives task execution; onResult
// reports a worker's outcome (including crashes, signalled by a non-nil
// runErr). Tasks are claimed by the Scheduler, which calls Dispatch
// directly once it has won the claim race against the Task Store.
func New(cfg Config, dispatcher Dispatcher, onResult ResultFunc, hooks Hooks) *Supervisor {
	s := &Supervisor{cfg: cfg}
	s.b = newBridge(func() *supervisorState {
		return &supervisorState{
			cfg:        cfg,
			dispatcher: dispatcher,
			configs:    map[orcmodel.TaskRole]WorkerConfig{},
			workers:    map[string]*worker{},
			retries:    map[string]int{},
			hooks:      hooks,
			onResult:   onResult,
		}
	})
	return s
}

// Configure declares desired counts/model priority per role. Idempotent:
// calling it again with the same configs is a no-op for workers already
// at the right count.
func (s *Supervisor) Configure(ctx context.Context, configs []WorkerConfig) error {
	_, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		for _, c := range configs {
			st.configs[c.Role] = clampConfig(c)
		}
		return nil, nil
	})
	return err
}

// Start reconciles actual worker counts to desired by spawning any
// missing workers. If configs is non-empty it is applied first.
func (s *Supervisor) Start(ctx context.Context, configs []WorkerConfig) error {
	if len(configs) > 0 {
		if err := s.Configure(ctx, configs); err != nil {
			return err
		}
	}
	_, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		for role, cfg := range st.configs {
			existing := 0
			for _, w := range st.workers {
				if w.status.Role == role && w.status.State != orcmodel.WorkerStopped {
					existing++
				}
			}
			for i := existing; i < cfg.Count; i++ {
				id := uuid.NewString()
				st.workers[id] = &worker{
					status: orcmodel.WorkerStatus{ID: id, Role: role, State: orcmodel.WorkerIdle},
				}
			}
		}
		s.notifyWorkersUpdated(st)
		return nil, nil
	})
	return err
}

// Stop signals cancellation to every worker matching roles (or all
// workers, if roles is empty) and removes them.
func (s *Supervisor) Stop(ctx context.Context, roles []orcmodel.TaskRole) error {
	roleSet := map[orcmodel.TaskRole]bool{}
	for _, r := range roles {
		roleSet[r] = true
	}
	_, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		for id, w := range st.workers {
			if len(roleSet) > 0 && !roleSet[w.status.Role] {
				continue
			}
			if w.cancel != nil {
				w.cancel()
			}
			w.status.State = orcmodel.WorkerStopped
			delete(st.workers, id)
		}
		s.notifyWorkersUpdated(st)
		return nil, nil
	})
	return err
}

// Snapshot returns the current status of every worker, sorted by role
// then id (the deterministic order the Scheduler iterates in).
func (s *Supervisor) Snapshot(ctx context.Context) ([]orcmodel.WorkerStatus, error) {
	v, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		out := make([]orcmodel.WorkerStatus, 0, len(st.workers))
		for _, w := range st.workers {
			out = append(out, w.status)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Role != out[j].Role {
				return out[i].Role < out[j].Role
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]orcmodel.WorkerStatus), nil
}

func (s *Supervisor) notifyWorkersUpdated(st *supervisorState) {
	if st.hooks.OnWorkersUpdated == nil {
		return
	}
	out := make([]orcmodel.WorkerStatus, 0, len(st.workers))
	for _, w := range st.workers {
		out = append(out, w.status)
	}
	st.hooks.OnWorkersUpdated(out)
}

// Heartbeat records that a worker is still alive. Called by the
// goroutine driving a worker's subprocess while state = working.
func (s *Supervisor) Heartbeat(ctx context.Context, workerID string) error {
	_, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		w, ok := st.workers[workerID]
		if !ok {
			return nil, orcerr.New(orcerr.KindValidation, "unknown worker: "+workerID)
		}
		w.status.LastHeartbeatAt = time.Now().UTC()
		return nil, nil
	})
	return err
}

// CheckHeartbeats sets any worker in state=working whose last heartbeat
// is older than 3*H to error, cancels its run, and returns the ids of the
// tasks those workers held. It does not touch the task records; the
// caller (the Scheduler tick) resets those tasks to ready.
func (s *Supervisor) CheckHeartbeats(ctx context.Context) ([]string, error) {
	v, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		var staleTasks []string
		deadline := 3 * st.cfg.heartbeat()
		now := time.Now().UTC()
		for _, w := range st.workers {
			if w.status.State != orcmodel.WorkerWorking {
				continue
			}
			if now.Sub(w.status.LastHeartbeatAt) <= deadline {
				continue
			}
			if w.cancel != nil {
				w.cancel()
			}
			w.status.State = orcmodel.WorkerError
			if w.status.TaskID != "" {
				staleTasks = append(staleTasks, w.status.TaskID)
				w.status.TaskID = ""
			}
		}
		s.notifyWorkersUpdated(st)
		return staleTasks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// recordCrash captures a worker-log tail and marks the worker errored;
// called from inside the bridge by the worker-driving goroutine's result
// callback on abnormal termination.
func (st *supervisorState) recordCrash(workerID string, cause error) {
	w, ok := st.workers[workerID]
	if !ok {
		return
	}
	w.status.State = orcmodel.WorkerError
	if st.hooks.OnWorkerLog != nil {
		tail := w.logTail
		if len(tail) > st.cfg.logTailSize() {
			tail = tail[len(tail)-st.cfg.logTailSize():]
		}
		st.hooks.OnWorkerLog(workerID, []byte(fmt.Sprintf("worker crashed: %v\n%s", cause, tail)))
	}
}
