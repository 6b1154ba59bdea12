package supervisor

import (
	"context"
	"time"

	"github.com/randalmurphal/orc-forged/internal/executor"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// Dispatch assigns task to workerID and runs it to completion in a new
// goroutine. The Scheduler calls this immediately after winning the
// ready→in_progress claim; Dispatch itself never claims tasks.
func (s *Supervisor) Dispatch(ctx context.Context, workerID string, task *orcmodel.Task, modelPriority []string) error {
	workCtx, cancel := context.WithCancel(context.Background())

	_, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		w, ok := st.workers[workerID]
		if !ok {
			cancel()
			return nil, errUnknownWorker(workerID)
		}
		w.cancel = cancel
		w.status.State = orcmodel.WorkerWorking
		w.status.TaskID = task.ID
		w.status.StartedAt = time.Now().UTC()
		w.status.LastHeartbeatAt = w.status.StartedAt
		w.logTail = nil
		s.notifyWorkersUpdated(st)
		return nil, nil
	})
	if err != nil {
		return err
	}

	go s.run(workCtx, cancel, workerID, task, modelPriority)
	return nil
}

func (s *Supervisor) run(ctx context.Context, cancel context.CancelFunc, workerID string, task *orcmodel.Task, modelPriority []string) {
	defer cancel()

	var dispatcher Dispatcher
	var onResult ResultFunc
	_, _ = s.b.call(context.Background(), func(st *supervisorState) (any, error) {
		dispatcher = st.dispatcher
		onResult = st.onResult
		return nil, nil
	})

	ec := executor.ExecutionContext{
		RunID:         task.RunID,
		Task:          task,
		Role:          task.Role,
		ModelPriority: modelPriority,
		Log: func(source string, chunk []byte) {
			s.appendLogTail(workerID, chunk)
			s.heartbeatSilently(workerID)
		},
	}

	result, runErr := dispatcher.Execute(ctx, ec)

	_, _ = s.b.call(context.Background(), func(st *supervisorState) (any, error) {
		w, ok := st.workers[workerID]
		if !ok {
			return nil, nil
		}
		if runErr != nil {
			st.recordCrash(workerID, runErr)
		} else {
			w.status.State = orcmodel.WorkerIdle
		}
		w.status.TaskID = ""
		w.cancel = nil
		s.notifyWorkersUpdated(st)
		return nil, nil
	})

	if onResult != nil {
		onResult(context.Background(), task, result, runErr)
	}
}

func (s *Supervisor) appendLogTail(workerID string, chunk []byte) {
	_, _ = s.b.call(context.Background(), func(st *supervisorState) (any, error) {
		w, ok := st.workers[workerID]
		if !ok {
			return nil, nil
		}
		w.logTail = append(w.logTail, chunk...)
		if max := st.cfg.logTailSize(); len(w.logTail) > max {
			w.logTail = w.logTail[len(w.logTail)-max:]
		}
		w.status.LogTail = string(w.logTail)
		return nil, nil
	})
}

func (s *Supervisor) heartbeatSilently(workerID string) {
	_ = s.Heartbeat(context.Background(), workerID)
}

// RetryAttempt increments and returns the crash count for taskID (keyed
// by task id only; role is not part of the key) together with
// MaxRetries, used by the CLI's result handler to decide whether a
// crashed task should be requeued or marked error (bounded retries,
// spec.md §9 Open Question (a): default MaxRetries, configurable).
func (s *Supervisor) RetryAttempt(ctx context.Context, role orcmodel.TaskRole, taskID string) (attempt int, maxRetries int, err error) {
	v, err := s.b.call(ctx, func(st *supervisorState) (any, error) {
		st.retries[taskID]++
		return [2]int{st.retries[taskID], st.cfg.maxRetries()}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	pair := v.([2]int)
	return pair[0], pair[1], nil
}
