package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// executeTest runs the configured test command in place of a model
// invocation for the tester role: exit code 0 maps to an ok outcome,
// any other exit code maps to blocked, and a failure to start the
// command is returned as a WorkerCrash error. The
// tester never calls a model, so no ModelPriority/SelectModel step
// applies here.
func (e *Executor) executeTest(ctx context.Context, ec ExecutionContext) (*Result, error) {
	if len(e.Config.TestCommand) == 0 {
		return nil, orcerr.New(orcerr.KindValidation, "tester role requires ExecutorConfig.TestCommand")
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return &Result{
			Outcome: &orcmodel.WorkerOutcome{Status: orcmodel.OutcomeBlocked, Summary: "cancelled"},
		}, nil
	}
	defer e.sem.Release(1)

	cmd := exec.CommandContext(ctx, e.Config.TestCommand[0], e.Config.TestCommand[1:]...)
	cmd.Dir = ec.Task.WorkingDir
	setProcAttr(cmd)

	var combined bytes.Buffer
	cmd.Stdout = newTappedWriter(&combined, ec.Log, "stdout")
	cmd.Stderr = newTappedWriter(&combined, ec.Log, "stderr")

	runErr := runWithGrace(ctx, cmd, e.Config.graceTimeout())

	if ctx.Err() != nil {
		return &Result{
			Outcome: &orcmodel.WorkerOutcome{Status: orcmodel.OutcomeBlocked, Summary: "cancelled"},
		}, nil
	}

	if runErr == nil {
		return &Result{
			Outcome: &orcmodel.WorkerOutcome{
				Status:  orcmodel.OutcomeOK,
				Summary: "test command exited 0",
			},
		}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &Result{
			Outcome: &orcmodel.WorkerOutcome{
				Status:  orcmodel.OutcomeBlocked,
				Summary: "test command failed",
				Details: TrimOutputForLog(combined.String(), 4096),
			},
		}, nil
	}
	return nil, orcerr.WorkerCrash("failed to run test command", runErr)
}
