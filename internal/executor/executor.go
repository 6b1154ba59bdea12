// Package executor runs one role against one task: it spawns the
// model-invocation subprocess (or, for the tester role, a configured test
// command), forwards its output, and produces artifacts plus a
// WorkerOutcome.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/randalmurphal/orc-forged/internal/artifact"
	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// LogFunc receives a chunk of subprocess output as it is produced.
type LogFunc func(source string, chunk []byte)

// HealthCheck reports whether a model identifier is currently usable.
// The default HealthyModel always returns true; callers running against
// real model backends should supply one that probes availability.
type HealthCheck func(model string) bool

// HealthyModel is a HealthCheck that accepts every model.
func HealthyModel(string) bool { return true }

// Config configures how the executor spawns subprocesses.
type Config struct {
	// Command is the model-invocation binary (e.g. "claude"). Out of
	// scope per the orchestrator spec: the binary itself is a named
	// collaborator, invoked but not specified here.
	Command string
	// ExtraArgs are appended after the prompt flag for every invocation.
	ExtraArgs []string
	// TestCommand is the shell-out command for the tester role, e.g.
	// []string{"go", "test", "./..."}.
	TestCommand []string
	// GraceTimeout bounds how long runWithGrace waits for a clean subprocess
	// exit (SIGTERM) before escalating to SIGKILL.
	GraceTimeout time.Duration
	// Check reports whether a candidate model is usable; defaults to
	// HealthyModel if nil.
	Check HealthCheck
	// MaxConcurrentProcs bounds how many subprocesses (model invocations
	// or test commands) may run at once across every worker, independent
	// of the Supervisor's per-role worker caps; defaults to 8.
	MaxConcurrentProcs int64
}

func (c Config) graceTimeout() time.Duration {
	if c.GraceTimeout <= 0 {
		return 10 * time.Second
	}
	return c.GraceTimeout
}

func (c Config) check() HealthCheck {
	if c.Check != nil {
		return c.Check
	}
	return HealthyModel
}

func (c Config) maxConcurrentProcs() int64 {
	if c.MaxConcurrentProcs <= 0 {
		return 8
	}
	return c.MaxConcurrentProcs
}

// ExecutionContext bundles everything one Execute call needs.
type ExecutionContext struct {
	WorktreeRoot  string
	RunID         string
	Task          *orcmodel.Task
	Role          orcmodel.TaskRole
	ModelPriority []string
	Log           LogFunc
}

// Result is what Execute produces: artifacts to persist plus the outcome
// document the task record is updated with.
type Result struct {
	Artifacts []artifact.File
	Outcome   *orcmodel.WorkerOutcome
	Model     string
}

// Executor runs tasks for every role; Execute hands the special-cased
// tester role to executeTest.
type Executor struct {
	Config    Config
	Artifacts *artifact.Store
	sem       *semaphore.Weighted
}

// New creates an Executor. Concurrent Execute/executeTest calls beyond
// Config.MaxConcurrentProcs block on the subprocess semaphore until a
// slot frees up, rather than overrunning the host with runaway worker
// fan-out.
func New(cfg Config, artifacts *artifact.Store) *Executor {
	return &Executor{Config: cfg, Artifacts: artifacts, sem: semaphore.NewWeighted(cfg.maxConcurrentProcs())}
}

// SelectModel returns the first entry in priority that passes the health
// check, or an error if every entry is unusable.
func SelectModel(priority []string, check HealthCheck) (string, error) {
	if check == nil {
		check = HealthyModel
	}
	for _, m := range priority {
		if check(m) {
			return m, nil
		}
	}
	return "", orcerr.New(orcerr.KindWorkerCrash, "no usable model in priority list")
}

// Execute runs ec.Role's contract against ec.Task. Cancelling ctx
// terminates the subprocess (SIGTERM, escalating to SIGKILL after the
// configured grace window) and Execute returns a blocked outcome.
func (e *Executor) Execute(ctx context.Context, ec ExecutionContext) (*Result, error) {
	if ec.Role == orcmodel.RoleTester {
		return e.executeTest(ctx, ec)
	}

	model, err := SelectModel(ec.ModelPriority, e.Config.check())
	if err != nil {
		return nil, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return &Result{
			Model:   model,
			Outcome: &orcmodel.WorkerOutcome{Status: orcmodel.OutcomeBlocked, Summary: "cancelled"},
		}, nil
	}
	defer e.sem.Release(1)

	args := append([]string{"-p", ec.Task.Prompt, "--model", model}, e.Config.ExtraArgs...)
	cmd := exec.CommandContext(ctx, e.Config.Command, args...)
	cmd.Dir = ec.Task.WorkingDir
	setProcAttr(cmd)

	var combined bytes.Buffer
	stdout := newTappedWriter(&combined, ec.Log, "stdout")
	stderr := newTappedWriter(&combined, ec.Log, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := runWithGrace(ctx, cmd, e.Config.graceTimeout())

	if ctx.Err() != nil {
		return &Result{
			Model: model,
			Outcome: &orcmodel.WorkerOutcome{
				Status:  orcmodel.OutcomeBlocked,
				Summary: "cancelled",
			},
		}, nil
	}
	if runErr != nil {
		return nil, orcerr.WorkerCrash(fmt.Sprintf("%s execution failed", ec.Role), runErr)
	}

	outcome := ParseOutcome(combined.Bytes())
	result := &Result{Model: model, Outcome: outcome}

	if outcome.Status == orcmodel.OutcomeOK {
		docPath, werr := e.writeOutcomeDocument(ec, outcome)
		if werr == nil {
			outcome.DocumentPath = docPath
			result.Artifacts = append(result.Artifacts, artifact.File{RelativePath: docPath})
		}
	}
	return result, nil
}

func (e *Executor) writeOutcomeDocument(ec ExecutionContext, outcome *orcmodel.WorkerOutcome) (string, error) {
	rel := filepath.ToSlash(filepath.Join("outcome.json"))
	body := []byte(fmt.Sprintf(`{"status":%q,"summary":%q}`+"\n", outcome.Status, outcome.Summary))
	return e.Artifacts.Write(ec.RunID, ec.Task.ID, artifact.File{RelativePath: rel, Contents: body})
}

// runWithGrace runs cmd, and on ctx cancellation sends SIGTERM to the
// whole process group, escalating to SIGKILL after grace elapses.
func runWithGrace(ctx context.Context, cmd *exec.Cmd, grace time.Duration) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		pid := cmd.Process.Pid
		_ = terminateProcessGroup(pid)
		select {
		case <-done:
			return nil
		case <-time.After(grace):
			_ = killProcessGroup(pid)
			<-done
			return nil
		}
	}
}

// tappedWriter writes to an underlying buffer and forwards each write to
// a LogFunc, tagging it with source (stdout/stderr).
type tappedWriter struct {
	mu     sync.Mutex
	buf    *bytes.Buffer
	log    LogFunc
	source string
}

func newTappedWriter(buf *bytes.Buffer, log LogFunc, source string) *tappedWriter {
	return &tappedWriter{buf: buf, log: log, source: source}
}

func (w *tappedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.buf.Write(p)
	if w.log != nil {
		cp := make([]byte, len(p))
		copy(cp, p)
		w.log(w.source, cp)
	}
	return n, err
}
