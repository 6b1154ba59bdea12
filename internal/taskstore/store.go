// Package taskstore is the authoritative, on-disk representation of a
// run's task pipeline: one JSON file per task under
// <worktree>/codex-runs/<runId>/tasks/, plus the workflow expander state
// machine that grows the pipeline stage by stage.
package taskstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orc-forged/internal/atomicfile"
	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// Store is a filesystem-rooted task repository for one worktree. A single
// Store instance can serve any number of runs beneath the worktree root.
type Store struct {
	WorktreeRoot string
	Logger       *slog.Logger
}

// New creates a Store rooted at worktreeRoot.
func New(worktreeRoot string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{WorktreeRoot: worktreeRoot, Logger: logger}
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.WorktreeRoot, "codex-runs", runID)
}

func (s *Store) tasksDir(runID string) string {
	return filepath.Join(s.runDir(runID), "tasks")
}

func (s *Store) taskPath(runID, taskID string) string {
	return filepath.Join(s.tasksDir(runID), taskID+".json")
}

func (s *Store) lockPath(runID string) string {
	return filepath.Join(s.runDir(runID), ".lock")
}

// Entry pairs a task record with the file it was read from.
type Entry struct {
	FilePath string
	Task     *orcmodel.Task
}

// SeedAnalysis idempotently creates the two analyst seed tasks for a run.
// If either already exists (by role, within the run) it is left untouched.
func (s *Store) SeedAnalysis(runID, epicID, description, guidance string) ([]*orcmodel.Task, error) {
	entries, err := s.ReadEntries(runID)
	if err != nil {
		return nil, err
	}
	existing := make([]*orcmodel.Task, 0, len(entries))
	for _, e := range entries {
		existing = append(existing, e.Task)
	}

	var seeded []*orcmodel.Task
	for _, role := range []orcmodel.TaskRole{orcmodel.RoleAnalystA, orcmodel.RoleAnalystB} {
		if orcmodel.RoleExistsIn(existing, runID, orcmodel.KindAnalysis, role) {
			continue
		}
		now := time.Now().UTC()
		t := &orcmodel.Task{
			ID:         uuid.NewString(),
			RunID:      runID,
			EpicID:     epicID,
			Kind:       orcmodel.KindAnalysis,
			Role:       role,
			Status:     orcmodel.StatusReady,
			Title:      fmt.Sprintf("Analysis (%s)", role),
			Prompt:     analysisPrompt(role, description, guidance),
			DependsOn:  nil,
			Artifacts:  nil,
			Approvals:  nil,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.WriteRecord(t); err != nil {
			return nil, err
		}
		seeded = append(seeded, t)
	}
	return seeded, nil
}

func analysisPrompt(role orcmodel.TaskRole, description, guidance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following briefing as %s.\n\n%s\n", role, description)
	if guidance != "" {
		fmt.Fprintf(&b, "\nGuidance:\n%s\n", guidance)
	}
	return b.String()
}

// ReadEntries lists every task for a run, sorted by createdAt then id.
// Files that fail to parse or lack an id/runId are skipped (logged, not
// fatal) and quarantined with a .corrupt suffix; unreadable files are
// skipped and left in place.
func (s *Store) ReadEntries(runID string) ([]Entry, error) {
	dir := s.tasksDir(runID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcerr.Storage("list task files", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.Logger.Warn("task file unreadable", "path", path, "error", err)
			continue
		}
		var t orcmodel.Task
		if err := json.Unmarshal(data, &t); err != nil {
			s.quarantine(path, err)
			continue
		}
		if t.ID == "" || t.RunID == "" {
			s.quarantine(path, fmt.Errorf("missing required fields"))
			continue
		}
		entries = append(entries, Entry{FilePath: path, Task: &t})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Task.CreatedAt.Equal(entries[j].Task.CreatedAt) {
			return entries[i].Task.ID < entries[j].Task.ID
		}
		return entries[i].Task.CreatedAt.Before(entries[j].Task.CreatedAt)
	})
	return entries, nil
}

// quarantine renames a malformed task file with a .corrupt suffix so
// expansion can proceed using the remaining tasks.
func (s *Store) quarantine(path string, cause error) {
	dst := path + ".corrupt"
	if err := os.Rename(path, dst); err != nil {
		s.Logger.Error("quarantine failed", "path", path, "error", err)
		return
	}
	s.Logger.Error("quarantined malformed task file", "path", path, "quarantined_to", dst, "cause", cause)
}

// WriteRecord writes a task atomically (temp file + rename), pretty
// printed with a trailing newline, and bumps UpdatedAt.
func (s *Store) WriteRecord(t *orcmodel.Task) error {
	t.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return orcerr.Storage("marshal task", err)
	}
	data = append(data, '\n')
	if err := atomicfile.Write(s.taskPath(t.RunID, t.ID), data, 0o644); err != nil {
		return orcerr.Storage("write task file", err)
	}
	return nil
}

// LoadTask reads a single task by id, or orcerr.NotFound if absent.
func (s *Store) LoadTask(runID, taskID string) (*orcmodel.Task, error) {
	data, err := os.ReadFile(s.taskPath(runID, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcerr.NotFound("task", taskID)
		}
		return nil, orcerr.Storage("read task file", err)
	}
	var t orcmodel.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, orcerr.Storage("parse task file", err)
	}
	return &t, nil
}

// DeleteAllTasks removes every task file for a run (used by tasks-removed
// when a run is discarded).
func (s *Store) DeleteAllTasks(runID string) error {
	entries, err := s.ReadEntries(runID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
			return orcerr.Storage("delete task file", err)
		}
	}
	return nil
}

// acquireExpansionLock takes the exclusive, OS-level expansion lock for
// the run, returning a release function. The lock file is created with
// O_EXCL so a concurrent expander waits rather than corrupting state (it
// polls for up to 5 seconds, then fails with a ConflictState error);
// it is a plain marker file (not an flock syscall) so the same mechanism
// works unmodified across platforms, matching the rest of the store's
// portable-by-construction file operations.
func (s *Store) acquireExpansionLock(runID string) (func(), error) {
	path := s.lockPath(runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, orcerr.Storage("create run directory", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, orcerr.Storage("acquire expansion lock", err)
		}
		if time.Now().After(deadline) {
			return nil, orcerr.Conflict("expansion lock held by another process")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
