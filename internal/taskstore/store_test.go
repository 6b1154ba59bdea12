package taskstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

func TestSeedAnalysis(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	tasks, err := s.SeedAnalysis("run-1", "epic-1", "add retries", "be thorough")
	if err != nil {
		t.Fatalf("SeedAnalysis() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("SeedAnalysis() returned %d tasks, want 2", len(tasks))
	}

	roles := map[orcmodel.TaskRole]bool{}
	for _, task := range tasks {
		roles[task.Role] = true
		if task.Kind != orcmodel.KindAnalysis {
			t.Errorf("seeded task kind = %v, want %v", task.Kind, orcmodel.KindAnalysis)
		}
		if task.Status != orcmodel.StatusReady {
			t.Errorf("seeded task status = %v, want %v", task.Status, orcmodel.StatusReady)
		}
		if task.EpicID != "epic-1" {
			t.Errorf("seeded task epicID = %v, want epic-1", task.EpicID)
		}
	}
	if !roles[orcmodel.RoleAnalystA] || !roles[orcmodel.RoleAnalystB] {
		t.Errorf("expected both analyst roles, got %v", roles)
	}
}

func TestSeedAnalysis_IdempotentWhenAlreadySeeded(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	first, err := s.SeedAnalysis("run-1", "epic-1", "add retries", "")
	if err != nil {
		t.Fatalf("SeedAnalysis() error = %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first SeedAnalysis() returned %d tasks, want 2", len(first))
	}

	second, err := s.SeedAnalysis("run-1", "epic-1", "add retries", "")
	if err != nil {
		t.Fatalf("second SeedAnalysis() error = %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second SeedAnalysis() seeded %d new tasks, want 0", len(second))
	}

	entries, err := s.ReadEntries("run-1")
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("ReadEntries() returned %d tasks after reseed, want 2", len(entries))
	}
}

func TestWriteRecordAndLoadTask(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	task := &orcmodel.Task{
		ID:     "task-1",
		RunID:  "run-1",
		Kind:   orcmodel.KindImpl,
		Role:   orcmodel.RoleImplementer,
		Status: orcmodel.StatusReady,
		Title:  "Implement",
	}
	if err := s.WriteRecord(task); err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if task.UpdatedAt.IsZero() {
		t.Error("WriteRecord() should stamp UpdatedAt")
	}

	loaded, err := s.LoadTask("run-1", "task-1")
	if err != nil {
		t.Fatalf("LoadTask() error = %v", err)
	}
	if loaded.ID != "task-1" || loaded.Title != "Implement" {
		t.Errorf("LoadTask() = %+v, want ID task-1, Title Implement", loaded)
	}
}

func TestLoadTask_NotFound(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	_, err := s.LoadTask("run-1", "missing")
	if err == nil {
		t.Fatal("LoadTask() should error for a missing task")
	}
	if orcerr.KindOf(err) != orcerr.KindValidation {
		t.Errorf("LoadTask() error kind = %v, want %v", orcerr.KindOf(err), orcerr.KindValidation)
	}
}

func TestReadEntries_EmptyRun(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	entries, err := s.ReadEntries("no-such-run")
	if err != nil {
		t.Fatalf("ReadEntries() on a non-existent run should not error, got: %v", err)
	}
	if entries != nil {
		t.Errorf("ReadEntries() = %v, want nil", entries)
	}
}

func TestReadEntries_SortedByCreatedAt(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := &orcmodel.Task{ID: "task-a", RunID: "run-1", CreatedAt: base}
	newer := &orcmodel.Task{ID: "task-b", RunID: "run-1", CreatedAt: base.Add(time.Hour)}
	if err := s.WriteRecord(newer); err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if err := s.WriteRecord(older); err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}

	entries, err := s.ReadEntries("run-1")
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ReadEntries() returned %d entries, want 2", len(entries))
	}
	if entries[0].Task.ID != "task-a" {
		t.Errorf("ReadEntries()[0] = %s, want task-a (earliest CreatedAt first)", entries[0].Task.ID)
	}
}

func TestReadEntries_QuarantinesMalformedFile(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	dir := s.tasksDir("run-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	good := &orcmodel.Task{ID: "task-good", RunID: "run-1"}
	if err := s.WriteRecord(good); err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}

	entries, err := s.ReadEntries("run-1")
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Task.ID != "task-good" {
		t.Errorf("ReadEntries() = %+v, want only task-good", entries)
	}
	if _, err := os.Stat(badPath + ".corrupt"); err != nil {
		t.Errorf("expected malformed file quarantined to %s.corrupt, stat error: %v", badPath, err)
	}
}

func TestDeleteAllTasks(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	if _, err := s.SeedAnalysis("run-1", "epic-1", "desc", ""); err != nil {
		t.Fatalf("SeedAnalysis() error = %v", err)
	}

	if err := s.DeleteAllTasks("run-1"); err != nil {
		t.Fatalf("DeleteAllTasks() error = %v", err)
	}

	entries, err := s.ReadEntries("run-1")
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ReadEntries() after delete = %d entries, want 0", len(entries))
	}
}
