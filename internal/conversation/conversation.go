// Package conversation implements the append-only, per-task conversation
// log: comments and worker-outcome records, one newline-delimited JSON
// file per task.
package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// Log appends to and reads the conversation file for one task.
type Log struct {
	WorktreeRoot string
}

// New creates a Log rooted at worktreeRoot.
func New(worktreeRoot string) *Log {
	return &Log{WorktreeRoot: worktreeRoot}
}

// Path returns the conversation file path for a task. Once computed for
// a task, a caller should persist it as the task's conversationPath,
// which per the data-model invariant never changes afterward.
func (l *Log) Path(runID, taskID string) string {
	return filepath.Join(l.WorktreeRoot, "codex-runs", runID, "conversations", taskID+".log")
}

// Append writes one entry to the task's conversation log. The open flags
// are O_APPEND|O_CREATE so concurrent writers from separate workers never
// interleave partial lines: each Write of a single `\n`-terminated line is
// atomic at the OS level for local filesystems.
func (l *Log) Append(runID, taskID, author, message string) (*orcmodel.ConversationEntry, error) {
	entry := &orcmodel.ConversationEntry{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Author:    author,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	path := l.Path(runID, taskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, orcerr.Storage("create conversation directory", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, orcerr.Storage("open conversation log", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, orcerr.Storage("marshal conversation entry", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return nil, orcerr.Storage("append conversation entry", err)
	}
	return entry, nil
}

// Read returns every entry in a task's conversation log, in file order.
func (l *Log) Read(runID, taskID string) ([]*orcmodel.ConversationEntry, error) {
	path := l.Path(runID, taskID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcerr.Storage("open conversation log", err)
	}
	defer f.Close()

	var entries []*orcmodel.ConversationEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var e orcmodel.ConversationEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, orcerr.Storage(fmt.Sprintf("parse conversation log line %d", line), err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, orcerr.Storage("scan conversation log", err)
	}
	return entries, nil
}
