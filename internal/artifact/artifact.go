// Package artifact validates and persists worker-produced artifact files
// under a run's artifacts directory.
package artifact

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
)

// File is one artifact a worker wrote during execution.
type File struct {
	RelativePath string
	Contents     []byte
}

// Store writes artifacts for a task under
// <worktree>/codex-runs/<runId>/artifacts/<taskId>/<path>.
type Store struct {
	WorktreeRoot string
	// DenyGlobs are doublestar patterns (e.g. "**/.git/**", "**/*.key")
	// that no artifact path may match, checked against the repo-relative
	// path before it is resolved against the filesystem.
	DenyGlobs []string
}

// New creates a Store rooted at worktreeRoot with the given deny globs.
func New(worktreeRoot string, denyGlobs []string) *Store {
	return &Store{WorktreeRoot: worktreeRoot, DenyGlobs: denyGlobs}
}

func (s *Store) artifactsDir(runID, taskID string) string {
	return filepath.Join(s.WorktreeRoot, "codex-runs", runID, "artifacts", taskID)
}

// Resolve validates a repo-relative artifact path and returns its
// absolute filesystem location. It rejects paths that would escape the
// task's artifact directory (`..` traversal, absolute paths, or the
// directory itself) and paths matching a configured deny glob. Symlinks
// are not resolved.
func (s *Store) Resolve(runID, taskID, relativePath string) (string, error) {
	clean := filepath.Clean(relativePath)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") || clean == "." {
		return "", orcerr.New(orcerr.KindValidation, "artifact path escapes the task artifact directory: "+relativePath)
	}

	for _, deny := range s.DenyGlobs {
		matched, err := doublestar.Match(deny, filepath.ToSlash(clean))
		if err != nil {
			return "", orcerr.New(orcerr.KindValidation, "invalid deny glob: "+deny)
		}
		if matched {
			return "", orcerr.New(orcerr.KindValidation, "artifact path denied by policy: "+relativePath)
		}
	}

	base := s.artifactsDir(runID, taskID)
	abs := filepath.Join(base, clean)
	// Belt-and-braces: filepath.Join already collapsed "..", but confirm
	// the result is still rooted under base in case of platform quirks.
	if !strings.HasPrefix(abs, filepath.Clean(base)+string(filepath.Separator)) && abs != filepath.Clean(base) {
		return "", orcerr.New(orcerr.KindValidation, "artifact path escapes the task artifact directory: "+relativePath)
	}
	return abs, nil
}

// Write validates and persists one artifact, returning its stored
// repo-relative path (suitable for Task.Artifacts).
func (s *Store) Write(runID, taskID string, f File) (string, error) {
	abs, err := s.Resolve(runID, taskID, f.RelativePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", orcerr.Storage("create artifact directory", err)
	}
	if err := os.WriteFile(abs, f.Contents, 0o644); err != nil {
		return "", orcerr.Storage("write artifact file", err)
	}
	return filepath.ToSlash(filepath.Clean(f.RelativePath)), nil
}
