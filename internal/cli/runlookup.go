package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// latestRun reads every run manifest under the worktree's codex-runs
// directory and returns the most recently updated one. The Run
// Controller only keeps run state in memory for the lifetime of one
// process, so cross-invocation commands (status, approve, comment)
// resolve "the current run" by reading manifests back off disk instead.
func latestRun(root string) (*orcmodel.Run, error) {
	dir := filepath.Join(root, "codex-runs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcerr.NotFound("run", "")
		}
		return nil, orcerr.Storage("list runs", err)
	}

	var latest *orcmodel.Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name(), "run.json"))
		if err != nil {
			continue
		}
		var run orcmodel.Run
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		if latest == nil || run.UpdatedAt.After(latest.UpdatedAt) {
			r := run
			latest = &r
		}
	}
	if latest == nil {
		return nil, orcerr.NotFound("run", "")
	}
	return latest, nil
}

// loadRun reads the manifest for one specific run id, rather than
// latestRun's "most recently updated" scan.
func loadRun(root, runID string) (*orcmodel.Run, error) {
	data, err := os.ReadFile(filepath.Join(root, "codex-runs", runID, "run.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcerr.NotFound("run", runID)
		}
		return nil, orcerr.Storage("read run manifest", err)
	}
	var run orcmodel.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, orcerr.Storage("parse run manifest", err)
	}
	return &run, nil
}

func resolveRunID(root, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	run, err := latestRun(root)
	if err != nil {
		return "", fmt.Errorf("no run found in %s: %w", root, err)
	}
	return run.RunID, nil
}
