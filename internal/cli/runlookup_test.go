package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

func writeRunManifest(t *testing.T, root string, run *orcmodel.Run) {
	t.Helper()
	dir := filepath.Join(root, "codex-runs", run.RunID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(run)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.json"), data, 0o644))
}

func TestLatestRun_NoRuns(t *testing.T) {
	root := t.TempDir()
	_, err := latestRun(root)
	require.Error(t, err)
}

func TestLatestRun_PicksMostRecentlyUpdated(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC()

	older := &orcmodel.Run{RunID: "run-older", UpdatedAt: now.Add(-time.Hour)}
	newer := &orcmodel.Run{RunID: "run-newer", UpdatedAt: now}
	writeRunManifest(t, root, older)
	writeRunManifest(t, root, newer)

	got, err := latestRun(root)
	require.NoError(t, err)
	require.Equal(t, "run-newer", got.RunID)
}

func TestLoadRun_SpecificID(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC()
	a := &orcmodel.Run{RunID: "run-a", UpdatedAt: now}
	b := &orcmodel.Run{RunID: "run-b", UpdatedAt: now.Add(time.Minute)}
	writeRunManifest(t, root, a)
	writeRunManifest(t, root, b)

	got, err := loadRun(root, "run-a")
	require.NoError(t, err)
	require.Equal(t, "run-a", got.RunID)
}

func TestLoadRun_NotFound(t *testing.T) {
	root := t.TempDir()
	_, err := loadRun(root, "nope")
	require.Error(t, err)
}

func TestResolveRunID_ExplicitWins(t *testing.T) {
	root := t.TempDir()
	writeRunManifest(t, root, &orcmodel.Run{RunID: "run-x", UpdatedAt: time.Now().UTC()})

	id, err := resolveRunID(root, "explicit-id")
	require.NoError(t, err)
	require.Equal(t, "explicit-id", id)
}

func TestResolveRunID_FallsBackToLatest(t *testing.T) {
	root := t.TempDir()
	writeRunManifest(t, root, &orcmodel.Run{RunID: "run-only", UpdatedAt: time.Now().UTC()})

	id, err := resolveRunID(root, "")
	require.NoError(t, err)
	require.Equal(t, "run-only", id)
}

func TestResolveRunID_NoRunsNoExplicit(t *testing.T) {
	root := t.TempDir()
	_, err := resolveRunID(root, "")
	require.Error(t, err)
}
