package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorktreeRoot_UsesFlagOverCwd(t *testing.T) {
	old := worktreeFlag
	defer func() { worktreeFlag = old }()

	worktreeFlag = "/some/explicit/path"
	root, err := worktreeRoot()
	assert.NoError(t, err)
	assert.Equal(t, "/some/explicit/path", root)
}

func TestWorktreeRoot_FallsBackToCwd(t *testing.T) {
	old := worktreeFlag
	defer func() { worktreeFlag = old }()

	worktreeFlag = ""
	root, err := worktreeRoot()
	assert.NoError(t, err)
	assert.NotEmpty(t, root)
}

func TestWorktreeIDFor_IsStableForSamePath(t *testing.T) {
	assert.Equal(t, worktreeIDFor("/a/b"), worktreeIDFor("/a/b"))
	assert.NotEqual(t, worktreeIDFor("/a/b"), worktreeIDFor("/a/c"))
}

func TestRootCommand_RegistersAllSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "status", "follow-up", "approve", "comment", "workers"} {
		assert.True(t, names[want], "expected root command to register %q", want)
	}
}
