package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFollowUpCommand_Flags(t *testing.T) {
	cmd := newFollowUpCmd()
	assert.Equal(t, "follow-up <task-id> <description>", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("run"))
	assert.Error(t, cmd.Args(cmd, []string{"task-1"}))
	assert.NoError(t, cmd.Args(cmd, []string{"task-1", "do the thing"}))
}
