package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fieldsave", cmd.Use)
	assert.Contains(t, cmd.Long, "encrypted SQLite store")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"list", "show", "discard", "complete", "cleanup", "stats", "reset", "formtypes", "session", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("data-dir"))
}

func TestSessionCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	sessionCmd, _, err := cmd.Find([]string{"session"})
	require.NoError(t, err)

	onDraft := sessionCmd.Flags().Lookup("on-draft")
	require.NotNil(t, onDraft)
	assert.Equal(t, "cancel", onDraft.DefValue)

	require.NotNil(t, sessionCmd.Flags().Lookup("case"))
	require.NotNil(t, sessionCmd.Flags().Lookup("form"))
	require.NotNil(t, sessionCmd.Flags().Lookup("allow-unknown-form"))
}

func TestCompleteCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	completeCmd, _, err := cmd.Find([]string{"complete"})
	require.NoError(t, err)

	waitFlag := completeCmd.Flags().Lookup("wait")
	require.NotNil(t, waitFlag)
	assert.Equal(t, "true", waitFlag.DefValue)
}

func TestResetCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	resetCmd, _, err := cmd.Find([]string{"reset"})
	require.NoError(t, err)

	yesFlag := resetCmd.Flags().Lookup("yes")
	require.NotNil(t, yesFlag)
	assert.Equal(t, "false", yesFlag.DefValue)
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	require.NotNil(t, testCmd.Flags().Lookup("golden"))
	require.NotNil(t, testCmd.Flags().Lookup("filter"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "formtypes"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
