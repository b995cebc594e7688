package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/syncerr"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "finsync", cmd.Use)
	assert.Contains(t, cmd.Long, "FINSYNC_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"sync"},
		{"reset-cursor"},
		{"disconnect"},
		{"credentials", "set"},
		{"token", "set"},
		{"purge"},
		{"serve"},
	}

	for _, path := range commands {
		t.Run(fmt.Sprint(path), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("environment")
	require.NotNil(t, envFlag)
	assert.Equal(t, "e", envFlag.Shorthand)

	for _, name := range []string{"integration", "kv-backend", "store-backend", "store-name", "plaid-base-url", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"api-port", "api-token", "jobs-workers", "sync-every"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}
}

func TestResetCursorCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	resetCmd, _, err := cmd.Find([]string{"reset-cursor"})
	require.NoError(t, err)

	itemFlag := resetCmd.Flags().Lookup("item")
	require.NotNil(t, itemFlag)
	assert.Equal(t, "", itemFlag.DefValue)
	assert.NotNil(t, resetCmd.Flags().Lookup("all-accounts"))
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error", NewExitError(ExitConfigError, "bad"), ExitConfigError},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitTransport, "x", errors.New("y"))), ExitTransport},
		{"configuration", fmt.Errorf("sync: %w", syncerr.Configuration("Resolve", "missing secret", nil)), ExitConfigError},
		{"transport", syncerr.Transport("/transactions/sync", 500, nil, nil), ExitTransport},
		{"data shape", syncerr.DataShape("no id column"), ExitDataShape},
		{"other", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())
	err := WrapExitError(ExitFailure, "loading", errors.New("no file"))
	assert.Equal(t, "loading: no file", err.Error())
	assert.ErrorContains(t, errors.Unwrap(err), "no file")
}
