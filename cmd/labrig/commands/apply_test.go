package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	cmd := Apply()

	require.NotNil(t, cmd)
	assert.Equal(t, "apply [plan]", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestApply_Flags(t *testing.T) {
	cmd := Apply()

	for _, name := range []string{"config", "file", "hosts", "dry-run", "force", "concurrency", "no-tui", "status-addr", "log-dir", "verbose"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %s should exist", name)
	}

	flag := cmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestValidateCommand(t *testing.T) {
	cmd := Validate()

	require.NotNil(t, cmd)
	assert.Equal(t, "validate [plan]", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("file"))
}

func TestRunsCommand(t *testing.T) {
	cmd := Runs()

	require.NotNil(t, cmd)
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"list", "show", "prune", "archive"} {
		assert.Contains(t, names, want)
	}
}
