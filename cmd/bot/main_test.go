package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "once", "migrate"}, names)

	once, _, err := cmd.Find([]string{"once"})
	require.NoError(t, err)
	assert.NotNil(t, once.Flags().Lookup("dry-run"))
}

func TestMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "bot.db")
	t.Setenv("DATABASE_PATH", path)
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"migrate"})
	cmd.SetOut(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())
	assert.FileExists(t, path)
}

func TestOnceCommand_RequiresStatsStore(t *testing.T) {
	t.Setenv("STATS_DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"once", "--dry-run"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STATS_DATABASE_URL")
}
