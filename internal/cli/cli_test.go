package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limber-app/limber/internal/domain"
)

// resetFlags restores every flag to its default between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCLI_Workflow(t *testing.T) {
	home := t.TempDir()
	t.Setenv("LIMBER_HOME", home)

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, "config.toml"))
	_, err = os.Stat(filepath.Join(home, "config.toml"))
	require.NoError(t, err)

	_, err = execute(t, "config", "init")
	assert.Error(t, err, "init must not overwrite without --force")
	_, err = execute(t, "config", "init", "--force")
	assert.NoError(t, err)

	out, err = execute(t, "log", "--minutes", "12", "--area", "neck")
	require.NoError(t, err)
	assert.Contains(t, out, "Streak: 1 day(s)")

	out, err = execute(t, "streak")
	require.NoError(t, err)
	assert.Contains(t, out, "Current streak: 1 day(s)")

	_, err = execute(t, "streak", "--freeze")
	assert.EqualError(t, err, "No flex saves remaining")

	out, err = execute(t, "streak", "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "Streak intact: 1")

	_, err = execute(t, "streak", "--freeze", "--check")
	assert.Error(t, err, "flags are mutually exclusive")

	out, err = execute(t, "challenges")
	require.NoError(t, err)
	assert.Contains(t, out, "daily")

	_, err = execute(t, "claim", "nope")
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)

	out, err = execute(t, "rewards")
	require.NoError(t, err)
	assert.Contains(t, out, "flex_saves")

	_, err = execute(t, "rewards", "--use", "unknown")
	assert.Error(t, err)

	out, err = execute(t, "progress")
	require.NoError(t, err)
	assert.Contains(t, out, "Level 1")
	assert.Contains(t, out, "Routines")

	out, err = execute(t, "events")
	require.NoError(t, err)
	assert.Contains(t, out, "streak_updated")

	out, err = execute(t, "--user", "bob", "streak")
	require.NoError(t, err)
	assert.Contains(t, out, "Current streak: 0 day(s)")

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[store]")
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "[..............................]", renderBar(0))
	assert.Equal(t, "[==============================]", renderBar(100))
	assert.Equal(t, "[==============================]", renderBar(140))

	half := renderBar(50)
	assert.Equal(t, "[==============>...............]", half)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
