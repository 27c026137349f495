package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/mirror/internal/printer"
	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs rootCmd with args and returns what the command wrote to its
// output stream. Flag variables are reset first since cobra keeps them
// between executions.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, instanceName = "mirror.yml", ""
	ledgerOutputFormat, ledgerSince, ledgerUntil = "default", "", ""
	ledgerType, ledgerKind, ledgerRun, ledgerLimit = "", "", "", 0
	mindTail, forecastsOpen = 20, false
	forceInit, initDir = false, "."

	printer.SetOutput(io.Discard, io.Discard)
	t.Cleanup(func() { printer.SetOutput(nil, nil) })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func redisConfig(t *testing.T, mr *miniredis.Miniredis) string {
	return writeConfig(t, `version: "1.0"
instance: desk
ledger:
  backend: redis
  redis_url: redis://`+mr.Addr()+`
pipeline:
  initial_backoff: 1ms
  max_backoff: 1ms
sources:
  - name: desk
    kind: static
    tier: 1
    documents:
      - title: Central bank holds rates
        url: https://desk.example/rates
        excerpt: Policy rate unchanged at the March meeting.
      - title: Oil output cut extended
        url: https://desk.example/oil
log:
  level: error
  format: json
`)
}

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := execute(t)

	// Should show help (which returns nil error in cobra)
	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:", "Help should be displayed")
	assert.Contains(t, out, "mirror", "Help should show command name")
}

// TestRootCommand_RejectsUnknownFlags tests that unknown flags
// passed to the root command cause an error instead of being silently ignored
func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--unknown-flag", "value")
	assert.Error(t, err, "Unknown flag should cause an error")
	assert.Contains(t, err.Error(), "unknown flag", "Error should mention unknown flag")
}

// TestRootCommand_RejectsSubcommandFlags tests that flags meant for
// subcommands are rejected when passed to the root command
func TestRootCommand_RejectsSubcommandFlags(t *testing.T) {
	_, err := execute(t, "--since", "2h")
	assert.Error(t, err, "Subcommand flag passed to root should cause error")
	assert.Contains(t, err.Error(), "unknown flag: --since")
}

// TestRootCommand_AcceptsValidSubcommand tests that valid subcommands
// still work correctly
func TestRootCommand_AcceptsValidSubcommand(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "mirror",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	subcommandExecuted := false
	subCmd := &cobra.Command{
		Use:   "test-sub",
		Short: "Test subcommand",
		RunE: func(cmd *cobra.Command, args []string) error {
			subcommandExecuted = true
			return nil
		},
	}
	testRoot.AddCommand(subCmd)

	testRoot.SetArgs([]string{"test-sub"})
	err := testRoot.Execute()

	assert.NoError(t, err)
	assert.True(t, subcommandExecuted, "Subcommand should have been executed")
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "run", "ledger", "verify", "mind", "forecasts", "watch", "init", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-03-01")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2026-03-01)", rootCmd.Version)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mirror 1.2.3\n  commit: abc123\n  built:  2026-03-01\n", out)
}

func TestEmptyLedgerWithDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yml")

	out, err := execute(t, "ledger", "--config", missing)
	require.NoError(t, err)
	assert.Equal(t, "No ledger entries found for instance 'default'\n", out)

	out, err = execute(t, "verify", "--config", missing, "--name", "scratch")
	require.NoError(t, err)
	assert.Equal(t, "Chain intact: 0 entries verified\n", out)

	out, err = execute(t, "forecasts", "--config", missing)
	require.NoError(t, err)
	assert.Equal(t, "No forecasts recorded\n", out)
}

func TestLedgerCommand_InvalidFlags(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yml")

	_, err := execute(t, "ledger", "--config", missing, "--output", "xml")
	assert.EqualError(t, err, "invalid output format")

	_, err = execute(t, "ledger", "--config", missing, "--since", "yesterday")
	assert.EqualError(t, err, "invalid time filter")

	_, err = execute(t, "ledger", "--config", missing, "--limit", "-1")
	assert.EqualError(t, err, "invalid limit")

	_, err = execute(t, "ledger", "--config", missing, "zz")
	assert.EqualError(t, err, "invalid entry reference")

	_, err = execute(t, "ledger", "--config", missing, "#4")
	assert.EqualError(t, err, "ledger entry '#4' not found")
}

func TestInvalidConfig(t *testing.T) {
	path := writeConfig(t, "version: \"2.0\"\n")
	_, err := execute(t, "ledger", "--config", path)
	assert.EqualError(t, err, "invalid configuration")
}

func TestRunThenInspect(t *testing.T) {
	mr := miniredis.RunT(t)
	path := redisConfig(t, mr)

	_, err := execute(t, "run", "--config", path)
	require.NoError(t, err)
	assert.True(t, mr.Exists(ledger.LedgerKey("desk")))

	out, err := execute(t, "verify", "--config", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Chain intact: "), out)

	out, err = execute(t, "ledger", "--config", path, "--type", "ingest", "--output", "json")
	require.NoError(t, err)
	var ingested []ledger.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &ingested))
	require.Len(t, ingested, 2)
	assert.Equal(t, ledger.EntryTypeIngest, ingested[0].Type)

	out, err = execute(t, "ledger", "--config", path, "--kind", "run_completed", "--output", "jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)

	var completed ledger.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &completed))
	out, err = execute(t, "ledger", "--config", path, "#"+strconv.FormatUint(completed.Sequence, 10))
	require.NoError(t, err)
	var got ledger.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, completed.Hash, got.Hash)

	out, err = execute(t, "ledger", "--config", path, completed.Hash[:10])
	require.NoError(t, err)
	assert.Contains(t, out, completed.Hash)

	out, err = execute(t, "mind", "--config", path, "--tail", "3")
	require.NoError(t, err)
	var view struct {
		Stats struct {
			Entries       uint64 `json:"entries"`
			CompletedRuns int    `json:"completed_runs"`
			Sources       int    `json:"sources"`
		} `json:"stats"`
		Ledger []ledger.Entry `json:"ledger"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 1, view.Stats.CompletedRuns)
	assert.Equal(t, 2, view.Stats.Sources)
	assert.Len(t, view.Ledger, 3)
	assert.Equal(t, completed.Hash, view.Ledger[2].Hash, "the run ends with run_completed")

	// A second run ingests nothing new but still completes.
	_, err = execute(t, "run", "--config", path)
	require.NoError(t, err)
	out, err = execute(t, "ledger", "--config", path, "--type", "INGEST", "--output", "jsonl")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2, "documents are deduplicated")
}

func TestVerifyDetectsTampering(t *testing.T) {
	mr := miniredis.RunT(t)
	path := redisConfig(t, mr)

	_, err := execute(t, "run", "--config", path)
	require.NoError(t, err)

	// Rewrite the run summary on the newest entry, leaving its hash alone.
	key := ledger.LedgerKey("desk")
	last, err := mr.Pop(key)
	require.NoError(t, err)
	tampered := strings.Replace(last, `"message":"`, `"message":"forged `, 1)
	require.NotEqual(t, last, tampered)
	_, err = mr.Push(key, tampered)
	require.NoError(t, err)

	out, err := execute(t, "verify", "--config", path)
	assert.EqualError(t, err, "ledger chain is broken")
	assert.Contains(t, out, "Chain BROKEN at sequence")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "init", "--dir", dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "mirror.yml")
	assert.FileExists(t, path)

	_, err = execute(t, "init", "--dir", dir)
	assert.EqualError(t, err, "project already initialized")

	_, err = execute(t, "init", "--dir", dir, "--force")
	require.NoError(t, err)

	out, err := execute(t, "verify", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Chain intact: 0 entries verified\n", out)
}

func TestAppCloseReleasesRedisOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	t.Run("redis ledger owns the client", func(t *testing.T) {
		configPath, instanceName = redisConfig(t, mr), ""
		a, err := openApp(ctx, false)
		require.NoError(t, err)

		closers := a.closers()
		require.Len(t, closers, 1)
		assert.Same(t, a.backend, closers[0])

		a.Close()
		assert.ErrorIs(t, a.rdb.Ping(ctx).Err(), redis.ErrClosed)
	})

	t.Run("relay client is closed directly", func(t *testing.T) {
		configPath, instanceName = writeConfig(t, `version: "1.0"
instance: desk
ledger:
  backend: memory
  redis_url: redis://`+mr.Addr()+`
live:
  relay: true
log:
  level: error
`), ""
		a, err := openApp(ctx, false)
		require.NoError(t, err)
		require.NotNil(t, a.rdb)
		assert.Len(t, a.closers(), 2)

		a.Close()
		assert.ErrorIs(t, a.rdb.Ping(ctx).Err(), redis.ErrClosed)
	})
}
