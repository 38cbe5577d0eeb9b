//go:build unix

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emattiza/nix-runner/internal/directive"
	"github.com/emattiza/nix-runner/internal/history"
	"github.com/emattiza/nix-runner/internal/runner"
	"github.com/emattiza/nix-runner/internal/runstate"
	"github.com/emattiza/nix-runner/internal/testutil"
)

// setupCLI points the CLI at a fake nix and a private config file, and
// returns the history directory.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	historyDir := filepath.Join(dir, "history")

	configPath := filepath.Join(dir, "config.yaml")
	configYAML := "log_level: error\nhistory_dir: " + historyDir + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

	t.Setenv("NIX_RUNNER_CONFIG", configPath)
	t.Setenv("NIX_RUNNER_LOG_LEVEL", "")
	t.Setenv(runner.EnvNixBin, testutil.FakeNix(t, ""))
	return historyDir
}

func runCLI(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(args, strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func onlyEntry(t *testing.T, historyDir string) *history.Entry {
	t.Helper()
	store, err := history.NewStore(historyDir)
	require.NoError(t, err)
	list := store.List(history.ListOptions{})
	require.Equal(t, 1, list.Total)
	entry, err := store.Get(list.Entries[0].RunID)
	require.NoError(t, err)
	return entry
}

func TestRunScript(t *testing.T) {
	historyDir := setupCLI(t)
	script := testutil.WriteScript(t, "hello.sh", "#!/usr/bin/env nix-runner\n#!package hello\n\necho \"hi $1\"\n")

	code, stdout, stderr := runCLI(script, "there")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "hi there\n", stdout)

	entry := onlyEntry(t, historyDir)
	require.Equal(t, runstate.Completed, entry.State)
	require.Equal(t, 0, *entry.ExitCode)
	require.Equal(t, []string{"hello"}, entry.Config.Packages)
	require.Equal(t, []string{"there"}, entry.Args)
	require.Equal(t, history.Digest("echo \"hi $1\"\n"), entry.Digest)
	require.Contains(t, entry.Argv, "nixpkgs#hello")
}

func TestRunScriptExitCode(t *testing.T) {
	historyDir := setupCLI(t)
	script := testutil.WriteScript(t, "fail.sh", "#!nix-runner\n\nexit 7\n")

	code, _, _ := runCLI(script)
	require.Equal(t, 7, code)
	require.Equal(t, runstate.Failed, onlyEntry(t, historyDir).State)
}

func TestRunParseError(t *testing.T) {
	historyDir := setupCLI(t)
	script := testutil.WriteScript(t, "bad.sh", "#!nix-runner\n#!package\n\necho never\n")

	code, stdout, stderr := runCLI(script)
	require.Equal(t, exitParseError, code)
	require.Empty(t, stdout)
	require.Equal(t, script+":2: malformed_argument: package: missing argument, expected #!package <identifier>\n", stderr)

	entry := onlyEntry(t, historyDir)
	require.Equal(t, runstate.Rejected, entry.State)
	require.Equal(t, "malformed_argument", entry.Error.Type)
	require.Equal(t, 2, entry.Error.Line)
	require.Positive(t, entry.DurationSeconds)
	require.InDelta(t, entry.CompletedAt.Sub(entry.StartedAt).Seconds(), entry.DurationSeconds, 1e-6)
}

func TestRunRejectsTrailingSpaceInPair(t *testing.T) {
	setupCLI(t)

	for _, header := range []string{"#!nix-option key ", "#!registry nixpkgs "} {
		script := testutil.WriteScript(t, "pair.sh", "#!nix-runner\n"+header+"\n\necho\n")
		code, stdout, stderr := runCLI("-print-config", script)
		require.Equal(t, exitParseError, code, header)
		require.Empty(t, stdout)
		require.Contains(t, stderr, script+":2: malformed_argument: ")
	}
}

func TestRunPrintConfig(t *testing.T) {
	historyDir := setupCLI(t)
	script := testutil.WriteScript(t, "cfg.sh", "#!nix-runner\n#!pure\n#!command python3\n#!package python3\n\nprint(1)\n")

	code, stdout, stderr := runCLI("-print-config", script)
	require.Equal(t, 0, code, stderr)

	var rc directive.RunnerConfiguration
	require.NoError(t, json.Unmarshal([]byte(stdout), &rc))
	require.True(t, rc.Pure)
	require.Equal(t, "python3", rc.Command)
	require.Equal(t, []string{"python3"}, rc.Packages)

	// Inspecting a script is not a run
	_, err := os.Stat(historyDir)
	require.True(t, os.IsNotExist(err))
}

func TestRunDryRun(t *testing.T) {
	setupCLI(t)
	script := testutil.WriteScript(t, "dry.sh", "#!nix-runner\n#!package jq\n\njq .\n")

	code, stdout, stderr := runCLI("-dry-run", "-backend", "legacy", script, "a b")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, " -p jq --run ")
	require.Contains(t, stdout, script+" 'a b'")
}

func TestRunUsageErrors(t *testing.T) {
	setupCLI(t)

	code, _, stderr := runCLI()
	require.Equal(t, exitError, code)
	require.Contains(t, stderr, "Usage: nix-runner")

	code, _, stderr = runCLI(filepath.Join(t.TempDir(), "missing.sh"))
	require.Equal(t, exitError, code)
	require.Contains(t, stderr, "reading script")

	script := testutil.WriteScript(t, "ok.sh", "#!nix-runner\n\ntrue\n")
	code, _, stderr = runCLI("-backend", "docker", script)
	require.Equal(t, exitError, code)
	require.Contains(t, stderr, "backend must be flake or legacy")
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCLI("-version")
	require.Equal(t, 0, code)
	require.Equal(t, version+"\n", stdout)
}
