//go:build unix

package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/directive"
	"github.com/emattiza/nix-runner/internal/logging"
	"github.com/emattiza/nix-runner/internal/runstate"
	"github.com/emattiza/nix-runner/internal/testutil"
)

func newTestExecutor(t *testing.T, backend string, argsLog string) (*Executor, *logging.Logger) {
	t.Helper()
	settings := config.Default()
	settings.Backend = backend
	settings.NixBin = testutil.FakeNix(t, argsLog)

	log := logging.New(logging.Config{Output: &bytes.Buffer{}, Level: logging.LevelDebug})
	e, err := NewExecutor(settings, log)
	require.NoError(t, err)
	return e, log
}

func parseScript(t *testing.T, text string) *directive.Result {
	t.Helper()
	res, err := directive.Parse(text)
	require.NoError(t, err)
	return res
}

func TestExecuteFlake(t *testing.T) {
	t.Parallel()

	argsLog := filepath.Join(t.TempDir(), "args")
	e, log := newTestExecutor(t, config.BackendFlake, argsLog)
	res := parseScript(t, "#!/usr/bin/env nix-runner\n#!package coreutils\n\necho \"hello $1 from $(basename \"$0\")\"\n")

	var stdout bytes.Buffer
	out, err := e.Execute(context.Background(), Request{
		RunID:      "run-test0001",
		ScriptPath: "/home/me/greet.sh",
		Config:     res.Config,
		Body:       res.Body,
		Args:       []string{"world"},
		Stdout:     &stdout,
		Stderr:     &bytes.Buffer{},
	})
	require.NoError(t, err)
	require.Equal(t, runstate.Completed, out.State)
	require.Equal(t, 0, out.ExitCode)
	require.Equal(t, "hello world from greet.sh\n", stdout.String())

	recorded, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(recorded)), "\n")
	require.Equal(t, []string{"shell", "nixpkgs#coreutils", "--command", "bash"}, lines[:4])
	require.Equal(t, "world", lines[len(lines)-1])

	entries := log.Query(logging.Query{RunID: "run-test0001"}).Entries
	require.NotEmpty(t, entries)
	require.Equal(t, "run completed", entries[len(entries)-1].Message)
}

func TestExecuteLegacy(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t, config.BackendLegacy, "")
	res := parseScript(t, "#!/usr/bin/env nix-runner\n#!command sh\n\nprintf '%s|' \"$@\"\n")

	var stdout bytes.Buffer
	out, err := e.Execute(context.Background(), Request{
		RunID:      "run-legacy01",
		ScriptPath: "args.sh",
		Config:     res.Config,
		Body:       res.Body,
		Args:       []string{"two words", "--flag", "it's"},
		Stdout:     &stdout,
		Stderr:     &bytes.Buffer{},
	})
	require.NoError(t, err)
	require.Equal(t, runstate.Completed, out.State)
	require.Equal(t, "two words|--flag|it's|", stdout.String())
}

func TestExecuteEnvironment(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t, config.BackendFlake, "")
	res := parseScript(t, "#!nix-runner\n\necho \"$NIX_RUNNER_RUN_ID $NIX_RUNNER_SCRIPT\"\n")

	var stdout bytes.Buffer
	_, err := e.Execute(context.Background(), Request{
		RunID:      "run-env00001",
		ScriptPath: "/srv/scripts/env.sh",
		Config:     res.Config,
		Body:       res.Body,
		Stdout:     &stdout,
	})
	require.NoError(t, err)
	require.Equal(t, "run-env00001 /srv/scripts/env.sh\n", stdout.String())
}

func TestExecuteExitCode(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t, config.BackendFlake, "")
	res := parseScript(t, "#!nix-runner\n\necho oops >&2\nexit 3\n")

	var stderr bytes.Buffer
	out, err := e.Execute(context.Background(), Request{
		RunID:  "run-exit0003",
		Config: res.Config,
		Body:   res.Body,
		Stderr: &stderr,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.Failed, out.State)
	require.Equal(t, 3, out.ExitCode)
	require.Equal(t, "oops\n", stderr.String())
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t, config.BackendFlake, "")
	e.settings.Timeout = 200 * time.Millisecond
	res := parseScript(t, "#!nix-runner\n\nsleep 10\n")

	start := time.Now()
	out, err := e.Execute(context.Background(), Request{
		RunID:        "run-timeout1",
		Config:       res.Config,
		Body:         res.Body,
		ProcessGroup: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.TimedOut, out.State)
	require.Equal(t, ExitTimeout, out.ExitCode)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteCancelled(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t, config.BackendFlake, "")
	res := parseScript(t, "#!nix-runner\n\nsleep 10\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	out, err := e.Execute(ctx, Request{
		RunID:        "run-cancel01",
		Config:       res.Config,
		Body:         res.Body,
		ProcessGroup: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.Cancelled, out.State)
	require.Equal(t, ExitCancelled, out.ExitCode)
}

func TestExecuteMissingBinary(t *testing.T) {
	t.Parallel()

	settings := config.Default()
	settings.NixBin = filepath.Join(t.TempDir(), "no-such-nix")
	e, err := NewExecutor(settings, nil)
	require.NoError(t, err)

	out, err := e.Execute(context.Background(), Request{
		RunID:  "run-missing1",
		Config: directive.Default(),
		Body:   "true\n",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "starting")
	require.Equal(t, runstate.Failed, out.State)
	require.Equal(t, ExitStartFailure, out.ExitCode)
}

func TestExecuteRemovesScriptCopy(t *testing.T) {
	t.Parallel()

	argsLog := filepath.Join(t.TempDir(), "args")
	e, _ := newTestExecutor(t, config.BackendFlake, argsLog)
	res := parseScript(t, "#!nix-runner\n\ntrue\n")

	_, err := e.Execute(context.Background(), Request{RunID: "run-cleanup1", ScriptPath: "x.sh", Config: res.Config, Body: res.Body})
	require.NoError(t, err)

	recorded, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	var scriptPath string
	for _, line := range strings.Split(string(recorded), "\n") {
		if strings.HasSuffix(line, "/x.sh") {
			scriptPath = line
		}
	}
	require.NotEmpty(t, scriptPath)
	_, err = os.Stat(scriptPath)
	require.True(t, os.IsNotExist(err))
}
