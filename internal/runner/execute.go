// Package runner turns a parsed runner configuration into a nix invocation
// and runs the script body under it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/directive"
	"github.com/emattiza/nix-runner/internal/logging"
	"github.com/emattiza/nix-runner/internal/runstate"
)

// Exit codes reported when nix did not exit on its own.
const (
	ExitStartFailure = 1
	ExitTimeout      = 124
	ExitCancelled    = 130
)

// Environment passed to the script.
const (
	EnvRunID  = "NIX_RUNNER_RUN_ID"
	EnvScript = "NIX_RUNNER_SCRIPT"
)

// Executor runs scripts through a nix backend.
type Executor struct {
	settings *config.Config
	backend  Backend
	log      *logging.Logger
}

// Request is a single script run.
type Request struct {
	RunID string
	// ScriptPath is where the script was read from. The body is written to
	// a private copy with the same base name.
	ScriptPath string
	Config     directive.RunnerConfiguration
	Body       string
	Args       []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ProcessGroup runs nix in its own process group so cancellation
	// reaches every descendant. Leave it off for interactive runs: the
	// terminal only delivers input and Ctrl-C to the foreground group.
	ProcessGroup bool
}

// Outcome describes a finished run.
type Outcome struct {
	Command   Command
	State     runstate.State
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration
}

// NewExecutor returns an executor using the backend named in settings.
func NewExecutor(settings *config.Config, log *logging.Logger) (*Executor, error) {
	if settings == nil {
		settings = config.Default()
	}
	backend, err := BackendFor(settings.Backend)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.New(logging.Config{Output: io.Discard})
	}
	return &Executor{settings: settings, backend: backend, log: log}, nil
}

// Backend returns the backend in use.
func (e *Executor) Backend() Backend {
	return e.backend
}

// Plan returns the command Execute would run for a script stored at script.
func (e *Executor) Plan(rc directive.RunnerConfiguration, script string, args []string) (Command, error) {
	return e.backend.BuildCommand(rc, script, args, e.settings)
}

// Execute writes the body to a temporary file and runs it through nix. A
// non-zero exit of the script is reported in the Outcome, not as an error;
// the error is reserved for runs that could not be started.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	runLog := e.log.WithRun(req.RunID)

	dir, err := os.MkdirTemp("", "nix-runner-")
	if err != nil {
		return nil, fmt.Errorf("creating script directory: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, scriptName(req.ScriptPath))
	if err := os.WriteFile(script, []byte(req.Body), 0700); err != nil {
		return nil, fmt.Errorf("writing script body: %w", err)
	}

	plan, err := e.Plan(req.Config, script, req.Args)
	if err != nil {
		return nil, fmt.Errorf("building %s command: %w", e.backend.Kind(), err)
	}

	if e.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settings.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, plan.Bin, plan.Args...)
	cmd.Stdin = req.Stdin
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	cmd.Env = append(os.Environ(),
		EnvRunID+"="+req.RunID,
		EnvScript+"="+absPath(req.ScriptPath),
	)
	if req.ProcessGroup {
		setupProcessGroup(cmd)
		cmd.Cancel = func() error { return killProcessGroup(cmd) }
	}
	cmd.WaitDelay = 5 * time.Second

	runLog.Debug("starting nix", map[string]any{
		"backend": e.backend.Kind(),
		"argv":    plan.Argv(),
	})

	started := time.Now()
	runErr := cmd.Run()
	out := &Outcome{
		Command:   plan,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.State = runstate.TimedOut
		out.ExitCode = ExitTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		out.State = runstate.Cancelled
		out.ExitCode = ExitCancelled
	case runErr == nil:
		out.State = runstate.Completed
	case errors.As(runErr, &exitErr):
		out.State = runstate.Failed
		out.ExitCode = exitErr.ExitCode()
		if out.ExitCode < 0 {
			out.ExitCode = ExitStartFailure
		}
	default:
		out.State = runstate.Failed
		out.ExitCode = ExitStartFailure
		runLog.Error("failed to start nix", map[string]any{
			"bin":   plan.Bin,
			"error": runErr.Error(),
		})
		return out, fmt.Errorf("starting %s: %w", plan.Bin, runErr)
	}

	fields := map[string]any{
		"state":            out.State.String(),
		"exit_code":        out.ExitCode,
		"duration_seconds": out.Duration.Seconds(),
	}
	if out.State == runstate.Completed {
		runLog.Info("run completed", fields)
	} else {
		runLog.Warn("run did not complete", fields)
	}
	return out, nil
}

func scriptName(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "script"
	}
	return name
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
