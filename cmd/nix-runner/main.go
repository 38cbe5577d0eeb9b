// Command nix-runner runs a script inside a nix shell described by the
// script's own header. It is meant to be used as an interpreter:
//
//	#!/usr/bin/env nix-runner
//	#!package jq
//
//	jq --version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/directive"
	"github.com/emattiza/nix-runner/internal/history"
	"github.com/emattiza/nix-runner/internal/logging"
	"github.com/emattiza/nix-runner/internal/runner"
	"github.com/emattiza/nix-runner/internal/runstate"
)

var version = "dev"

// Exit codes of the CLI itself. A script that ran exits with its own code.
const (
	exitOK         = 0
	exitError      = 1
	exitParseError = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("nix-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dryRun := fs.Bool("dry-run", false, "Print the nix command instead of running it")
	printConfig := fs.Bool("print-config", false, "Print the parsed header as JSON and exit")
	timeout := fs.Duration("timeout", -1, "Kill the script after this long (overrides config, 0 disables)")
	backend := fs.String("backend", "", "Nix backend: flake or legacy (overrides config)")
	showVersion := fs.Bool("version", false, "Show version")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: nix-runner [flags] <script> [args...]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	if *showVersion {
		fmt.Fprintln(stdout, version)
		return exitOK
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return exitError
	}
	scriptPath := fs.Arg(0)
	scriptArgs := fs.Args()[1:]

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "nix-runner: %v\n", err)
		return exitError
	}
	if *backend != "" {
		settings.Backend = *backend
	}
	if *timeout >= 0 {
		settings.Timeout = *timeout
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(stderr, "nix-runner: %v\n", err)
		return exitError
	}

	log := logging.New(logging.Config{
		Output:    stderr,
		Level:     logging.ParseLevel(settings.ResolveLogLevel()),
		Component: "nix-runner",
	})

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		fmt.Fprintf(stderr, "nix-runner: reading script: %v\n", err)
		return exitError
	}

	inspectOnly := *dryRun || *printConfig
	var store *history.Store
	if !inspectOnly {
		store = openHistory(settings, log)
	}

	runID := history.NewRunID()
	started := time.Now()

	res, err := directive.ParseBytes(data)
	if err != nil {
		var perr *directive.ParseError
		if !errors.As(err, &perr) {
			fmt.Fprintf(stderr, "nix-runner: %v\n", err)
			return exitError
		}
		fmt.Fprintf(stderr, "%s:%d: %s: %s\n", scriptPath, perr.Line, perr.Kind, perr.Detail)
		rejected := &history.Entry{
			RunID:       runID,
			ScriptPath:  absPath(scriptPath),
			Digest:      history.Digest(string(data)),
			Backend:     settings.Backend,
			Args:        scriptArgs,
			State:       runstate.Rejected,
			StartedAt:   started,
			CompletedAt: time.Now(),
			Error: &history.EntryError{
				Type:    perr.Kind.String(),
				Message: perr.Detail,
				Line:    perr.Line,
			},
		}
		rejected.DurationSeconds = rejected.CompletedAt.Sub(started).Seconds()
		recordRun(store, log, rejected)
		return exitParseError
	}

	if *printConfig {
		out, err := json.MarshalIndent(res.Config, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "nix-runner: %v\n", err)
			return exitError
		}
		fmt.Fprintln(stdout, string(out))
		return exitOK
	}

	executor, err := runner.NewExecutor(settings, log)
	if err != nil {
		fmt.Fprintf(stderr, "nix-runner: %v\n", err)
		return exitError
	}

	if *dryRun {
		cmd, err := executor.Plan(res.Config, absPath(scriptPath), scriptArgs)
		if err != nil {
			fmt.Fprintf(stderr, "nix-runner: %v\n", err)
			return exitError
		}
		fmt.Fprintln(stdout, cmd.String())
		return exitOK
	}

	// SIGINT reaches nix directly through the terminal's foreground group.
	// Catching it here keeps nix-runner alive to record the outcome.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	out, execErr := executor.Execute(ctx, runner.Request{
		RunID:      runID,
		ScriptPath: scriptPath,
		Config:     res.Config,
		Body:       res.Body,
		Args:       scriptArgs,
		Stdin:      stdin,
		Stdout:     stdout,
		Stderr:     stderr,
	})

	entry := &history.Entry{
		RunID:       runID,
		ScriptPath:  absPath(scriptPath),
		Config:      &res.Config,
		Backend:     executor.Backend().Kind(),
		Args:        scriptArgs,
		Body:        res.Body,
		State:       runstate.Failed,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	entry.DurationSeconds = entry.CompletedAt.Sub(started).Seconds()

	if out == nil {
		fmt.Fprintf(stderr, "nix-runner: %v\n", execErr)
		entry.Error = &history.EntryError{Type: "setup_failed", Message: execErr.Error()}
		recordRun(store, log, entry)
		return exitError
	}

	exitCode := out.ExitCode
	entry.State = out.State
	entry.Argv = out.Command.Argv()
	entry.ExitCode = &exitCode
	entry.StartedAt = out.StartedAt
	entry.DurationSeconds = out.Duration.Seconds()
	if execErr != nil {
		fmt.Fprintf(stderr, "nix-runner: %v\n", execErr)
		entry.Error = &history.EntryError{Type: "start_failed", Message: execErr.Error()}
	}
	recordRun(store, log, entry)
	return exitCode
}

func loadSettings(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// openHistory returns nil when history is disabled or unusable. A broken
// history directory never stops a script from running.
func openHistory(settings *config.Config, log *logging.Logger) *history.Store {
	if settings.HistoryDir == "" {
		return nil
	}
	store, err := history.NewStore(settings.HistoryDir)
	if err != nil {
		log.Warn("history disabled", map[string]any{"error": err.Error()})
		return nil
	}
	return store
}

func recordRun(store *history.Store, log *logging.Logger, entry *history.Entry) {
	if store == nil {
		return
	}
	if err := store.Save(entry); err != nil {
		log.WithRun(entry.RunID).Warn("failed to save run history", map[string]any{"error": err.Error()})
	}
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
