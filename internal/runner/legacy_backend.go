package runner

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/directive"
)

type legacyBackend struct{}

func (legacyBackend) Kind() string {
	return config.BackendLegacy
}

func (legacyBackend) ResolveBin(settings *config.Config) string {
	return resolveBin(settings, "nix-shell")
}

// BuildCommand produces
//
//	nix-shell [--pure] [--option k v]... [-I old=new]... -p <pkg>... --run '<command> <script> <args>...'
//
// nix-shell has no flake registry; registry overrides become NIX_PATH
// entries instead.
func (b legacyBackend) BuildCommand(rc directive.RunnerConfiguration, script string, args []string, settings *config.Config) (Command, error) {
	var argv []string
	if rc.Pure {
		argv = append(argv, "--pure")
	}
	for _, o := range rc.Options {
		argv = append(argv, "--option", o.Key, o.Value)
	}
	for _, r := range rc.Registries {
		argv = append(argv, "-I", r.OldRef+"="+r.NewRef)
	}
	argv = append(argv, "-p")
	argv = append(argv, installables(rc)...)

	run, err := shellLine(append([]string{rc.Command, script}, args...))
	if err != nil {
		return Command{}, err
	}
	argv = append(argv, "--run", run)
	return Command{Bin: b.ResolveBin(settings), Args: argv}, nil
}

// shellLine quotes words into a single bash command line.
func shellLine(words []string) (string, error) {
	quoted := make([]string, len(words))
	for i, w := range words {
		q, err := syntax.Quote(w, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quoting argument %d for nix-shell --run: %w", i, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}
