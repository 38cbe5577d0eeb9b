package runner

import (
	"fmt"
	"os"
	"strings"

	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/directive"
)

// EnvNixBin overrides the nix binary for every backend.
const EnvNixBin = "NIX_RUNNER_NIX_BIN"

// Command describes a nix invocation.
type Command struct {
	Bin  string   `json:"bin"`
	Args []string `json:"args"`
}

// Argv returns the binary followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Bin}, c.Args...)
}

// String renders the command as a bash command line.
func (c Command) String() string {
	line, err := shellLine(c.Argv())
	if err != nil {
		return strings.Join(c.Argv(), " ")
	}
	return line
}

// Backend translates a runner configuration into a nix invocation.
type Backend interface {
	Kind() string
	ResolveBin(settings *config.Config) string
	BuildCommand(rc directive.RunnerConfiguration, script string, args []string, settings *config.Config) (Command, error)
}

// NewFlakeBackend returns the `nix shell` backend.
func NewFlakeBackend() Backend {
	return flakeBackend{}
}

// NewLegacyBackend returns the `nix-shell` backend.
func NewLegacyBackend() Backend {
	return legacyBackend{}
}

// BackendFor returns the backend named by kind.
func BackendFor(kind string) (Backend, error) {
	switch kind {
	case config.BackendFlake:
		return NewFlakeBackend(), nil
	case config.BackendLegacy:
		return NewLegacyBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// resolveBin picks NIX_RUNNER_NIX_BIN, then the configured binary, then fallback.
func resolveBin(settings *config.Config, fallback string) string {
	if bin := os.Getenv(EnvNixBin); bin != "" {
		return bin
	}
	if settings != nil && settings.NixBin != "" {
		return settings.NixBin
	}
	return fallback
}

// installables returns the packages to put on PATH. A script without
// #!package lines gets its command's package.
func installables(rc directive.RunnerConfiguration) []string {
	if len(rc.Packages) == 0 {
		return []string{rc.Command}
	}
	return rc.Packages
}
