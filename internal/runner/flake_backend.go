package runner

import (
	"github.com/emattiza/nix-runner/internal/config"
	"github.com/emattiza/nix-runner/internal/directive"
)

type flakeBackend struct{}

func (flakeBackend) Kind() string {
	return config.BackendFlake
}

func (flakeBackend) ResolveBin(settings *config.Config) string {
	return resolveBin(settings, "nix")
}

// BuildCommand produces
//
//	nix shell [--ignore-environment] [--option k v]... [--override-flake old new]...
//	    <flake>#<pkg>... --command <command> <script> <args>...
func (b flakeBackend) BuildCommand(rc directive.RunnerConfiguration, script string, args []string, settings *config.Config) (Command, error) {
	flake := config.DefaultPackageFlake
	if settings != nil && settings.PackageFlake != "" {
		flake = settings.PackageFlake
	}

	argv := []string{"shell"}
	if rc.Pure {
		argv = append(argv, "--ignore-environment")
	}
	for _, o := range rc.Options {
		argv = append(argv, "--option", o.Key, o.Value)
	}
	for _, r := range rc.Registries {
		argv = append(argv, "--override-flake", r.OldRef, r.NewRef)
	}
	for _, pkg := range installables(rc) {
		argv = append(argv, flake+"#"+pkg)
	}

	argv = append(argv, "--command", rc.Command, script)
	argv = append(argv, args...)
	return Command{Bin: b.ResolveBin(settings), Args: argv}, nil
}
