package directive

import "slices"

// DefaultCommand runs the body when no #!command directive is given.
const DefaultCommand = "bash"

// RunnerConfiguration describes how a script should be executed. Values are
// produced by Reduce and never modified afterwards; Apply returns a copy.
type RunnerConfiguration struct {
	Pure       bool       `json:"pure"`
	Options    []Option   `json:"options"`
	Registries []Registry `json:"registries"`
	Packages   []string   `json:"packages"`
	Command    string     `json:"command"`
}

// Default returns the configuration of a script without directives.
func Default() RunnerConfiguration {
	return RunnerConfiguration{
		Pure:       false,
		Options:    []Option{},
		Registries: []Registry{},
		Packages:   []string{},
		Command:    DefaultCommand,
	}
}

// Apply returns c with d folded in. Purity and Command replace the current
// value; Option, Registry and Package append, keeping duplicates.
func (c RunnerConfiguration) Apply(d Directive) RunnerConfiguration {
	next := RunnerConfiguration{
		Pure:       c.Pure,
		Options:    slices.Clone(c.Options),
		Registries: slices.Clone(c.Registries),
		Packages:   slices.Clone(c.Packages),
		Command:    c.Command,
	}
	switch d := d.(type) {
	case Purity:
		next.Pure = d.Pure
	case Command:
		next.Command = d.Name
	case Option:
		next.Options = append(next.Options, d)
	case Registry:
		next.Registries = append(next.Registries, d)
	case Package:
		next.Packages = append(next.Packages, d.Name)
	}
	return next
}

// Reduce folds directives, in order, over Default.
func Reduce(directives []Directive) RunnerConfiguration {
	cfg := Default()
	for _, d := range directives {
		cfg = cfg.Apply(d)
	}
	return cfg
}
