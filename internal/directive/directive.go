// Package directive parses the runner header of a nix-runner script.
//
// A script starts with an interpreter line, followed by zero or more
// directive lines, a blank line, and the script body:
//
//	#!/usr/bin/env nix-runner
//	#!pure
//	#!package jq
//	#!nix-option experimental-features flakes
//	#!registry nixpkgs github:NixOS/nixpkgs/nixos-24.05
//	#!command bash
//
//	jq --version
//
// Parse turns the header into a RunnerConfiguration and returns the body
// untouched. Parsing is pure and never partial: any malformed header fails
// the whole parse with a *ParseError.
package directive

import (
	"fmt"
	"strings"
)

// Marker starts every header line, including the interpreter line.
const Marker = "#!"

// Kind identifies a directive variant.
type Kind int

const (
	KindPurity Kind = iota + 1
	KindOption
	KindRegistry
	KindPackage
	KindCommand
)

// String returns the directive keyword as written in scripts.
func (k Kind) String() string {
	switch k {
	case KindPurity:
		return "pure"
	case KindOption:
		return "nix-option"
	case KindRegistry:
		return "registry"
	case KindPackage:
		return "package"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind as its keyword.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Directive is one parsed header line. The concrete type is one of
// Purity, Option, Registry, Package or Command.
type Directive interface {
	Kind() Kind
	// Args returns the directive arguments in source order.
	Args() []string
	// Line renders the directive as a header line, without line ending.
	Line() string

	directive()
}

// Purity requests an isolated environment. Recognized lines always carry true.
type Purity struct {
	Pure bool
}

// Option is a nix option passed through as key/value.
type Option struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Registry overrides a flake registry entry.
type Registry struct {
	OldRef string `json:"old_ref"`
	NewRef string `json:"new_ref"`
}

// Package adds a package to the environment.
type Package struct {
	Name string
}

// Command selects the interpreter used to run the body.
type Command struct {
	Name string
}

func (Purity) Kind() Kind   { return KindPurity }
func (Option) Kind() Kind   { return KindOption }
func (Registry) Kind() Kind { return KindRegistry }
func (Package) Kind() Kind  { return KindPackage }
func (Command) Kind() Kind  { return KindCommand }

func (Purity) Args() []string     { return nil }
func (o Option) Args() []string   { return []string{o.Key, o.Value} }
func (r Registry) Args() []string { return []string{r.OldRef, r.NewRef} }
func (p Package) Args() []string  { return []string{p.Name} }
func (c Command) Args() []string  { return []string{c.Name} }

func (p Purity) Line() string   { return renderLine(p) }
func (o Option) Line() string   { return renderLine(o) }
func (r Registry) Line() string { return renderLine(r) }
func (p Package) Line() string  { return renderLine(p) }
func (c Command) Line() string  { return renderLine(c) }

func (Purity) directive()   {}
func (Option) directive()   {}
func (Registry) directive() {}
func (Package) directive()  {}
func (Command) directive()  {}

func renderLine(d Directive) string {
	parts := append([]string{d.Kind().String()}, d.Args()...)
	return Marker + strings.Join(parts, " ")
}

// Format renders directives as a header block: the interpreter line, one
// line per directive, and the blank terminator line.
func Format(interpreter string, directives []Directive) string {
	var b strings.Builder
	b.WriteString(Marker)
	b.WriteString(interpreter)
	b.WriteByte('\n')
	for _, d := range directives {
		b.WriteString(d.Line())
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
