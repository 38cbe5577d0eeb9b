// Package api defines the JSON shapes served by the nix-runner web service.
package api

import (
	"github.com/emattiza/nix-runner/internal/directive"
)

// TypeParser identifies the service in status responses.
const TypeParser = "parser"

// Service states reported by /status.
const (
	StateReady    = "ready"
	StateStopping = "stopping"
)

// StatusResponse represents the /status response.
type StatusResponse struct {
	Type          string  `json:"type"`
	Version       string  `json:"version"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Parses        int64   `json:"parses"`
	Failures      int64   `json:"failures"`
	Backend       string  `json:"backend"`
	History       bool    `json:"history"`
}

// DirectiveView is one header directive as sent over the wire.
type DirectiveView struct {
	Kind directive.Kind `json:"kind"`
	Args []string       `json:"args"`
	Line string         `json:"line"`
}

// ParseResponse is returned for a script whose header parsed.
type ParseResponse struct {
	Config     directive.RunnerConfiguration `json:"config"`
	Directives []DirectiveView               `json:"directives"`
	Body       string                        `json:"body"`
	BodyLine   int                           `json:"body_line"`
	Digest     string                        `json:"digest"`
}

// PlanResponse is the nix invocation a script would run.
type PlanResponse struct {
	Backend string                        `json:"backend"`
	Argv    []string                      `json:"argv"`
	Command string                        `json:"command"`
	Config  directive.RunnerConfiguration `json:"config"`
	Digest  string                        `json:"digest"`
}

// ErrorResponse is the body of every non-2xx response. Line is set for
// header parse failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Text    string `json:"text,omitempty"`
}

// NewDirectiveViews converts parsed directives for the wire.
func NewDirectiveViews(ds []directive.Directive) []DirectiveView {
	views := make([]DirectiveView, 0, len(ds))
	for _, d := range ds {
		args := d.Args()
		if args == nil {
			args = []string{}
		}
		views = append(views, DirectiveView{Kind: d.Kind(), Args: args, Line: d.Line()})
	}
	return views
}
