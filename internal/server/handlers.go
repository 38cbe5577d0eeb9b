package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emattiza/nix-runner/internal/api"
	"github.com/emattiza/nix-runner/internal/directive"
	"github.com/emattiza/nix-runner/internal/history"
	"github.com/emattiza/nix-runner/internal/logging"
	"github.com/emattiza/nix-runner/internal/runner"
	"github.com/emattiza/nix-runner/internal/runstate"
)

// defaultPlanScript stands in for the script path when /plan is not given one.
const defaultPlanScript = "script"

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := api.StateReady
	if s.stopping.Load() {
		state = api.StateStopping
	}
	api.WriteJSON(w, http.StatusOK, api.StatusResponse{
		Type:          api.TypeParser,
		Version:       s.version,
		State:         state,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Parses:        s.parses.Load(),
		Failures:      s.failures.Load(),
		Backend:       s.settings.Backend,
		History:       s.history != nil,
	})
}

// readScript reads the request body as script text. It writes the error
// response itself and returns ok=false when the body cannot be used.
func (s *Server) readScript(w http.ResponseWriter, r *http.Request) (*directive.Result, bool) {
	limit := s.settings.Server.MaxScriptBytes
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, "too_large",
				fmt.Sprintf("script exceeds %d bytes", limit))
			return nil, false
		}
		api.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return nil, false
	}

	s.parses.Add(1)
	res, err := directive.ParseBytes(data)
	if err != nil {
		s.failures.Add(1)
		var perr *directive.ParseError
		if errors.As(err, &perr) {
			s.log.Info("script rejected", map[string]any{
				"kind": perr.Kind.String(),
				"line": perr.Line,
			})
			api.WriteParseError(w, perr)
			return nil, false
		}
		api.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return nil, false
	}
	return res, true
}

// handleParse returns the configuration, directives and body of a script.
// Returns 422 when the header is rejected and 413 when the body is too large.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	res, ok := s.readScript(w, r)
	if !ok {
		return
	}

	s.log.Debug("script parsed", map[string]any{
		"directives": len(res.Directives),
		"body_line":  res.BodyLine,
	})
	api.WriteJSON(w, http.StatusOK, api.ParseResponse{
		Config:     res.Config,
		Directives: api.NewDirectiveViews(res.Directives),
		Body:       res.Body,
		BodyLine:   res.BodyLine,
		Digest:     history.Digest(res.Body),
	})
}

// handlePlan returns the nix invocation for a script without running it.
// Query params:
//   - backend: flake or legacy (default from settings)
//   - script: path the script would be run from (default "script")
//   - arg: repeated, arguments forwarded to the script
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	settings := *s.settings
	if b := q.Get("backend"); b != "" {
		settings.Backend = b
	}
	executor, err := runner.NewExecutor(&settings, s.log)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_backend", err.Error())
		return
	}

	res, ok := s.readScript(w, r)
	if !ok {
		return
	}

	script := q.Get("script")
	if script == "" {
		script = defaultPlanScript
	}
	cmd, err := executor.Plan(res.Config, script, q["arg"])
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, api.PlanResponse{
		Backend: executor.Backend().Kind(),
		Argv:    cmd.Argv(),
		Command: cmd.String(),
		Config:  res.Config,
		Digest:  history.Digest(res.Body),
	})
}

// handleListHistory returns paginated run history, optionally filtered by
// ?state=.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "history_unavailable", "History storage not configured")
		return
	}

	page, err := api.ParseIntParam(r.URL.Query().Get("page"), 1, 1<<20, 1)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_page", "page "+err.Error())
		return
	}
	limit, err := api.ParseIntParam(r.URL.Query().Get("limit"), 1, 100, 20)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_limit", "limit "+err.Error())
		return
	}

	opts := history.ListOptions{Page: page, Limit: limit}
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, ok := runstate.Parse(raw)
		if !ok {
			api.WriteError(w, http.StatusBadRequest, "invalid_state", fmt.Sprintf("unknown run state %q", raw))
			return
		}
		opts.State = state
	}

	api.WriteJSON(w, http.StatusOK, s.history.List(opts))
}

// handleGetHistory returns a single run.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "history_unavailable", "History storage not configured")
		return
	}

	entry, err := s.history.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

// handleLogs returns log entries with optional filtering.
// Query params:
//   - level: minimum log level (debug, info, warn, error)
//   - run_id: filter by run ID
//   - since: RFC3339 timestamp to filter entries after
//   - limit: max entries to return (default 100)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit, err := api.ParseIntParam(params.Get("limit"), 1, 1000, 100)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_limit", "limit "+err.Error())
		return
	}
	since, err := api.ParseTimeParam(params.Get("since"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_since", "since "+err.Error())
		return
	}

	q := logging.Query{
		RunID: params.Get("run_id"),
		Since: since,
		Limit: limit,
	}
	if level := params.Get("level"); level != "" {
		q.Level = logging.ParseLevel(level)
	}

	api.WriteJSON(w, http.StatusOK, s.log.Query(q))
}

// handleLogStats returns log statistics without entries.
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.log.Stats())
}
