package api

import (
	"encoding/json"
	"net/http"

	"github.com/emattiza/nix-runner/internal/directive"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given code and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// WriteParseError reports a rejected script header as 422 with the
// failing line.
func WriteParseError(w http.ResponseWriter, perr *directive.ParseError) {
	WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   perr.Kind.String(),
		Message: perr.Detail,
		Line:    perr.Line,
		Text:    perr.Text,
	})
}
