// Package handlers implements the HTTP surface's operations (spec.md §4.7,
// §6): read endpoints backed directly by the engine's snapshot accessors,
// and write endpoints that forward to the engine's mutating methods.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("failed to encode JSON response")
		}
	}
}

// RespondError writes an ErrorResponse with the given status code.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// DecodeJSON decodes the request body into dest, responding 400 and
// returning false on failure.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ParseStringParam extracts a required chi URL parameter, responding 400
// and returning false if it's missing.
func ParseStringParam(w http.ResponseWriter, r *http.Request, name, displayName string) (string, bool) {
	value := chi.URLParam(r, name)
	if value == "" {
		RespondError(w, http.StatusBadRequest, displayName+" is required")
		return "", false
	}
	return value, true
}

// writeErrorsToResponse folds a per-hash failure map into a JSON-friendly
// map of hash -> error string.
func writeErrorsToResponse(failed map[string]error) map[string]string {
	if len(failed) == 0 {
		return nil
	}
	out := make(map[string]string, len(failed))
	for hash, err := range failed {
		out[hash] = err.Error()
	}
	return out
}
