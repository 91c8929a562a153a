package handlers

import (
	"net/http"

	"github.com/trackercap/upcap/internal/trackermatch"
)

// MatchHandler serves /match/test.
type MatchHandler struct {
	matcher *trackermatch.Matcher
}

func NewMatchHandler(matcher *trackermatch.Matcher) *MatchHandler {
	return &MatchHandler{matcher: matcher}
}

// Test matches a URL against the configured tracker patterns, returning
// the winning tracker id and, when requested, the full evaluation trace
// across every pattern — useful for debugging an overly narrow pattern.
func (h *MatchHandler) Test(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		RespondError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	detailed := r.URL.Query().Get("detailed") == "true"

	RespondJSON(w, http.StatusOK, h.matcher.Test(url, detailed))
}
