package handlers

import (
	"net/http"

	"github.com/trackercap/upcap/internal/engine"
)

// EngineHandler serves the write operations that act directly on the
// allocation engine: force-cycle, rollout, rollback, and the two reset
// operations.
type EngineHandler struct {
	engine *engine.Engine
}

func NewEngineHandler(eng *engine.Engine) *EngineHandler {
	return &EngineHandler{engine: eng}
}

// Preview serves /preview/next-cycle: computes proposed limits against a
// cloned cache and smoothing state, applying nothing (see engine.Preview).
func (h *EngineHandler) Preview(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.engine.Preview())
}

// ForceCycle serves /cycle/force: requests an out-of-band cycle and
// returns immediately; the cycle itself runs asynchronously.
func (h *EngineHandler) ForceCycle(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		RespondError(w, http.StatusServiceUnavailable, "engine is not ready")
		return
	}
	h.engine.ForceCycle()
	RespondJSON(w, http.StatusAccepted, struct {
		Forced bool `json:"forced"`
	}{Forced: true})
}

type rolloutRequest struct {
	Percentage int `json:"percentage"`
}

// SetRollout serves /rollout: accepts 0-100, 400 on any other value.
func (h *EngineHandler) SetRollout(w http.ResponseWriter, r *http.Request) {
	var req rolloutRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.SetRollout(req.Percentage); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

type writeResultResponse struct {
	Applied []string          `json:"applied"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Rollback serves /rollback: restores every unrestored rollback record to
// its earliest recorded old_limit. Per-torrent failures are reported in
// the body; the overall operation succeeds if at least one change applied
// or there was nothing to restore, per spec.md §7.
func (h *EngineHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	applied, failed, err := h.engine.Rollback(r.Context())
	if err != nil {
		RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if len(applied) == 0 && len(failed) > 0 {
		status = http.StatusInternalServerError
	}
	RespondJSON(w, status, writeResultResponse{Applied: applied, Failed: writeErrorsToResponse(failed)})
}

type resetLimitsRequest struct {
	Hashes        []string `json:"hashes"`
	MarkRestored  bool     `json:"mark_restored"`
}

// ResetLimits serves /limits/reset: sets the given torrents to unlimited.
func (h *EngineHandler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	var req resetLimitsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Hashes) == 0 {
		RespondError(w, http.StatusBadRequest, "hashes must not be empty")
		return
	}

	applied, failed, err := h.engine.ResetToUnlimited(r.Context(), req.Hashes, req.MarkRestored)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, writeResultResponse{Applied: applied, Failed: writeErrorsToResponse(failed)})
}

// ResetSmoothing serves /smoothing/reset: clears the soft strategy's
// persisted EMA state.
func (h *EngineHandler) ResetSmoothing(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetSmoothing()
	RespondJSON(w, http.StatusOK, struct {
		Reset bool `json:"reset"`
	}{Reset: true})
}
