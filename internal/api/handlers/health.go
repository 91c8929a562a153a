package handlers

import (
	"net/http"

	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/qbitclient"
)

// HealthHandler serves /health.
type HealthHandler struct {
	engine *engine.Engine
	qbit   *qbitclient.Client
}

func NewHealthHandler(eng *engine.Engine, qbit *qbitclient.Client) *HealthHandler {
	return &HealthHandler{engine: eng, qbit: qbit}
}

type healthResponse struct {
	Status         string `json:"status"`
	CycleState     string `json:"cycle_state"`
	CircuitState   string `json:"circuit_state"`
	LastCycleError string `json:"last_cycle_error,omitempty"`
}

// Get reports 503 until the first cycle has completed, then 200 with
// status "healthy" or "degraded" reflecting the circuit breaker and the
// most recent cycle's outcome, per spec.md §7.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		RespondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "initializing"})
		return
	}

	circuit, _, _ := h.qbit.CircuitState()
	stats := h.engine.LastStats()

	status := "healthy"
	if circuit != domain.CircuitClosed || stats.Error != "" {
		status = "degraded"
	}

	RespondJSON(w, http.StatusOK, healthResponse{
		Status:         status,
		CycleState:     string(h.engine.State()),
		CircuitState:   string(circuit),
		LastCycleError: stats.Error,
	})
}
