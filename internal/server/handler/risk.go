package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/risk"
)

// RiskGate is the part of the risk gate exposed to operators.
type RiskGate interface {
	State() risk.State
	ClearHalt() bool
}

// RiskHandler serves risk state and the manual halt reset.
type RiskHandler struct {
	gate   RiskGate
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(gate RiskGate, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{gate: gate, logger: logHandler(logger, "risk")}
}

// GetRisk responds with the gate's accounting and halt status.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.State())
}

// ClearHalt resumes trading after a drawdown or stop-loss halt.
// POST /api/risk/clear-halt
func (h *RiskHandler) ClearHalt(w http.ResponseWriter, r *http.Request) {
	cleared := h.gate.ClearHalt()
	h.logger.InfoContext(r.Context(), "operator halt reset",
		slog.Bool("cleared", cleared),
		slog.String("remote_addr", r.RemoteAddr),
	)
	if !cleared {
		writeJSON(w, http.StatusConflict, map[string]any{
			"cleared": false,
			"error":   "trading is not halted",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cleared": true,
		"state":   h.gate.State(),
	})
}
