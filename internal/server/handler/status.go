package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/arbengine/internal/venue"
)

// VenueState reports a venue's circuit breaker.
type VenueState interface {
	Name() string
	State() venue.BreakerState
}

// StatusHandler serves the engine's mode, uptime and venue breaker states.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	symbols   []string
	venues    []VenueState
	leader    func() bool
}

// NewStatusHandler creates a StatusHandler. leader may be nil when no
// leader lease is used.
func NewStatusHandler(mode string, startedAt time.Time, symbols []string, venues []VenueState, leader func() bool) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		symbols:   symbols,
		venues:    venues,
		leader:    leader,
	}
}

// GetStatus responds with the engine mode and venue states.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	venues := make(map[string]string, len(h.venues))
	for _, v := range h.venues {
		venues[v.Name()] = v.State().String()
	}
	leader := true
	if h.leader != nil {
		leader = h.leader()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"symbols":        h.symbols,
		"venues":         venues,
		"leader":         leader,
	})
}
