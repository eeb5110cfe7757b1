package handler

import "net/http"

// StatsHandler reports counters from every registered component.
type StatsHandler struct {
	sources map[string]func() any
}

// NewStatsHandler creates a StatsHandler. Each source is called per request.
func NewStatsHandler(sources map[string]func() any) *StatsHandler {
	return &StatsHandler{sources: sources}
}

// GetStats responds with one entry per source.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(h.sources))
	for name, fn := range h.sources {
		out[name] = fn()
	}
	writeJSON(w, http.StatusOK, out)
}
