package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// RecentSignals is an in-memory signal history.
type RecentSignals interface {
	Signals(limit int) []domain.Signal
}

// SignalHandler serves signal history from the store, or from memory when
// no store is configured.
type SignalHandler struct {
	store  domain.SignalStore
	recent RecentSignals
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler. store may be nil.
func NewSignalHandler(store domain.SignalStore, recent RecentSignals, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{store: store, recent: recent, logger: logHandler(logger, "signals")}
}

// ListRecent returns signals, newest first.
// GET /api/signals/recent
func (h *SignalHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if h.store == nil {
		if h.recent == nil {
			writeJSON(w, http.StatusOK, []domain.Signal{})
			return
		}
		writeJSON(w, http.StatusOK, h.recent.Signals(opts.Limit))
		return
	}

	signals, err := h.store.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}
