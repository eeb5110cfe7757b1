package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// LiveTrades exposes the coordinator's in-memory trades.
type LiveTrades interface {
	RecentTrades(limit int) []domain.Trade
	Trade(id string) (domain.Trade, bool)
}

// TradeHandler serves trade history. Without a store it answers from the
// coordinator's memory only.
type TradeHandler struct {
	live   LiveTrades
	store  domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. live and store may each be nil.
func NewTradeHandler(live LiveTrades, store domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{live: live, store: store, logger: logHandler(logger, "trades")}
}

// ListRecent returns closed trades, newest first. ?source=live forces the
// in-memory view.
// GET /api/trades/recent
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if h.store == nil || r.URL.Query().Get("source") == "live" {
		if h.live == nil {
			writeJSON(w, http.StatusOK, []domain.Trade{})
			return
		}
		writeJSON(w, http.StatusOK, h.live.RecentTrades(opts.Limit))
		return
	}

	trades, err := h.store.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetTrade returns one trade, checking in-flight trades first.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}
	if h.live != nil {
		if t, ok := h.live.Trade(id); ok {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	if h.store == nil {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}

	t, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
