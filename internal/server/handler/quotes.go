package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// QuoteSnapshot reads fresh quotes from the local cache.
type QuoteSnapshot interface {
	Snapshot(symbol string) map[string]domain.Quote
}

// QuoteHandler serves the latest quotes per venue for a symbol.
type QuoteHandler struct {
	cache  QuoteSnapshot
	mirror domain.QuoteMirror
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler. mirror is consulted when the local
// cache has nothing for the symbol and may be nil.
func NewQuoteHandler(cache QuoteSnapshot, mirror domain.QuoteMirror, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{cache: cache, mirror: mirror, logger: logHandler(logger, "quotes")}
}

// GetQuotes returns the quotes for a symbol keyed by venue.
// GET /api/quotes/{symbol}
func (h *QuoteHandler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	if h.cache != nil {
		if snap := h.cache.Snapshot(symbol); len(snap) > 0 {
			writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "source": "cache", "quotes": snap})
			return
		}
	}
	if h.mirror == nil {
		writeError(w, http.StatusNotFound, "no quotes for symbol")
		return
	}

	quotes, err := h.mirror.GetSymbol(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no quotes for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "mirror lookup failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read quotes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "source": "mirror", "quotes": quotes})
}
