package executor

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// transitions lists the legal moves of the trade saga.
var transitions = map[domain.TradeStatus][]domain.TradeStatus{
	domain.TradeInitiated:      {domain.TradeLegsSubmitting, domain.TradeFailed},
	domain.TradeLegsSubmitting: {domain.TradeLegsSubmitted, domain.TradeFailed},
	domain.TradeLegsSubmitted:  {domain.TradeCompleted, domain.TradePartialFailure, domain.TradeFailed},
	domain.TradePartialFailure: {domain.TradeUnwinding, domain.TradeFailed},
	domain.TradeUnwinding:      {domain.TradeUnwound, domain.TradeFailed},
}

// CanTransition reports whether a trade may move from one status to another.
func CanTransition(from, to domain.TradeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// advance moves t to status to and appends the change to its history.
func advance(t *domain.Trade, to domain.TradeStatus, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("executor: trade %s %s -> %s: %w", t.ID, t.Status, to, domain.ErrInvalidTransition)
	}
	t.History = append(t.History, domain.StatusChange{From: t.Status, To: to, At: at})
	t.Status = to
	if to.Terminal() {
		closed := at
		t.ClosedAt = &closed
	}
	return nil
}
