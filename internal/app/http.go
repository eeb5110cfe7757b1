package app

import (
	"time"

	"github.com/alanyoungcy/arbengine/internal/server"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
)

// newServer builds the operator HTTP API over the running engine.
func (a *App) newServer(deps *Dependencies, e *engine, startedAt time.Time, leader func() bool) *server.Server {
	checks := map[string]handler.Check{}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Health
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	venues := make([]handler.VenueState, 0, len(deps.Venues))
	for _, v := range deps.Venues {
		venues = append(venues, v)
	}

	var live handler.LiveTrades
	if e.coordinator != nil {
		live = e.coordinator
	}

	stats := map[string]func() any{
		"detector": func() any { return e.detector.Stats() },
		"trend":    func() any { return map[string]int{"keys": e.trend.Len()} },
	}
	stats["telemetry"] = func() any {
		return map[string]any{
			"dropped": e.dispatcher.Dropped(),
			"pending": e.dispatcher.Pending(),
		}
	}
	if e.coordinator != nil {
		stats["coordinator"] = func() any { return e.coordinator.Stats() }
	}
	if e.hub != nil {
		stats["ws"] = func() any {
			return map[string]any{"clients": e.hub.Clients(), "dropped": e.hub.Dropped()}
		}
	}
	if e.queue != nil {
		stats["queue"] = func() any { return map[string]int{"depth": e.queue.Len()} }
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, startedAt, a.cfg.Engine.Symbols, venues, leader),
		Risk:    handler.NewRiskHandler(e.gate, a.logger),
		Trades:  handler.NewTradeHandler(live, deps.TradeStore, a.logger),
		Signals: handler.NewSignalHandler(deps.SignalStore, e.recent, a.logger),
		Quotes:  handler.NewQuoteHandler(e.cache, deps.QuoteMirror, a.logger),
		Stats:   handler.NewStatsHandler(stats),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, e.hub, deps.RateLimiter, a.logger)
}
