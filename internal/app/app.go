// Package app owns the engine lifecycle: it wires stores, caches, venues,
// telemetry and notifications from config, then runs the pipeline for the
// selected operating mode until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/arbengine/internal/config"
)

// App is the root application object. Resources registered during Run are
// released by Close in reverse order.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
	started time.Time
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// modeRunner returns the entry point for mode, or nil when it is unknown.
func (a *App) modeRunner(mode string) func(context.Context, *Dependencies) error {
	switch strings.ToLower(mode) {
	case config.ModeLive:
		return a.LiveMode
	case config.ModePaper:
		return a.PaperMode
	case config.ModeMonitor:
		return a.MonitorMode
	}
	return nil
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled and the engine has drained.
func (a *App) Run(ctx context.Context) error {
	run := a.modeRunner(a.cfg.Mode)
	if run == nil {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.started = time.Now()
	venues := a.cfg.EnabledVenues()
	names := make([]string, 0, len(venues))
	for _, v := range venues {
		names = append(names, v.Name)
	}
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("venues", names),
		slog.Any("symbols", a.cfg.Engine.Symbols),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(ctx, deps)
}

// Close releases resources in reverse registration order. Calling it again
// is a no-op.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.logger.Info("application stopped", slog.Duration("uptime", time.Since(a.started).Round(time.Second)))
}
