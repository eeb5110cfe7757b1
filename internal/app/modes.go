package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// LiveMode trades on real venue adapters.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	return a.runEngine(ctx, deps, true)
}

// PaperMode runs the full pipeline against simulated fills. Wire has already
// replaced every venue with a paper venue.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps, true)
}

// MonitorMode detects and records signals without executing them.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps, false)
}

// runEngine starts every engine goroutine and blocks until ctx is cancelled.
// Shutdown runs in order: ingestion stops, the signal queue closes, the
// Coordinator drains, then telemetry flushes. Stores and venues are closed
// by App.Close afterwards.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, execute bool) error {
	startedAt := time.Now().UTC()

	var leader atomic.Bool
	var lease domain.Lease
	if execute && deps.LockManager != nil {
		l, err := deps.LockManager.Acquire(ctx, a.cfg.Engine.LeaderLockKey, a.cfg.Engine.LeaderLockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another engine holds %q; start in monitor mode or stop it first: %w",
					a.cfg.Engine.LeaderLockKey, err)
			}
			return fmt.Errorf("app: acquire leader lease: %w", err)
		}
		lease = l
		defer lease.Release()
		a.logger.InfoContext(ctx, "leader lease acquired", slog.String("key", a.cfg.Engine.LeaderLockKey))
	}
	leader.Store(execute)

	e := buildEngine(a.cfg, deps, execute, startedAt, a.logger)

	// Telemetry outlives the errgroup so trades closed during drain are
	// still recorded.
	telemetryDone := make(chan error, 1)
	go func() { telemetryDone <- e.dispatcher.Run(context.WithoutCancel(ctx)) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := e.pipeline.Run(gctx)
		if e.queue != nil {
			if n := len(e.queue.Close()); n > 0 {
				a.logger.Info("discarded queued signals", slog.Int("count", n))
			}
		}
		return err
	})

	if e.coordinator != nil {
		g.Go(func() error {
			return e.coordinator.Run(gctx, e.queue)
		})
	}

	if e.balances != nil {
		g.Go(func() error {
			return e.balances.Run(gctx)
		})
	}

	if lease != nil {
		g.Go(func() error {
			err := a.holdLease(gctx, lease)
			leader.Store(false)
			return err
		})
	}

	if e.archiver != nil {
		g.Go(func() error {
			return e.archiver.Run(gctx)
		})
	}

	if e.hub != nil {
		g.Go(func() error {
			return e.hub.Run(gctx)
		})
	}

	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, e, startedAt, leader.Load)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err := g.Wait()

	if cerr := e.dispatcher.Close(); cerr != nil {
		a.logger.Error("telemetry flush failed", slog.String("error", cerr.Error()))
	}
	<-telemetryDone
	if e.archiver != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if ferr := e.archiver.Flush(flushCtx); ferr != nil {
			a.logger.Error("final archive flush failed", slog.String("error", ferr.Error()))
		}
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// holdLease refreshes lease every third of its TTL. Losing the lease stops
// the engine so a second instance cannot trade alongside this one.
func (a *App) holdLease(ctx context.Context, lease domain.Lease) error {
	interval := a.cfg.Engine.LeaderLockTTL.Duration / 3
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, domain.ErrLockLost) {
					a.logger.Error("leader lease lost")
					return fmt.Errorf("app: leader lease: %w", err)
				}
				a.logger.Warn("leader lease refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// publishJSON marshals v and publishes it on channel.
func publishJSON(ctx context.Context, bus domain.SignalBus, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	return bus.Publish(ctx, channel, payload)
}
