package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived pipeline task.
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator runs one Ingestor per venue alongside the quote batcher and
// the cleanup task.
type Orchestrator struct {
	ingestors []*Ingestor
	batcher   Runner
	cleanup   Runner
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. batcher and cleanup may be nil.
func NewOrchestrator(ingestors []*Ingestor, batcher, cleanup Runner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		ingestors: ingestors,
		batcher:   batcher,
		cleanup:   cleanup,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every task in an errgroup and blocks until ctx is cancelled or
// a task fails. The batcher is given its own context so it performs its
// final flush only after every ingestor has returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting", slog.Int("venues", len(o.ingestors)))

	batchCtx, stopBatcher := context.WithCancel(context.WithoutCancel(ctx))
	batchDone := make(chan error, 1)
	if o.batcher != nil {
		go func() { batchDone <- o.batcher.Run(batchCtx) }()
	} else {
		batchDone <- nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range o.ingestors {
		g.Go(func() error {
			if err := in.Run(gctx); err != nil {
				return fmt.Errorf("ingestor %s: %w", in.venue.Name(), err)
			}
			return nil
		})
	}
	if o.cleanup != nil {
		g.Go(func() error {
			if err := o.cleanup.Run(gctx); err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	stopBatcher()
	if berr := <-batchDone; berr != nil && err == nil {
		err = fmt.Errorf("quote batcher: %w", berr)
	}

	if err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped cleanly")
	return nil
}
