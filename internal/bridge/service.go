package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tunnel/internal/dispatcher"
	"tunnel/pkg/changestream"
	"tunnel/pkg/logger"
	"tunnel/pkg/metrics"
	"tunnel/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline connects one table's source to its dispatcher
type Pipeline struct {
	Source     changestream.Source
	Dispatcher *dispatcher.Dispatcher
}

// Service coordinates the per-table pipelines
type Service struct {
	logger    *logger.Logger
	pipelines []Pipeline
	retryOpts retry.RetryOptions
	onReady   func(bool)

	readyMu sync.Mutex
	stopped bool
}

// NewService creates a new bridge service. onReady is told when every
// pipeline is watching and again when the service stops; it may be nil.
func NewService(l *logger.Logger, pipelines []Pipeline, onReady func(bool)) *Service {
	if onReady == nil {
		onReady = func(bool) {}
	}
	return &Service{
		logger:    l,
		pipelines: pipelines,
		retryOpts: retry.Checkpoint(),
		onReady:   onReady,
	}
}

// Start runs every pipeline until ctx ends or a source fails. A canceled
// context is a clean stop and returns nil.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting bridge service", zap.Int("pipelines", len(s.pipelines)))

	s.readyMu.Lock()
	s.stopped = false
	s.readyMu.Unlock()

	// Ensure cleanup on return
	defer func() {
		s.markStopped()
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Error("error during service stop", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	var watching sync.WaitGroup
	watching.Add(len(s.pipelines))
	for _, p := range s.pipelines {
		p := p
		g.Go(func() error {
			return s.run(gctx, p, watching.Done)
		})
	}

	go func() {
		watching.Wait()
		if gctx.Err() == nil {
			s.markReady()
		}
	}()

	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// markReady reports readiness unless the service already stopped
func (s *Service) markReady() {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.stopped {
		return
	}
	s.logger.Info("all pipelines watching")
	s.onReady(true)
}

func (s *Service) markStopped() {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	s.stopped = true
	s.onReady(false)
}

func (s *Service) run(ctx context.Context, p Pipeline, started func()) error {
	table := p.Dispatcher.Table()

	// 1. Start watching
	batchChan, errChan := p.Source.Watch(ctx)
	started()

	// 2. Main batch loop
	for {
		select {
		case batch, ok := <-batchChan:
			if !ok {
				if errChan != nil {
					if err, ok := <-errChan; ok && err != nil {
						return fmt.Errorf("%s source error: %w", table, err)
					}
				}
				s.logger.Info("source closed", zap.String("table", table))
				return ctx.Err()
			}
			s.processBatch(ctx, p, batch)

		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("%s source error: %w", table, err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processBatch dispatches a batch, then commits its checkpoint. A failed
// commit is logged and counted; the next commit covers it.
func (s *Service) processBatch(ctx context.Context, p Pipeline, batch changestream.Batch) {
	table := p.Dispatcher.Table()

	// a. Dispatch records
	stats := p.Dispatcher.Process(batch.Records)

	// b. Commit checkpoint with retry
	err := retry.Do(ctx, func() error {
		return p.Source.Commit(ctx, batch)
	}, s.retryOpts)
	if err != nil {
		metrics.CheckpointErrorsTotal.WithLabelValues(table).Inc()
		s.logger.Error("failed to commit checkpoint", err, zap.String("table", table))
		return
	}

	s.logger.Debug("batch committed",
		zap.String("table", table),
		zap.Int("forwarded", stats.Forwarded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
}

// Stop closes every source
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("stopping bridge service")

	errs := []error{}
	for _, p := range s.pipelines {
		if err := p.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s source: %w", p.Dispatcher.Table(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
