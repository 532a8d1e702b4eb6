package escrow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the auto-release sweep on a fixed interval.
type Scheduler struct {
	service   *Service
	every     time.Duration
	holdHours int
	batchSize int
	logger    *zap.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewScheduler builds a sweep scheduler. It does nothing until Start.
func NewScheduler(service *Service, every time.Duration, holdHours, batchSize int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		service:   service,
		every:     every,
		holdHours: holdHours,
		batchSize: batchSize,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the ticker loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()

		s.logger.Info("auto release scheduler started",
			zap.Duration("every", s.every),
			zap.Int("hold_hours", s.holdHours),
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce executes a single sweep and logs the summary. Exposed so tests
// and operators can trigger a pass without waiting for the ticker.
func (s *Scheduler) RunOnce(ctx context.Context) SweepResult {
	result, err := s.service.AutoReleaseEligible(ctx, s.holdHours, s.batchSize)
	if err != nil {
		s.logger.Error("auto release sweep failed", zap.Error(err))
		return SweepResult{}
	}
	s.logger.Info("auto release sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("released", result.Released),
		zap.Int("failed", len(result.Failed)),
	)
	return result
}

// Stop halts the ticker loop and waits for it to exit. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
