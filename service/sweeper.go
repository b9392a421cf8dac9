package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweepable is anything that can remove expired polls.
type Sweepable interface {
	Sweep(ctx context.Context) (int64, error)
}

// Sweeper 定时清理过期投票
type Sweeper struct {
	target   Sweepable
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper 创建清理任务，interval<=0 时使用一分钟
func NewSweeper(target Sweepable, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{target: target, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.target.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}
}
