package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/artifact"
	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/repository"
)

// Sweeper reclaims output artifacts whose retention window has passed.
type Sweeper struct {
	store    *artifact.Store
	jobs     *repository.JobRepository
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper builds a retention sweeper over the ledger and the store.
func NewSweeper(store *artifact.Store, jobs *repository.JobRepository, ttl, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		jobs:     jobs,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Retention sweeper started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped.")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce removes every expired output namespace and marks its ledger row.
func (s *Sweeper) SweepOnce() {
	expired, err := s.jobs.ExpiredJobs(s.ttl)
	if err != nil {
		s.logger.Error("Failed to query expired jobs", zap.Error(err))
		return
	}

	for _, job := range expired {
		if err := s.store.DiscardOutput(job.ID); err != nil {
			s.logger.Warn("Failed to reap output namespace",
				zap.String("request_id", job.ID), zap.Error(err))
			continue
		}
		if err := s.jobs.MarkReaped(job.ID); err != nil {
			s.logger.Warn("Failed to mark job reaped",
				zap.String("request_id", job.ID), zap.Error(err))
		}
	}

	if len(expired) > 0 {
		s.logger.Info("Reaped expired output artifacts", zap.Int("count", len(expired)))
	}
}
