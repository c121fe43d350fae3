package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StaleReaper fails in-flight jobs that stopped reporting progress
type StaleReaper interface {
	ReapStale(ctx context.Context, connectionID *uuid.UUID) (int, error)
}

// StaleJobReaper periodically releases sync slots held by crashed workers
type StaleJobReaper struct {
	reaper   StaleReaper
	logger   *logrus.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewStaleJobReaper creates a new stale job reaper
func NewStaleJobReaper(reaper StaleReaper, interval time.Duration, logger *logrus.Logger) *StaleJobReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaleJobReaper{
		reaper:   reaper,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the reaper until the context ends or Stop is called
func (j *StaleJobReaper) Start(ctx context.Context) {
	j.logger.WithField("interval", j.interval).Info("Stale job reaper started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.reap(ctx)

	for {
		select {
		case <-ticker.C:
			j.reap(ctx)
		case <-j.stopCh:
			j.logger.Info("Stale job reaper stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Stale job reaper context cancelled")
			return
		}
	}
}

// Stop signals the reaper to stop
func (j *StaleJobReaper) Stop() {
	close(j.stopCh)
}

func (j *StaleJobReaper) reap(ctx context.Context) int {
	n, err := j.reaper.ReapStale(ctx, nil)
	if err != nil {
		j.logger.WithError(err).Error("Failed to reap stale sync jobs")
		return 0
	}
	if n > 0 {
		j.logger.Infof("Failed %d stale sync jobs", n)
	}
	return n
}
