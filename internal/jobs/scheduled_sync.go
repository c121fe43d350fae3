package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/models"
	"passport-sync-service/internal/services"
)

// SchedulableLister lists connections that have a sync interval
type SchedulableLister interface {
	ListSchedulable(ctx context.Context) ([]models.BrandIntegrationConnection, error)
}

// SyncTrigger starts a sync for a connection
type SyncTrigger interface {
	TriggerSync(ctx context.Context, brandID string, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error)
}

// ScheduledSyncJob triggers syncs for connections whose interval has elapsed.
// Every instance may run it; the job row admits one trigger per connection.
type ScheduledSyncJob struct {
	connections SchedulableLister
	syncs       SyncTrigger
	logger      *logrus.Logger
	interval    time.Duration
	now         func() time.Time
	stopCh      chan struct{}
}

// NewScheduledSyncJob creates a new scheduled sync job
func NewScheduledSyncJob(connections SchedulableLister, syncs SyncTrigger, interval time.Duration, logger *logrus.Logger) *ScheduledSyncJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScheduledSyncJob{
		connections: connections,
		syncs:       syncs,
		logger:      logger,
		interval:    interval,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the scheduler until the context ends or Stop is called
func (j *ScheduledSyncJob) Start(ctx context.Context) {
	j.logger.WithField("interval", j.interval).Info("Scheduled sync job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.runDue(ctx)
		case <-j.stopCh:
			j.logger.Info("Scheduled sync job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Scheduled sync job context cancelled")
			return
		}
	}
}

// Stop signals the scheduler to stop
func (j *ScheduledSyncJob) Stop() {
	close(j.stopCh)
}

// runDue triggers every due connection and returns how many jobs were started
func (j *ScheduledSyncJob) runDue(ctx context.Context) int {
	conns, err := j.connections.ListSchedulable(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Failed to list schedulable connections")
		return 0
	}

	now := j.now().UTC()
	started := 0
	for i := range conns {
		conn := &conns[i]
		if !conn.SyncDue(now) {
			continue
		}
		job, err := j.syncs.TriggerSync(ctx, conn.BrandID, conn.ID, models.TriggerScheduled)
		if err != nil {
			entry := j.logger.WithError(err).WithField("connection_id", conn.ID)
			if services.IsTriggerRejection(err) {
				entry.Debug("Scheduled sync skipped")
			} else {
				entry.Error("Failed to trigger scheduled sync")
			}
			continue
		}
		started++
		j.logger.WithFields(logrus.Fields{
			"job_id":        job.ID,
			"connection_id": conn.ID,
			"brand_id":      conn.BrandID,
		}).Info("Scheduled sync triggered")
	}
	return started
}
