package events

import (
	"context"
	"time"

	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/models"
)

const (
	StreamName = "SYNC_EVENTS"

	SubjectSyncStarted   = "sync.started"
	SubjectSyncCompleted = "sync.completed"
	SubjectSyncFailed    = "sync.failed"
	SubjectSyncCancelled = "sync.cancelled"
)

// SyncEvent is the lifecycle event of a sync job
type SyncEvent struct {
	events.BaseEvent
	JobID             string              `json:"jobId"`
	ConnectionID      string              `json:"connectionId"`
	ConnectorSlug     string              `json:"connectorSlug"`
	Status            string              `json:"status"`
	Trigger           string              `json:"trigger,omitempty"`
	ProductsProcessed int                 `json:"productsProcessed"`
	ProductsTotal     *int                `json:"productsTotal,omitempty"`
	Summary           *models.SyncSummary `json:"summary,omitempty"`
	ErrorSummary      string              `json:"errorSummary,omitempty"`
}

// GetSubject returns the NATS subject for this event
func (e *SyncEvent) GetSubject() string { return e.EventType }

// GetStream returns the JetStream stream name
func (e *SyncEvent) GetStream() string { return StreamName }

// Publisher publishes sync lifecycle events to NATS JetStream
type Publisher struct {
	publisher *events.Publisher
	logger    *logrus.Entry
}

// NewPublisher connects to NATS and ensures the sync stream exists
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	config := events.DefaultPublisherConfig(natsURL)
	config.Name = "passport-sync-service"

	publisher, err := events.NewPublisher(config, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := publisher.EnsureStream(ctx, StreamName, []string{"sync.>"}); err != nil {
		logger.WithError(err).Warn("Failed to ensure SYNC_EVENTS stream")
	}

	return &Publisher{
		publisher: publisher,
		logger:    logger.WithField("component", "events.publisher"),
	}, nil
}

// PublishSyncStarted announces that a job began running
func (p *Publisher) PublishSyncStarted(ctx context.Context, conn *models.BrandIntegrationConnection, job *models.SyncJob) error {
	return p.publish(ctx, SubjectSyncStarted, conn, job)
}

// PublishSyncFinished announces a job's terminal status
func (p *Publisher) PublishSyncFinished(ctx context.Context, conn *models.BrandIntegrationConnection, job *models.SyncJob) error {
	subject := SubjectSyncCompleted
	switch job.Status {
	case models.SyncStatusFailed:
		subject = SubjectSyncFailed
	case models.SyncStatusCancelled:
		subject = SubjectSyncCancelled
	}
	return p.publish(ctx, subject, conn, job)
}

func (p *Publisher) publish(ctx context.Context, subject string, conn *models.BrandIntegrationConnection, job *models.SyncJob) error {
	if p == nil || p.publisher == nil {
		return nil
	}

	summary := job.Summary
	event := &SyncEvent{
		BaseEvent: events.BaseEvent{
			EventType: subject,
			TenantID:  job.BrandID,
			SourceID:  job.ID.String(),
			Timestamp: time.Now().UTC(),
		},
		JobID:             job.ID.String(),
		ConnectionID:      job.ConnectionID.String(),
		ConnectorSlug:     string(conn.ConnectorSlug),
		Status:            string(job.Status),
		Trigger:           string(job.Trigger),
		ProductsProcessed: job.ProductsProcessed,
		ProductsTotal:     job.ProductsTotal,
		Summary:           &summary,
	}
	if job.ErrorSummary != nil {
		event.ErrorSummary = *job.ErrorSummary
	}

	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":  job.ID,
			"subject": subject,
		}).Error("Failed to publish sync event")
		return err
	}
	return nil
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p != nil && p.publisher != nil && p.publisher.IsConnected()
}

// Close closes the publisher connection
func (p *Publisher) Close() {
	if p != nil && p.publisher != nil {
		p.publisher.Close()
	}
}
