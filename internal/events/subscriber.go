package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/models"
)

const (
	SubjectSyncRequested = "sync.requested"
	SubjectBrandDeleted  = "brand.deleted"
)

// SyncRequestedEvent asks the service to sync one connection
type SyncRequestedEvent struct {
	EventType    string    `json:"event_type"`
	BrandID      string    `json:"brand_id"`
	ConnectionID string    `json:"connection_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// BrandDeletedEvent is published by the platform when a brand is removed
type BrandDeletedEvent struct {
	EventType string    `json:"event_type"`
	BrandID   string    `json:"brand_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncTrigger starts syncs on behalf of inbound events
type SyncTrigger interface {
	TriggerSync(ctx context.Context, brandID string, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error)
}

// BrandDisconnector removes every connection of a brand
type BrandDisconnector interface {
	DisconnectBrand(ctx context.Context, brandID string) (int, error)
}

// Subscriber handles inbound NATS events for the sync service
type Subscriber struct {
	conn         *nats.Conn
	syncs        SyncTrigger
	disconnector BrandDisconnector
	ignore       func(error) bool
	logger       *logrus.Entry
}

// NewSubscriber connects to NATS.
// ignore reports errors that are expected outcomes (for example a sync already in flight).
func NewSubscriber(natsURL string, syncs SyncTrigger, disconnector BrandDisconnector, ignore func(error) bool, logger *logrus.Logger) (*Subscriber, error) {
	if natsURL == "" {
		return nil, fmt.Errorf("NATS_URL not set")
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("passport-sync-service-subscriber"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Subscriber{
		conn:         conn,
		syncs:        syncs,
		disconnector: disconnector,
		ignore:       ignore,
		logger:       logger.WithField("component", "events.subscriber"),
	}, nil
}

// Start begins listening for events
func (s *Subscriber) Start() error {
	if _, err := s.conn.QueueSubscribe(SubjectSyncRequested, "passport-sync-service", func(msg *nats.Msg) {
		s.handleSyncRequested(msg.Data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectSyncRequested, err)
	}

	if _, err := s.conn.QueueSubscribe(SubjectBrandDeleted, "passport-sync-service", func(msg *nats.Msg) {
		s.handleBrandDeleted(msg.Data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectBrandDeleted, err)
	}

	s.logger.Info("Subscribed to sync.requested and brand.deleted events")
	return nil
}

func (s *Subscriber) handleSyncRequested(data []byte) {
	var event SyncRequestedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.WithError(err).Error("Failed to unmarshal sync.requested event")
		return
	}

	connectionID, err := uuid.Parse(event.ConnectionID)
	if err != nil || event.BrandID == "" {
		s.logger.WithField("connection_id", event.ConnectionID).Warn("Invalid sync.requested event, skipping")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := s.syncs.TriggerSync(ctx, event.BrandID, connectionID, models.TriggerManual)
	if err != nil {
		if s.ignore != nil && s.ignore(err) {
			s.logger.WithError(err).WithField("connection_id", connectionID).Debug("Requested sync not started")
			return
		}
		s.logger.WithError(err).WithField("connection_id", connectionID).Error("Failed to trigger requested sync")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"brand_id":      event.BrandID,
		"connection_id": connectionID,
		"job_id":        job.ID,
	}).Info("Triggered sync from event")
}

func (s *Subscriber) handleBrandDeleted(data []byte) {
	var event BrandDeletedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.WithError(err).Error("Failed to unmarshal brand.deleted event")
		return
	}
	if event.BrandID == "" {
		s.logger.Warn("No brand_id in brand.deleted event, skipping")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.disconnector.DisconnectBrand(ctx, event.BrandID)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).WithField("brand_id", event.BrandID).Error("Failed to disconnect brand connections")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"brand_id": event.BrandID,
		"removed":  removed,
	}).Info("Disconnected connections of deleted brand")
}

// Close drains the subscription connection
func (s *Subscriber) Close() {
	if s != nil && s.conn != nil {
		_ = s.conn.Drain()
	}
}
