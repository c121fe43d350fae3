package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"passport-sync-service/internal/models"
)

// ConnectionRepositoryInterface defines the connection persistence operations
type ConnectionRepositoryInterface interface {
	Create(ctx context.Context, connection *models.BrandIntegrationConnection) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BrandIntegrationConnection, error)
	GetForBrand(ctx context.Context, brandID string, id uuid.UUID) (*models.BrandIntegrationConnection, error)
	GetActiveByBrandAndSlug(ctx context.Context, brandID string, slug models.ConnectorSlug) (*models.BrandIntegrationConnection, error)
	ListByBrand(ctx context.Context, brandID string) ([]models.BrandIntegrationConnection, error)
	ListByExternalAccount(ctx context.Context, slug models.ConnectorSlug, externalAccountID string) ([]models.BrandIntegrationConnection, error)
	ListSchedulable(ctx context.Context) ([]models.BrandIntegrationConnection, error)
	Update(ctx context.Context, connection *models.BrandIntegrationConnection) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, lastError string) error
	RecordSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordSyncFailure(ctx context.Context, id uuid.UUID, status *models.ConnectionStatus, lastError string) error
	RequestResync(ctx context.Context, id uuid.UUID, at time.Time) error
	ClaimResync(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteCascade(ctx context.Context, id uuid.UUID) error
}

// ConnectionRepository handles database operations for brand integration connections
type ConnectionRepository struct {
	db *gorm.DB
}

var _ ConnectionRepositoryInterface = (*ConnectionRepository)(nil)

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create creates a new connection.
// A second non-disconnected connection for the same brand and connector yields ErrDuplicate.
func (r *ConnectionRepository) Create(ctx context.Context, connection *models.BrandIntegrationConnection) error {
	return translate(r.db.WithContext(ctx).Create(connection).Error)
}

// GetByID retrieves a connection by ID
func (r *ConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BrandIntegrationConnection, error) {
	var connection models.BrandIntegrationConnection
	if err := r.db.WithContext(ctx).First(&connection, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &connection, nil
}

// GetForBrand retrieves a connection owned by the brand
func (r *ConnectionRepository) GetForBrand(ctx context.Context, brandID string, id uuid.UUID) (*models.BrandIntegrationConnection, error) {
	var connection models.BrandIntegrationConnection
	err := r.db.WithContext(ctx).
		Where("id = ? AND brand_id = ?", id, brandID).
		First(&connection).Error
	if err != nil {
		return nil, translate(err)
	}
	return &connection, nil
}

// GetActiveByBrandAndSlug retrieves the brand's non-disconnected connection for a connector
func (r *ConnectionRepository) GetActiveByBrandAndSlug(ctx context.Context, brandID string, slug models.ConnectorSlug) (*models.BrandIntegrationConnection, error) {
	var connection models.BrandIntegrationConnection
	err := r.db.WithContext(ctx).
		Where("brand_id = ? AND connector_slug = ? AND status <> ?", brandID, slug, models.ConnectionDisconnected).
		First(&connection).Error
	if err != nil {
		return nil, translate(err)
	}
	return &connection, nil
}

// ListByBrand retrieves all connections for a brand
func (r *ConnectionRepository) ListByBrand(ctx context.Context, brandID string) ([]models.BrandIntegrationConnection, error) {
	var connections []models.BrandIntegrationConnection
	err := r.db.WithContext(ctx).
		Where("brand_id = ?", brandID).
		Order("created_at DESC").
		Find(&connections).Error
	return connections, err
}

// ListByExternalAccount retrieves connections bound to a provider account
func (r *ConnectionRepository) ListByExternalAccount(ctx context.Context, slug models.ConnectorSlug, externalAccountID string) ([]models.BrandIntegrationConnection, error) {
	var connections []models.BrandIntegrationConnection
	err := r.db.WithContext(ctx).
		Where("connector_slug = ? AND external_account_id = ? AND status <> ?", slug, externalAccountID, models.ConnectionDisconnected).
		Find(&connections).Error
	return connections, err
}

// ListSchedulable retrieves active connections that have a sync interval
func (r *ConnectionRepository) ListSchedulable(ctx context.Context) ([]models.BrandIntegrationConnection, error) {
	var connections []models.BrandIntegrationConnection
	err := r.db.WithContext(ctx).
		Where("status = ? AND sync_interval_seconds > 0", models.ConnectionActive).
		Find(&connections).Error
	return connections, err
}

// Update updates an existing connection
func (r *ConnectionRepository) Update(ctx context.Context, connection *models.BrandIntegrationConnection) error {
	return translate(r.db.WithContext(ctx).Save(connection).Error)
}

// UpdateStatus updates the connection status
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, lastError string) error {
	updates := map[string]interface{}{
		"status":     status,
		"last_error": lastError,
		"updated_at": time.Now().UTC(),
	}
	result := r.db.WithContext(ctx).
		Model(&models.BrandIntegrationConnection{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSyncSuccess stamps last_sync_at and clears the error state
func (r *ConnectionRepository) RecordSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.BrandIntegrationConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_at": at,
			"last_error":   "",
			"error_count":  0,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// RequestResync flags the connection for a follow-up sync
func (r *ConnectionRepository) RequestResync(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.BrandIntegrationConnection{}).
		Where("id = ?", id).
		Update("resync_requested_at", at).Error
}

// ClaimResync clears the follow-up flag. It reports true only to the caller that cleared it.
func (r *ConnectionRepository) ClaimResync(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.BrandIntegrationConnection{}).
		Where("id = ? AND resync_requested_at IS NOT NULL", id).
		Update("resync_requested_at", nil)
	return result.RowsAffected > 0, result.Error
}

// RecordSyncFailure stores the failure and optionally moves the connection to a new status
func (r *ConnectionRepository) RecordSyncFailure(ctx context.Context, id uuid.UUID, status *models.ConnectionStatus, lastError string) error {
	updates := map[string]interface{}{
		"last_error":  lastError,
		"error_count": gorm.Expr("error_count + 1"),
		"updated_at":  time.Now().UTC(),
	}
	if status != nil {
		updates["status"] = *status
	}
	return r.db.WithContext(ctx).
		Model(&models.BrandIntegrationConnection{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeleteCascade removes a connection with its mappings, jobs, logs and external ids.
// Catalog entities are left in place.
func (r *ConnectionRepository) DeleteCascade(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobIDs := tx.Model(&models.SyncJob{}).Select("id").Where("connection_id = ?", id)
		if err := tx.Where("job_id IN (?)", jobIDs).Delete(&models.SyncLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.SyncJob{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.FieldOwnershipMapping{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.ExternalIdentifierMapping{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.BrandIntegrationConnection{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
