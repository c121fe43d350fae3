package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"passport-sync-service/internal/models"
)

// FieldMappingRepositoryInterface defines field ownership persistence operations
type FieldMappingRepositoryInterface interface {
	ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]models.FieldOwnershipMapping, error)
	Upsert(ctx context.Context, mappings []models.FieldOwnershipMapping) error
	DisableOnOtherConnections(ctx context.Context, brandID string, connectionID uuid.UUID, fieldKeys []string) (int64, error)
	WithTransaction(ctx context.Context, fn func(repo FieldMappingRepositoryInterface) error) error
}

// FieldMappingRepository handles database operations for field ownership mappings
type FieldMappingRepository struct {
	db *gorm.DB
}

var _ FieldMappingRepositoryInterface = (*FieldMappingRepository)(nil)

// NewFieldMappingRepository creates a new field mapping repository
func NewFieldMappingRepository(db *gorm.DB) *FieldMappingRepository {
	return &FieldMappingRepository{db: db}
}

// ListByConnection retrieves all mapping rows of a connection ordered by key
func (r *FieldMappingRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]models.FieldOwnershipMapping, error) {
	var mappings []models.FieldOwnershipMapping
	err := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("field_key ASC").
		Find(&mappings).Error
	return mappings, err
}

// Upsert writes mapping rows keyed by (connection_id, field_key)
func (r *FieldMappingRepository) Upsert(ctx context.Context, mappings []models.FieldOwnershipMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range mappings {
		if mappings[i].ID == uuid.Nil {
			mappings[i].ID = uuid.New()
		}
		mappings[i].UpdatedAt = now
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "connection_id"}, {Name: "field_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).
		Create(&mappings).Error
}

// DisableOnOtherConnections turns the given fields off on every other connection of the brand
func (r *FieldMappingRepository) DisableOnOtherConnections(ctx context.Context, brandID string, connectionID uuid.UUID, fieldKeys []string) (int64, error) {
	if len(fieldKeys) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.FieldOwnershipMapping{}).
		Where("brand_id = ? AND connection_id <> ? AND field_key IN ? AND enabled = ?", brandID, connectionID, fieldKeys, true).
		Updates(map[string]interface{}{
			"enabled":    false,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// WithTransaction runs fn against a repository bound to a single transaction
func (r *FieldMappingRepository) WithTransaction(ctx context.Context, fn func(repo FieldMappingRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&FieldMappingRepository{db: tx})
	})
}
