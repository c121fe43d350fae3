package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"passport-sync-service/internal/models"
)

// FindMapping retrieves the mapping of an external record to a catalog entity
func (r *CatalogRepository) FindMapping(ctx context.Context, connectionID uuid.UUID, entity models.EntityType, externalID string) (*models.ExternalIdentifierMapping, error) {
	var mapping models.ExternalIdentifierMapping
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND entity_type = ? AND external_id = ?", connectionID, entity, externalID).
		First(&mapping).Error
	if err != nil {
		return nil, translate(err)
	}
	return &mapping, nil
}

// UpsertMapping creates or refreshes a mapping keyed by (connection, entity type, external id)
func (r *CatalogRepository) UpsertMapping(ctx context.Context, mapping *models.ExternalIdentifierMapping) error {
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	now := time.Now().UTC()
	mapping.LastSyncedAt = &now
	mapping.UpdatedAt = now
	return translate(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "connection_id"}, {Name: "entity_type"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"internal_id", "match_type", "match_value", "last_synced_at", "updated_at",
			}),
		}).
		Create(mapping).Error)
}
