package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntityType represents the type of catalog entity being mapped
type EntityType string

const (
	EntityProduct EntityType = "product"
	EntityVariant EntityType = "variant"
)

// MatchType represents how the mapping was established
type MatchType string

const (
	MatchTypeSKU     MatchType = "sku"
	MatchTypeBarcode MatchType = "barcode"
	MatchTypeCreated MatchType = "created"
)

// ExternalIdentifierMapping links a catalog entity to the provider record it was synced from.
// Re-syncs resolve through it first, so the same external record never creates a second entity.
type ExternalIdentifierMapping struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BrandID      string     `gorm:"type:varchar(255);not null;index:idx_external_ids_brand" json:"brandId"`
	ConnectionID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uq_external_ids_connection_entity" json:"connectionId"`
	EntityType   EntityType `gorm:"type:varchar(20);not null;uniqueIndex:uq_external_ids_connection_entity" json:"entityType"`
	ExternalID   string     `gorm:"type:varchar(255);not null;uniqueIndex:uq_external_ids_connection_entity" json:"externalId"`
	InternalID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_external_ids_internal" json:"internalId"`

	MatchType    MatchType  `gorm:"type:varchar(20);not null" json:"matchType"`
	MatchValue   string     `gorm:"type:varchar(255)" json:"matchValue,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for ExternalIdentifierMapping
func (ExternalIdentifierMapping) TableName() string {
	return "external_identifier_mappings"
}

// BeforeCreate assigns an id when the caller did not
func (m *ExternalIdentifierMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
