package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FieldOwnershipMapping records whether a connection owns a catalog field.
// One row per (connection, field key).
type FieldOwnershipMapping struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConnectionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_field_mappings_connection_field" json:"connectionId"`
	BrandID      string    `gorm:"type:varchar(255);not null;index:idx_field_mappings_brand_field" json:"brandId"`
	FieldKey     string    `gorm:"type:varchar(100);not null;uniqueIndex:uq_field_mappings_connection_field;index:idx_field_mappings_brand_field" json:"fieldKey"`
	Enabled      bool      `gorm:"not null;default:false" json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for FieldOwnershipMapping
func (FieldOwnershipMapping) TableName() string {
	return "field_ownership_mappings"
}

// BeforeCreate assigns an id when the caller did not
func (m *FieldOwnershipMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
