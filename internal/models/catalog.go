package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CatalogStatus represents the sales status of a catalog product
type CatalogStatus string

const (
	CatalogStatusActive   CatalogStatus = "active"
	CatalogStatusDraft    CatalogStatus = "draft"
	CatalogStatusArchived CatalogStatus = "archived"
)

// Product is a brand's catalog product, the target entity of a sync
type Product struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BrandID string    `gorm:"type:varchar(255);not null;index:idx_products_brand" json:"brandId"`

	Name        string           `gorm:"type:varchar(500);not null" json:"name"`
	Description *string          `gorm:"type:text" json:"description,omitempty"`
	Category    *string          `gorm:"type:varchar(255)" json:"category,omitempty"`
	ImageURL    *string          `gorm:"type:varchar(1000)" json:"imageUrl,omitempty"`
	Tags        *string          `gorm:"type:text" json:"tags,omitempty"`
	Status      CatalogStatus    `gorm:"type:varchar(20);not null;default:'draft'" json:"status"`
	Price       *decimal.Decimal `gorm:"type:decimal(12,2)" json:"price,omitempty"`
	Currency    *string          `gorm:"type:varchar(3)" json:"currency,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Variants []Variant `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
}

// TableName specifies the table name for Product
func (Product) TableName() string {
	return "catalog_products"
}

// BeforeCreate assigns an id when the caller did not
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Variant is a SKU-level record of a catalog product
type Variant struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BrandID   string    `gorm:"type:varchar(255);not null;index:idx_variants_brand_sku,priority:1;index:idx_variants_brand_barcode,priority:1" json:"brandId"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index:idx_variants_product" json:"productId"`

	SKU     *string `gorm:"type:varchar(255);index:idx_variants_brand_sku,priority:2" json:"sku,omitempty"`
	Barcode *string `gorm:"type:varchar(50);index:idx_variants_brand_barcode,priority:2" json:"barcode,omitempty"`
	Color   *string `gorm:"type:varchar(100)" json:"color,omitempty"`
	Size    *string `gorm:"type:varchar(100)" json:"size,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Variant
func (Variant) TableName() string {
	return "catalog_variants"
}

// BeforeCreate assigns an id when the caller did not
func (v *Variant) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
