package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"passport-sync-service/internal/models"
)

// CatalogRepositoryInterface defines the catalog writes a sync performs,
// together with the external identifier mappings that make them idempotent.
type CatalogRepositoryInterface interface {
	GetProduct(ctx context.Context, brandID string, id uuid.UUID) (*models.Product, error)
	GetVariant(ctx context.Context, brandID string, id uuid.UUID) (*models.Variant, error)
	FindVariantByIdentifier(ctx context.Context, brandID string, kind models.MatchIdentifier, value string) (*models.Variant, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	CreateVariant(ctx context.Context, variant *models.Variant) error
	UpdateProductFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateVariantFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	CountProducts(ctx context.Context, brandID string) (int64, error)

	FindMapping(ctx context.Context, connectionID uuid.UUID, entity models.EntityType, externalID string) (*models.ExternalIdentifierMapping, error)
	UpsertMapping(ctx context.Context, mapping *models.ExternalIdentifierMapping) error

	WithTransaction(ctx context.Context, fn func(repo CatalogRepositoryInterface) error) error
}

// CatalogRepository handles database operations for the brand catalog
type CatalogRepository struct {
	db *gorm.DB
}

var _ CatalogRepositoryInterface = (*CatalogRepository)(nil)

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct retrieves a product with its variants
func (r *CatalogRepository) GetProduct(ctx context.Context, brandID string, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Variants").
		Where("id = ? AND brand_id = ?", id, brandID).
		First(&product).Error
	if err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

// GetVariant retrieves a variant by ID
func (r *CatalogRepository) GetVariant(ctx context.Context, brandID string, id uuid.UUID) (*models.Variant, error) {
	var variant models.Variant
	err := r.db.WithContext(ctx).
		Where("id = ? AND brand_id = ?", id, brandID).
		First(&variant).Error
	if err != nil {
		return nil, translate(err)
	}
	return &variant, nil
}

// FindVariantByIdentifier retrieves the brand's variant carrying a SKU or barcode
func (r *CatalogRepository) FindVariantByIdentifier(ctx context.Context, brandID string, kind models.MatchIdentifier, value string) (*models.Variant, error) {
	column := "sku"
	if kind == models.MatchByBarcode {
		column = "barcode"
	}
	var variant models.Variant
	err := r.db.WithContext(ctx).
		Where("brand_id = ? AND "+column+" = ?", brandID, value).
		Order("created_at ASC").
		First(&variant).Error
	if err != nil {
		return nil, translate(err)
	}
	return &variant, nil
}

// CreateProduct creates a product without its variants
func (r *CatalogRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	return translate(r.db.WithContext(ctx).Omit("Variants").Create(product).Error)
}

// CreateVariant creates a variant
func (r *CatalogRepository) CreateVariant(ctx context.Context, variant *models.Variant) error {
	return translate(r.db.WithContext(ctx).Create(variant).Error)
}

// UpdateProductFields applies column updates to a product
func (r *CatalogRepository) UpdateProductFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(updates).Error)
}

// UpdateVariantFields applies column updates to a variant
func (r *CatalogRepository) UpdateVariantFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).
		Model(&models.Variant{}).
		Where("id = ?", id).
		Updates(updates).Error)
}

// CountProducts counts the brand's catalog products
func (r *CatalogRepository) CountProducts(ctx context.Context, brandID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("brand_id = ?", brandID).
		Count(&count).Error
	return count, err
}

// WithTransaction runs fn against a repository bound to a single transaction
func (r *CatalogRepository) WithTransaction(ctx context.Context, fn func(repo CatalogRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CatalogRepository{db: tx})
	})
}
