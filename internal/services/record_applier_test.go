package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-sync-service/internal/models"
)

// seedCatalogVariant stores a product the brand created by hand, with no
// mapping to any provider record
func seedCatalogVariant(t *testing.T, h *syncHarness, variant models.Variant) *models.Product {
	t.Helper()
	ctx := context.Background()

	product := &models.Product{BrandID: testBrand, Name: "Hand-made listing", Status: models.CatalogStatusActive}
	require.NoError(t, h.catalog.CreateProduct(ctx, product))
	variant.BrandID = testBrand
	variant.ProductID = product.ID
	require.NoError(t, h.catalog.CreateVariant(ctx, &variant))
	return product
}

func TestTriggerSync_MatchesExistingCatalogBySKU(t *testing.T) {
	h := newSyncHarness(t, &fakeProvider{products: makeProducts(2)}, testSyncConfig())
	h.ownEverything(t)
	sku := "SKU-0"
	existing := seedCatalogVariant(t, h, models.Variant{SKU: &sku})
	ctx := context.Background()

	job := h.runSync(t)
	require.Equal(t, models.SyncStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Summary.Created)
	assert.Equal(t, 1, job.Summary.Updated)

	count, err := h.catalog.CountProducts(ctx, testBrand)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	product, err := h.catalog.GetProduct(ctx, testBrand, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Product 0", product.Name)

	mapping, err := h.catalog.FindMapping(ctx, h.conn.ID, models.EntityProduct, "p-0")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, mapping.InternalID)
	assert.Equal(t, models.MatchTypeSKU, mapping.MatchType)
	assert.Equal(t, "SKU-0", mapping.MatchValue)

	again := h.runSync(t)
	assert.Equal(t, models.SyncSummary{}, again.Summary)
	count, err = h.catalog.CountProducts(ctx, testBrand)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTriggerSync_MatchesExistingCatalogByBarcode(t *testing.T) {
	products := makeProducts(2)
	for i := range products {
		products[i].Variants[0].Barcode = fmt.Sprintf("BC-%d", i)
	}
	h := newSyncHarness(t, &fakeProvider{products: products}, testSyncConfig())
	require.NoError(t, h.db.Model(&models.BrandIntegrationConnection{}).
		Where("id = ?", h.conn.ID).
		Update("match_identifier", models.MatchByBarcode).Error)
	h.conn.MatchIdentifier = models.MatchByBarcode
	h.ownEverything(t)

	// a matching SKU alone must not link products when matching by barcode
	barcode := "BC-0"
	decoy := "SKU-1"
	existing := seedCatalogVariant(t, h, models.Variant{Barcode: &barcode})
	seedCatalogVariant(t, h, models.Variant{SKU: &decoy})
	ctx := context.Background()

	job := h.runSync(t)
	require.Equal(t, models.SyncStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Summary.Created)
	assert.Equal(t, 1, job.Summary.Updated)

	count, err := h.catalog.CountProducts(ctx, testBrand)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	mapping, err := h.catalog.FindMapping(ctx, h.conn.ID, models.EntityProduct, "p-0")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, mapping.InternalID)
	assert.Equal(t, models.MatchTypeBarcode, mapping.MatchType)
	assert.Equal(t, "BC-0", mapping.MatchValue)

	variant, err := h.catalog.FindVariantByIdentifier(ctx, testBrand, models.MatchByBarcode, "BC-1")
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, variant.ProductID)
}
