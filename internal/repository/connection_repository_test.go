package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-sync-service/internal/models"
	"passport-sync-service/internal/testutil"
)

func TestConnectionRepository_OneLiveConnectionPerBrandAndConnector(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewConnectionRepository(db)
	ctx := context.Background()

	first := &models.BrandIntegrationConnection{BrandID: "brand-1", ConnectorSlug: models.ConnectorShopify, ExternalAccountID: "a.myshopify.com", Status: models.ConnectionActive, MatchIdentifier: models.MatchBySKU}
	require.NoError(t, repo.Create(ctx, first))

	second := &models.BrandIntegrationConnection{BrandID: "brand-1", ConnectorSlug: models.ConnectorShopify, ExternalAccountID: "b.myshopify.com", Status: models.ConnectionPending, MatchIdentifier: models.MatchBySKU}
	assert.ErrorIs(t, repo.Create(ctx, second), ErrDuplicate)

	// other brands and other connectors are unaffected
	other := &models.BrandIntegrationConnection{BrandID: "brand-2", ConnectorSlug: models.ConnectorShopify, ExternalAccountID: "a.myshopify.com", Status: models.ConnectionActive, MatchIdentifier: models.MatchBySKU}
	require.NoError(t, repo.Create(ctx, other))

	// a disconnected row no longer holds the slot
	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.ConnectionDisconnected, ""))
	second.ID = uuid.Nil
	assert.NoError(t, repo.Create(ctx, second))
}

func TestConnectionRepository_GetForBrandScopesByBrand(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewConnectionRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	got, err := repo.GetForBrand(ctx, "brand-1", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, got.ID)

	_, err = repo.GetForBrand(ctx, "brand-2", conn.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectionRepository_RecordSyncOutcome(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewConnectionRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	errStatus := models.ConnectionError
	require.NoError(t, repo.RecordSyncFailure(ctx, conn.ID, &errStatus, "unauthorized"))
	require.NoError(t, repo.RecordSyncFailure(ctx, conn.ID, nil, "timeout"))

	got, err := repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionError, got.Status)
	assert.Equal(t, 2, got.ErrorCount)
	assert.Equal(t, "timeout", got.LastError)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.RecordSyncSuccess(ctx, conn.ID, at))
	got, err = repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ErrorCount)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, at.Equal(got.LastSyncAt.UTC()))
}

func TestConnectionRepository_ResyncFlagIsClaimedOnce(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewConnectionRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	claimed, err := repo.ClaimResync(ctx, conn.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, repo.RequestResync(ctx, conn.ID, time.Now().UTC()))
	stored, err := repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ResyncRequestedAt)

	claimed, err = repo.ClaimResync(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.ClaimResync(ctx, conn.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	stored, err = repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResyncRequestedAt)
}

func TestConnectionRepository_DeleteCascadeKeepsCatalog(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewConnectionRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	job := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusCompleted}
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, db.Create(&models.SyncLog{JobID: job.ID, Level: models.LogLevelInfo, Message: "done"}).Error)
	require.NoError(t, db.Create(&models.FieldOwnershipMapping{ConnectionID: conn.ID, BrandID: conn.BrandID, FieldKey: "product.name", Enabled: true}).Error)

	product := &models.Product{BrandID: conn.BrandID, Name: "Jacket", Status: models.CatalogStatusActive}
	require.NoError(t, db.Create(product).Error)
	require.NoError(t, db.Create(&models.ExternalIdentifierMapping{
		BrandID:      conn.BrandID,
		ConnectionID: conn.ID,
		EntityType:   models.EntityProduct,
		ExternalID:   "1",
		InternalID:   product.ID,
		MatchType:    models.MatchTypeCreated,
	}).Error)

	require.NoError(t, repo.DeleteCascade(ctx, conn.ID))

	var count int64
	db.Model(&models.SyncJob{}).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.SyncLog{}).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.FieldOwnershipMapping{}).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.ExternalIdentifierMapping{}).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.Product{}).Count(&count)
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, repo.DeleteCascade(ctx, conn.ID), ErrNotFound)
}
