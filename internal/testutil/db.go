// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"passport-sync-service/internal/database"
	"passport-sync-service/internal/models"
)

// NewSQLiteDB opens a migrated in-memory database private to the test
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	url := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Connect(url, "test")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SeedConnection inserts an active connection for the brand
func SeedConnection(t testing.TB, db *gorm.DB, brandID string, slug models.ConnectorSlug) *models.BrandIntegrationConnection {
	t.Helper()

	conn := &models.BrandIntegrationConnection{
		BrandID:           brandID,
		ConnectorSlug:     slug,
		ExternalAccountID: "acct-" + uuid.NewString()[:8],
		CredentialRef:     "ref-" + uuid.NewString(),
		Status:            models.ConnectionActive,
		MatchIdentifier:   models.MatchBySKU,
	}
	require.NoError(t, db.Create(conn).Error)
	return conn
}
