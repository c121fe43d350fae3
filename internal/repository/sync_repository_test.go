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

func TestSyncRepository_SecondInFlightJobIsDuplicate(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSyncRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	first := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusPending, Trigger: models.TriggerManual}
	require.NoError(t, repo.Create(ctx, first))

	second := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusPending, Trigger: models.TriggerManual}
	err := repo.Create(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicate)

	// a terminal job releases the slot
	ok, err := repo.Finish(ctx, first.ID, FinishResult{Status: models.SyncStatusCompleted, FinishedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.True(t, ok)

	third := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusPending, Trigger: models.TriggerManual}
	assert.NoError(t, repo.Create(ctx, third))
}

func TestSyncRepository_ConditionalTransitions(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSyncRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	job := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusPending, Trigger: models.TriggerManual}
	require.NoError(t, repo.Create(ctx, job))

	// progress is ignored until running
	ok, err := repo.UpdateProgress(ctx, job.ID, ProgressUpdate{ProductsProcessed: 5})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkRunning(ctx, job.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	total := 20
	ok, err = repo.UpdateProgress(ctx, job.ID, ProgressUpdate{ProductsProcessed: 10, ProductsTotal: &total, Summary: models.SyncSummary{Created: 9, Skipped: 1}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Cancel(ctx, job.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	// cancelled is terminal
	ok, err = repo.UpdateProgress(ctx, job.ID, ProgressUpdate{ProductsProcessed: 11})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.Finish(ctx, job.ID, FinishResult{Status: models.SyncStatusCompleted, FinishedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCancelled, stored.Status)
	assert.Equal(t, 10, stored.ProductsProcessed)
	require.NotNil(t, stored.ProductsTotal)
	assert.Equal(t, 20, *stored.ProductsTotal)
	assert.Equal(t, 9, stored.Summary.Created)
	assert.NotNil(t, stored.FinishedAt)
}

func TestSyncRepository_FinishKeepsCheckpointedProgress(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSyncRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	job := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusPending, Trigger: models.TriggerManual}
	require.NoError(t, repo.Create(ctx, job))
	_, err := repo.MarkRunning(ctx, job.ID, time.Now().UTC())
	require.NoError(t, err)
	_, err = repo.UpdateProgress(ctx, job.ID, ProgressUpdate{ProductsProcessed: 40})
	require.NoError(t, err)

	// a failure reported without the in-memory count must not erase progress
	message := "internal error"
	ok, err := repo.Finish(ctx, job.ID, FinishResult{Status: models.SyncStatusFailed, ErrorSummary: &message, FinishedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, stored.Status)
	assert.Equal(t, 40, stored.ProductsProcessed)

	other := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusRunning, Trigger: models.TriggerManual}
	require.NoError(t, repo.Create(ctx, other))
	ok, err = repo.Finish(ctx, other.ID, FinishResult{Status: models.SyncStatusCompleted, ProductsProcessed: 12, FinishedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.True(t, ok)
	stored, err = repo.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, stored.ProductsProcessed)
}

func TestSyncRepository_GetStatus(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSyncRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	job := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusPending, Trigger: models.TriggerManual}
	require.NoError(t, repo.Create(ctx, job))

	status, err := repo.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, status)

	_, err = repo.Cancel(ctx, job.ID, time.Now().UTC())
	require.NoError(t, err)
	status, err = repo.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCancelled, status)

	_, err = repo.GetStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncRepository_FailStale(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSyncRepository(db)
	staleConn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	freshConn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorDukaan)
	ctx := context.Background()

	stale := &models.SyncJob{ConnectionID: staleConn.ID, BrandID: "brand-1", Status: models.SyncStatusRunning}
	fresh := &models.SyncJob{ConnectionID: freshConn.ID, BrandID: "brand-1", Status: models.SyncStatusRunning}
	require.NoError(t, repo.Create(ctx, stale))
	require.NoError(t, repo.Create(ctx, fresh))

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&models.SyncJob{}).Where("id = ?", stale.ID).UpdateColumn("updated_at", old).Error)

	failed, err := repo.FailStale(ctx, nil, time.Now().UTC().Add(-15*time.Minute), "abandoned")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, stale.ID, failed[0].ID)

	// a second pass finds nothing
	failed, err = repo.FailStale(ctx, nil, time.Now().UTC().Add(-15*time.Minute), "abandoned")
	require.NoError(t, err)
	assert.Empty(t, failed)

	stored, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorSummary)
	assert.Equal(t, "abandoned", *stored.ErrorSummary)

	stillRunning, err := repo.GetInFlight(ctx, freshConn.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, stillRunning.ID)
}

func TestSyncRepository_ListByConnectionNewestFirst(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSyncRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		job := &models.SyncJob{
			ConnectionID: conn.ID,
			BrandID:      conn.BrandID,
			Status:       models.SyncStatusCompleted,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, job))
	}

	jobs, err := repo.ListByConnection(ctx, conn.ID, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))

	latest, err := repo.GetLatest(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs[0].ID, latest.ID)

	_, err = repo.GetInFlight(ctx, conn.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncRepository_Logs(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSyncRepository(db)
	conn := testutil.SeedConnection(t, db, "brand-1", models.ConnectorShopify)
	ctx := context.Background()

	job := &models.SyncJob{ConnectionID: conn.ID, BrandID: conn.BrandID, Status: models.SyncStatusRunning}
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.CreateLog(ctx, &models.SyncLog{JobID: job.ID, Level: models.LogLevelInfo, Message: "started"}))
	require.NoError(t, repo.CreateLog(ctx, &models.SyncLog{JobID: job.ID, Level: models.LogLevelWarn, Message: "skipped", ExternalID: "42"}))

	logs, total, err := repo.ListLogs(ctx, job.ID, LogListOptions{Level: models.LogLevelWarn})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	assert.Equal(t, "42", logs[0].ExternalID)
}
