package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/progress"
	"passport-sync-service/internal/repository"
)

// remoteCancelProvider cancels the in-flight job through the database
// before serving the first page, as another instance would
type remoteCancelProvider struct {
	*fakeProvider
	jobs   *repository.SyncRepository
	connID uuid.UUID
}

func (p *remoteCancelProvider) ListProducts(ctx context.Context, opts *clients.ListOptions) (*clients.ProductsPage, error) {
	if opts.Cursor == "" {
		job, err := p.jobs.GetInFlight(ctx, p.connID)
		if err != nil {
			return nil, err
		}
		if _, err := p.jobs.Cancel(ctx, job.ID, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	return p.fakeProvider.ListProducts(ctx, opts)
}

// brokenPageProvider misbehaves once the first page has been served
type brokenPageProvider struct {
	*fakeProvider
	panics bool
}

func (p *brokenPageProvider) ListProducts(ctx context.Context, opts *clients.ListOptions) (*clients.ProductsPage, error) {
	if opts.Cursor == "1" {
		if p.panics {
			panic("page decoder blew up")
		}
		return nil, nil
	}
	return p.fakeProvider.ListProducts(ctx, opts)
}

func drainEvents(sub *progress.Subscription) []progress.Event {
	var events []progress.Event
	for {
		select {
		case event := <-sub.Events:
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestTriggerSync_ReturnedJobIsNotSharedWithRunner(t *testing.T) {
	gate := make(chan struct{})
	h := newSyncHarness(t, &fakeProvider{products: makeProducts(5), gate: gate}, testSyncConfig())
	h.ownEverything(t)

	job, err := h.syncs.TriggerSync(context.Background(), testBrand, h.conn.ID, models.TriggerManual)
	require.NoError(t, err)
	h.waitForStatus(t, job.ID, models.SyncStatusRunning)

	// reads race with the runner's writes unless the runner owns a copy
	assert.Equal(t, models.SyncStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)

	close(gate)
	h.syncs.Wait()

	assert.Equal(t, models.SyncStatusPending, job.Status)
	assert.Zero(t, job.ProductsProcessed)
	stored, err := h.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, stored.Status)
	assert.Equal(t, 5, stored.ProductsProcessed)
}

func TestTriggerSync_StopsOnCancelFromAnotherInstance(t *testing.T) {
	cfg := testSyncConfig()
	cfg.ProgressEvery = 25
	provider := &remoteCancelProvider{fakeProvider: &fakeProvider{products: makeProducts(30)}}
	h := newSyncHarness(t, provider, cfg)
	provider.jobs = h.jobs
	provider.connID = h.conn.ID
	h.ownEverything(t)

	job := h.runSync(t)

	assert.Equal(t, models.SyncStatusCancelled, job.Status)
	assert.Zero(t, job.ProductsProcessed)
	count, err := h.catalog.CountProducts(context.Background(), testBrand)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTriggerSync_NilPageFailsJob(t *testing.T) {
	cfg := testSyncConfig()
	cfg.PageSize = 25
	h := newSyncHarness(t, &brokenPageProvider{fakeProvider: &fakeProvider{products: makeProducts(60)}}, cfg)
	h.ownEverything(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := h.hub.Subscribe(ctx, testBrand, &h.conn.ID)

	job := h.runSync(t)

	assert.Equal(t, models.SyncStatusFailed, job.Status)
	assert.Equal(t, 25, job.ProductsProcessed)
	require.NotNil(t, job.ErrorSummary)
	assert.Contains(t, *job.ErrorSummary, "provider returned no page")

	events := drainEvents(sub)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.SyncStatusFailed, last.Status)
	assert.Equal(t, 25, last.ProductsProcessed)
}

func TestTriggerSync_PanicKeepsProgress(t *testing.T) {
	cfg := testSyncConfig()
	cfg.PageSize = 25
	h := newSyncHarness(t, &brokenPageProvider{fakeProvider: &fakeProvider{products: makeProducts(60)}, panics: true}, cfg)
	h.ownEverything(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := h.hub.Subscribe(ctx, testBrand, &h.conn.ID)

	job := h.runSync(t)

	assert.Equal(t, models.SyncStatusFailed, job.Status)
	assert.Equal(t, 25, job.ProductsProcessed)
	assert.Equal(t, 25, job.Summary.Created)
	require.NotNil(t, job.ErrorSummary)
	assert.Contains(t, *job.ErrorSummary, "internal error")

	events := drainEvents(sub)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.SyncStatusFailed, last.Status)
	assert.Equal(t, 25, last.ProductsProcessed)
}

func TestDispatch_AfterShutdownFailsJob(t *testing.T) {
	h := newSyncHarness(t, &fakeProvider{products: makeProducts(3)}, testSyncConfig())
	ctx := context.Background()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.syncs.Shutdown(shutdownCtx))

	_, err := h.syncs.TriggerSync(ctx, testBrand, h.conn.ID, models.TriggerManual)
	assert.ErrorIs(t, err, ErrConnectionNotActive)

	// a trigger that passed its checks before Shutdown took the lock
	job := &models.SyncJob{ConnectionID: h.conn.ID, BrandID: testBrand, Status: models.SyncStatusPending, Trigger: models.TriggerManual}
	require.NoError(t, h.jobs.Create(ctx, job))
	assert.False(t, h.syncs.dispatch(job, h.conn))
	h.syncs.Wait()

	stored, err := h.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorSummary)
	assert.Contains(t, *stored.ErrorSummary, "shutting down")

	history, err := h.syncs.GetSyncHistory(ctx, testBrand, h.conn.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
