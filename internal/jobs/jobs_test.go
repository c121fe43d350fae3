package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"passport-sync-service/internal/models"
	"passport-sync-service/internal/services"
)

type mockReaper struct {
	mock.Mock
}

func (m *mockReaper) ReapStale(ctx context.Context, connectionID *uuid.UUID) (int, error) {
	args := m.Called(ctx, connectionID)
	return args.Int(0), args.Error(1)
}

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListSchedulable(ctx context.Context) ([]models.BrandIntegrationConnection, error) {
	args := m.Called(ctx)
	conns, _ := args.Get(0).([]models.BrandIntegrationConnection)
	return conns, args.Error(1)
}

type mockTrigger struct {
	mock.Mock
}

func (m *mockTrigger) TriggerSync(ctx context.Context, brandID string, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error) {
	args := m.Called(ctx, brandID, connectionID, trigger)
	job, _ := args.Get(0).(*models.SyncJob)
	return job, args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestStaleJobReaper_Reap(t *testing.T) {
	reaper := new(mockReaper)
	reaper.On("ReapStale", mock.Anything, (*uuid.UUID)(nil)).Return(2, nil).Once()
	reaper.On("ReapStale", mock.Anything, (*uuid.UUID)(nil)).Return(0, errors.New("db down")).Once()

	job := NewStaleJobReaper(reaper, time.Minute, quietLogger())
	assert.Equal(t, 2, job.reap(context.Background()))
	assert.Equal(t, 0, job.reap(context.Background()))
	reaper.AssertExpectations(t)
}

func TestStaleJobReaper_StartRunsImmediatelyAndStops(t *testing.T) {
	reaper := new(mockReaper)
	called := make(chan struct{}, 1)
	reaper.On("ReapStale", mock.Anything, (*uuid.UUID)(nil)).Return(0, nil).Run(func(mock.Arguments) {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	job := NewStaleJobReaper(reaper, time.Hour, quietLogger())
	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("reaper did not run on start")
	}
	job.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestScheduledSyncJob_TriggersDueConnections(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)

	due := models.BrandIntegrationConnection{ID: uuid.New(), BrandID: "brand-1", Status: models.ConnectionActive, SyncIntervalSeconds: 3600, LastSyncAt: &old}
	notDue := models.BrandIntegrationConnection{ID: uuid.New(), BrandID: "brand-1", Status: models.ConnectionActive, SyncIntervalSeconds: 3600, LastSyncAt: &recent}
	never := models.BrandIntegrationConnection{ID: uuid.New(), BrandID: "brand-2", Status: models.ConnectionActive, SyncIntervalSeconds: 600}
	busy := models.BrandIntegrationConnection{ID: uuid.New(), BrandID: "brand-3", Status: models.ConnectionActive, SyncIntervalSeconds: 600}

	lister := new(mockLister)
	lister.On("ListSchedulable", mock.Anything).Return([]models.BrandIntegrationConnection{due, notDue, never, busy}, nil)

	trigger := new(mockTrigger)
	trigger.On("TriggerSync", mock.Anything, "brand-1", due.ID, models.TriggerScheduled).Return(&models.SyncJob{ID: uuid.New()}, nil)
	trigger.On("TriggerSync", mock.Anything, "brand-2", never.ID, models.TriggerScheduled).Return(&models.SyncJob{ID: uuid.New()}, nil)
	trigger.On("TriggerSync", mock.Anything, "brand-3", busy.ID, models.TriggerScheduled).Return(nil, services.ErrAlreadySyncing)

	job := NewScheduledSyncJob(lister, trigger, time.Minute, quietLogger())
	job.now = func() time.Time { return now }

	started := job.runDue(context.Background())

	assert.Equal(t, 2, started)
	trigger.AssertExpectations(t)
	trigger.AssertNotCalled(t, "TriggerSync", mock.Anything, "brand-1", notDue.ID, mock.Anything)
}

func TestScheduledSyncJob_ListFailure(t *testing.T) {
	lister := new(mockLister)
	lister.On("ListSchedulable", mock.Anything).Return(nil, errors.New("db down"))
	trigger := new(mockTrigger)

	job := NewScheduledSyncJob(lister, trigger, time.Minute, quietLogger())
	require.Zero(t, job.runDue(context.Background()))
	trigger.AssertNotCalled(t, "TriggerSync", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
