package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/config"
	"passport-sync-service/internal/metrics"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/progress"
	"passport-sync-service/internal/repository"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ProgressPublisher receives persisted progress checkpoints
type ProgressPublisher interface {
	Publish(event progress.Event)
}

// LifecyclePublisher announces job lifecycle transitions to other services
type LifecyclePublisher interface {
	PublishSyncStarted(ctx context.Context, conn *models.BrandIntegrationConnection, job *models.SyncJob) error
	PublishSyncFinished(ctx context.Context, conn *models.BrandIntegrationConnection, job *models.SyncJob) error
}

// SyncConfig holds the orchestrator tunables
type SyncConfig struct {
	PageSize      int
	ProgressEvery int
	Timeout       time.Duration
	StaleAfter    time.Duration
	Retry         *clients.RetryConfig
	Concurrency   *ConcurrencyConfig
}

// NewSyncConfig derives the orchestrator tunables from service configuration
func NewSyncConfig(cfg *config.Config) SyncConfig {
	retry := clients.DefaultRetryConfig()
	retry.MaxRetries = cfg.SyncMaxRetries
	retry.InitialBackoff = cfg.SyncRetryDelay

	return SyncConfig{
		PageSize:      cfg.SyncPageSize,
		ProgressEvery: cfg.SyncProgressEvery,
		Timeout:       cfg.SyncTimeout,
		StaleAfter:    cfg.SyncStaleAfter,
		Retry:         retry,
		Concurrency: &ConcurrencyConfig{
			MaxConcurrentJobs:  cfg.SyncMaxConcurrent,
			MaxConcurrentBrand: cfg.SyncMaxPerBrand,
			QueueTimeout:       cfg.SyncQueueTimeout,
		},
	}
}

func (c *SyncConfig) normalize() {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.Retry == nil {
		c.Retry = clients.DefaultRetryConfig()
	}
	if c.Concurrency == nil {
		c.Concurrency = DefaultConcurrencyConfig()
	}
}

// SyncDependencies are the collaborators of the sync service
type SyncDependencies struct {
	Connections repository.ConnectionRepositoryInterface
	Jobs        repository.SyncJobRepositoryInterface
	Catalog     repository.CatalogRepositoryInterface
	Ownership   *FieldOwnershipService
	Providers   *ProviderFactory
	Progress    ProgressPublisher
	Events      LifecyclePublisher
	Metrics     *metrics.Metrics
}

// SyncStatusView is the authoritative sync state of a connection
type SyncStatusView struct {
	IsSyncing bool            `json:"isSyncing"`
	LatestJob *models.SyncJob `json:"latestJob"`
}

// SyncService orchestrates sync jobs.
// The pending or running job row is the per-connection lock; nothing here coordinates in memory.
type SyncService struct {
	connRepo    repository.ConnectionRepositoryInterface
	syncRepo    repository.SyncJobRepositoryInterface
	catalogRepo repository.CatalogRepositoryInterface
	ownership   *FieldOwnershipService
	providers   *ProviderFactory
	progress    ProgressPublisher
	events      LifecyclePublisher
	metrics     *metrics.Metrics
	config      SyncConfig
	limiter     *BrandLimiter
	retrier     *clients.Retrier
	logger      *logrus.Entry

	mu         sync.Mutex
	activeJobs map[uuid.UUID]context.CancelFunc
	wg         sync.WaitGroup
	stopping   atomic.Bool
}

// NewSyncService creates a new sync service
func NewSyncService(deps SyncDependencies, cfg SyncConfig, logger *logrus.Logger) *SyncService {
	cfg.normalize()
	return &SyncService{
		connRepo:    deps.Connections,
		syncRepo:    deps.Jobs,
		catalogRepo: deps.Catalog,
		ownership:   deps.Ownership,
		providers:   deps.Providers,
		progress:    deps.Progress,
		events:      deps.Events,
		metrics:     deps.Metrics,
		config:      cfg,
		limiter:     NewBrandLimiter(cfg.Concurrency),
		retrier:     clients.NewRetrier(cfg.Retry),
		logger:      logger.WithField("component", "sync_service"),
		activeJobs:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// TriggerSync creates a pending job and starts it in the background.
// It returns as soon as the job row exists.
func (s *SyncService) TriggerSync(ctx context.Context, brandID string, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error) {
	conn, err := s.connRepo.GetForBrand(ctx, brandID, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}

	// A crashed worker must not block the connection forever
	if _, err := s.ReapStale(ctx, &conn.ID); err != nil {
		s.logger.WithError(err).WithField("connection_id", conn.ID).Warn("Failed to reconcile stale jobs")
	}

	if conn.Status != models.ConnectionActive || s.stopping.Load() {
		return nil, ErrConnectionNotActive
	}

	if _, err := s.syncRepo.GetInFlight(ctx, conn.ID); err == nil {
		return nil, ErrAlreadySyncing
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if trigger == "" {
		trigger = models.TriggerManual
	}
	job := &models.SyncJob{
		ID:           uuid.New(),
		ConnectionID: conn.ID,
		BrandID:      conn.BrandID,
		Status:       models.SyncStatusPending,
		Trigger:      trigger,
	}
	if err := s.syncRepo.Create(ctx, job); err != nil {
		// Another trigger, possibly on another instance, won the insert
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadySyncing
		}
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"connection_id": conn.ID,
		"brand_id":      conn.BrandID,
		"trigger":       trigger,
	}).Info("Sync job created")
	s.publishProgress(job)

	// The runner owns its copy; the caller's job stays a pending snapshot
	runnerCopy := *job
	if !s.dispatch(&runnerCopy, conn) {
		return nil, ErrConnectionNotActive
	}
	return job, nil
}

// CancelSync cancels an in-flight job. Writes already applied are kept.
func (s *SyncService) CancelSync(ctx context.Context, brandID string, jobID uuid.UUID) (*models.SyncJob, error) {
	job, err := s.GetJob(ctx, brandID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsInFlight() {
		return nil, ErrJobNotCancellable
	}

	ok, err := s.syncRepo.Cancel(ctx, job.ID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel sync job: %w", err)
	}
	if !ok {
		return nil, ErrJobNotCancellable
	}
	s.StopLocal(job.ID)

	job, err = s.syncRepo.GetByID(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, job.ID, models.LogLevelInfo, "Sync cancelled", "", nil)
	s.publishProgress(job)
	s.announceFinished(ctx, job)
	return job, nil
}

// RequestResync records provider changes that arrived while a job held the connection.
// The job clears the flag when it starts; a flag still set when it finishes starts a follow-up run.
func (s *SyncService) RequestResync(ctx context.Context, connectionID uuid.UUID) error {
	return s.connRepo.RequestResync(ctx, connectionID, time.Now().UTC())
}

// StopLocal cancels the context of a run executing on this instance
func (s *SyncService) StopLocal(jobID uuid.UUID) {
	s.mu.Lock()
	cancel, exists := s.activeJobs[jobID]
	s.mu.Unlock()
	if exists {
		cancel()
	}
}

// GetSyncStatus returns whether the connection is syncing and its latest job.
// This is the source of truth the push channel must agree with.
func (s *SyncService) GetSyncStatus(ctx context.Context, brandID string, connectionID uuid.UUID) (*SyncStatusView, error) {
	if _, err := s.connectionForBrand(ctx, brandID, connectionID); err != nil {
		return nil, err
	}

	view := &SyncStatusView{}
	latest, err := s.syncRepo.GetLatest(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return view, nil
		}
		return nil, err
	}
	view.LatestJob = latest
	view.IsSyncing = latest.Status.IsInFlight()
	return view, nil
}

// GetSyncHistory lists a connection's jobs, newest first
func (s *SyncService) GetSyncHistory(ctx context.Context, brandID string, connectionID uuid.UUID, limit int) ([]models.SyncJob, error) {
	if _, err := s.connectionForBrand(ctx, brandID, connectionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.syncRepo.ListByConnection(ctx, connectionID, limit)
}

// GetJob retrieves a job of the brand
func (s *SyncService) GetJob(ctx context.Context, brandID string, jobID uuid.UUID) (*models.SyncJob, error) {
	job, err := s.syncRepo.GetForBrand(ctx, brandID, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetJobLogs retrieves logs for a sync job
func (s *SyncService) GetJobLogs(ctx context.Context, brandID string, jobID uuid.UUID, opts *repository.LogListOptions) ([]models.SyncLog, int64, error) {
	if _, err := s.GetJob(ctx, brandID, jobID); err != nil {
		return nil, 0, err
	}
	if opts == nil {
		opts = &repository.LogListOptions{Limit: 100}
	}
	return s.syncRepo.ListLogs(ctx, jobID, *opts)
}

// ReapStale fails in-flight jobs without a heartbeat for longer than the stale threshold.
// A nil connectionID reconciles every connection.
func (s *SyncService) ReapStale(ctx context.Context, connectionID *uuid.UUID) (int, error) {
	cutoff := time.Now().UTC().Add(-s.config.StaleAfter)
	summary := fmt.Sprintf("abandoned: no progress since %s", cutoff.Format(time.RFC3339))

	failed, err := s.syncRepo.FailStale(ctx, connectionID, cutoff, summary)
	if err != nil {
		return 0, err
	}
	for i := range failed {
		job := &failed[i]
		s.logger.WithFields(logrus.Fields{
			"job_id":        job.ID,
			"connection_id": job.ConnectionID,
		}).Warn("Failed stale sync job")
		s.logEvent(ctx, job.ID, models.LogLevelError, summary, "", nil)
		s.publishProgress(job)
		s.StopLocal(job.ID)
		s.announceFinished(ctx, job)
	}
	s.metrics.JobsReaped(len(failed))
	return len(failed), nil
}

// Shutdown stops local runs and waits for them to return
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping.Store(true)
	for _, cancel := range s.activeJobs {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every local run has returned
func (s *SyncService) Wait() {
	s.wg.Wait()
}

func (s *SyncService) connectionForBrand(ctx context.Context, brandID string, connectionID uuid.UUID) (*models.BrandIntegrationConnection, error) {
	conn, err := s.connRepo.GetForBrand(ctx, brandID, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return conn, nil
}

func (s *SyncService) publishProgress(job *models.SyncJob) {
	if s.progress == nil {
		return
	}
	s.progress.Publish(progress.EventFromJob(job))
}

// announceFinished emits the terminal lifecycle event for a job finalized outside its runner
func (s *SyncService) announceFinished(ctx context.Context, job *models.SyncJob) {
	if s.events == nil {
		return
	}
	conn, err := s.connRepo.GetByID(ctx, job.ConnectionID)
	if err != nil {
		return
	}
	if err := s.events.PublishSyncFinished(ctx, conn, job); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to publish sync lifecycle event")
	}
}

// logEvent creates a sync log entry
func (s *SyncService) logEvent(ctx context.Context, jobID uuid.UUID, level models.LogLevel, message, externalID string, data map[string]interface{}) {
	log := &models.SyncLog{
		ID:         uuid.New(),
		JobID:      jobID,
		Level:      level,
		Message:    message,
		ExternalID: externalID,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			log.Data = datatypes.JSON(raw)
		}
	}
	if err := s.syncRepo.CreateLog(ctx, log); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to write sync log")
	}
}
