package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"passport-sync-service/internal/models"
)

// SyncJobRepositoryInterface defines sync job and sync log persistence operations.
// Every status transition is a conditional update so that concurrent writers
// on other instances cannot overwrite a terminal state.
type SyncJobRepositoryInterface interface {
	Create(ctx context.Context, job *models.SyncJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncJob, error)
	GetForBrand(ctx context.Context, brandID string, id uuid.UUID) (*models.SyncJob, error)
	GetInFlight(ctx context.Context, connectionID uuid.UUID) (*models.SyncJob, error)
	GetStatus(ctx context.Context, id uuid.UUID) (models.SyncStatus, error)
	GetLatest(ctx context.Context, connectionID uuid.UUID) (*models.SyncJob, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, update ProgressUpdate) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, result FinishResult) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	CancelInFlightForConnection(ctx context.Context, connectionID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	FailStale(ctx context.Context, connectionID *uuid.UUID, olderThan time.Time, summary string) ([]models.SyncJob, error)
	CreateLog(ctx context.Context, log *models.SyncLog) error
	ListLogs(ctx context.Context, jobID uuid.UUID, opts LogListOptions) ([]models.SyncLog, int64, error)
}

// ProgressUpdate is a checkpoint of a running job
type ProgressUpdate struct {
	ProductsProcessed int
	ProductsTotal     *int
	Summary           models.SyncSummary
}

// FinishResult is the terminal state written for a job
type FinishResult struct {
	Status            models.SyncStatus
	ProductsProcessed int
	ProductsTotal     *int
	Summary           models.SyncSummary
	ErrorSummary      *string
	FinishedAt        time.Time
}

// LogListOptions contains options for listing sync logs
type LogListOptions struct {
	Level  models.LogLevel
	Limit  int
	Offset int
}

// SyncRepository handles database operations for sync jobs
type SyncRepository struct {
	db *gorm.DB
}

var _ SyncJobRepositoryInterface = (*SyncRepository)(nil)

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// Create inserts a pending job.
// The in-flight partial unique index turns a concurrent second insert into ErrDuplicate.
func (r *SyncRepository) Create(ctx context.Context, job *models.SyncJob) error {
	return translate(r.db.WithContext(ctx).Create(job).Error)
}

// GetByID retrieves a sync job by ID
func (r *SyncRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// GetForBrand retrieves a sync job owned by the brand
func (r *SyncRepository) GetForBrand(ctx context.Context, brandID string, id uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).
		Where("id = ? AND brand_id = ?", id, brandID).
		First(&job).Error
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// GetInFlight retrieves the pending or running job of a connection
func (r *SyncRepository) GetInFlight(ctx context.Context, connectionID uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND status IN ?", connectionID, models.InFlightStatuses()).
		First(&job).Error
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// GetStatus reads only the status column of a job
func (r *SyncRepository) GetStatus(ctx context.Context, id uuid.UUID) (models.SyncStatus, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).
		Select("status").
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return "", translate(err)
	}
	return job.Status, nil
}

// GetLatest retrieves the most recently created job of a connection
func (r *SyncRepository) GetLatest(ctx context.Context, connectionID uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// ListByConnection retrieves jobs newest first
func (r *SyncRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	query := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}

// MarkRunning moves a pending job to running
func (r *SyncRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", id, models.SyncStatusPending).
		Updates(map[string]interface{}{
			"status":     models.SyncStatusRunning,
			"started_at": startedAt,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// UpdateProgress checkpoints a running job and refreshes its heartbeat.
// It reports false once the job has left the running state.
func (r *SyncRepository) UpdateProgress(ctx context.Context, id uuid.UUID, update ProgressUpdate) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", id, models.SyncStatusRunning).
		Updates(map[string]interface{}{
			"products_processed": update.ProductsProcessed,
			"products_total":     update.ProductsTotal,
			"summary_created":    update.Summary.Created,
			"summary_updated":    update.Summary.Updated,
			"summary_skipped":    update.Summary.Skipped,
			"updated_at":         time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// Finish writes the terminal state of an in-flight job.
// The processed counter never moves backwards past a persisted checkpoint.
func (r *SyncRepository) Finish(ctx context.Context, id uuid.UUID, res FinishResult) (bool, error) {
	processed := gorm.Expr("CASE WHEN products_processed > ? THEN products_processed ELSE ? END",
		res.ProductsProcessed, res.ProductsProcessed)
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status IN ?", id, models.InFlightStatuses()).
		Updates(map[string]interface{}{
			"status":             res.Status,
			"products_processed": processed,
			"products_total":     res.ProductsTotal,
			"summary_created":    res.Summary.Created,
			"summary_updated":    res.Summary.Updated,
			"summary_skipped":    res.Summary.Skipped,
			"error_summary":      res.ErrorSummary,
			"finished_at":        res.FinishedAt,
			"updated_at":         time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// Cancel moves an in-flight job to cancelled
func (r *SyncRepository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status IN ?", id, models.InFlightStatuses()).
		Updates(map[string]interface{}{
			"status":      models.SyncStatusCancelled,
			"finished_at": at,
			"updated_at":  time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// CancelInFlightForConnection cancels whatever job holds the connection's slot
func (r *SyncRepository) CancelInFlightForConnection(ctx context.Context, connectionID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("connection_id = ? AND status IN ?", connectionID, models.InFlightStatuses()).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}

	var cancelled []uuid.UUID
	for _, id := range ids {
		ok, err := r.Cancel(ctx, id, at)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled, nil
}

// FailStale fails in-flight jobs whose heartbeat is older than the cutoff.
// Each job is claimed with its own conditional update, so concurrent reapers fail it once.
func (r *SyncRepository) FailStale(ctx context.Context, connectionID *uuid.UUID, olderThan time.Time, summary string) ([]models.SyncJob, error) {
	var candidates []models.SyncJob
	query := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", models.InFlightStatuses(), olderThan)
	if connectionID != nil {
		query = query.Where("connection_id = ?", *connectionID)
	}
	if err := query.Find(&candidates).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var failed []models.SyncJob
	for _, job := range candidates {
		result := r.db.WithContext(ctx).
			Model(&models.SyncJob{}).
			Where("id = ? AND status IN ? AND updated_at < ?", job.ID, models.InFlightStatuses(), olderThan).
			Updates(map[string]interface{}{
				"status":        models.SyncStatusFailed,
				"error_summary": summary,
				"finished_at":   now,
				"updated_at":    now,
			})
		if result.Error != nil {
			return failed, result.Error
		}
		if result.RowsAffected > 0 {
			job.Status = models.SyncStatusFailed
			job.ErrorSummary = &summary
			job.FinishedAt = &now
			job.UpdatedAt = now
			failed = append(failed, job)
		}
	}
	return failed, nil
}

// CreateLog creates a sync log entry
func (r *SyncRepository) CreateLog(ctx context.Context, log *models.SyncLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListLogs retrieves logs for a sync job in insertion order
func (r *SyncRepository) ListLogs(ctx context.Context, jobID uuid.UUID, opts LogListOptions) ([]models.SyncLog, int64, error) {
	var logs []models.SyncLog
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SyncLog{}).Where("job_id = ?", jobID)
	if opts.Level != "" {
		query = query.Where("level = ?", opts.Level)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	err := query.Order("created_at ASC").Find(&logs).Error
	return logs, total, err
}
