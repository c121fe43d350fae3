package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/repository"
)

const finalizeTimeout = 30 * time.Second

// syncRun is the in-memory state of one executing job
type syncRun struct {
	job       *models.SyncJob
	conn      *models.BrandIntegrationConnection
	applier   *RecordApplier
	processed int
	total     *int
	summary   models.SyncSummary
	started   time.Time
	logger    *logrus.Entry
}

// errRunStopped means the job left the running state under the runner
var errRunStopped = errors.New("sync job no longer running")

// dispatch runs the job in the background under a bounded context.
// Once the service is stopping it fails the job instead and reports false.
func (s *SyncService) dispatch(job *models.SyncJob, conn *models.BrandIntegrationConnection) bool {
	run := &syncRun{
		job:  job,
		conn: conn,
		logger: s.logger.WithFields(logrus.Fields{
			"job_id":        job.ID,
			"connection_id": conn.ID,
			"brand_id":      conn.BrandID,
			"connector":     conn.ConnectorSlug,
		}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)

	// Registration and the stopping check share mu with Shutdown
	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		cancel()
		s.finalizeFailed(run, context.Canceled)
		return false
	}
	s.activeJobs[job.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.activeJobs, job.ID)
			s.mu.Unlock()
			cancel()
		}()
		defer func() {
			if r := recover(); r != nil {
				run.logger.Errorf("Sync job panicked: %v", r)
				s.finalizeFailed(run, fmt.Errorf("internal error: %v", r))
			}
		}()
		s.runJob(ctx, run)
	}()
	return true
}

// runJob executes a sync job to a terminal state
func (s *SyncService) runJob(ctx context.Context, run *syncRun) {
	job, conn := run.job, run.conn

	release, err := s.limiter.Acquire(ctx, conn.BrandID)
	if err != nil {
		s.stopOrFail(ctx, run, fmt.Errorf("queued too long: %w", err))
		return
	}
	defer release()

	// This pass reads the provider after every change flagged so far
	if _, err := s.connRepo.ClaimResync(ctx, conn.ID); err != nil {
		run.logger.WithError(err).Warn("Failed to clear resync request")
	}

	run.started = time.Now().UTC()
	ok, err := s.syncRepo.MarkRunning(ctx, job.ID, run.started)
	if err != nil {
		s.stopOrFail(ctx, run, fmt.Errorf("failed to start: %w", err))
		return
	}
	if !ok {
		// Cancelled or reaped while queued
		run.logger.Info("Sync job left pending state before start")
		return
	}
	job.Status = models.SyncStatusRunning
	job.StartedAt = &run.started

	slug := string(conn.ConnectorSlug)
	s.metrics.JobStarted(slug, string(job.Trigger))
	defer s.metrics.JobStopped()

	run.logger.Info("Sync job started")
	s.logEvent(ctx, job.ID, models.LogLevelInfo, "Sync started", "", map[string]interface{}{
		"trigger": job.Trigger,
	})
	s.publishProgress(job)
	if s.events != nil {
		if err := s.events.PublishSyncStarted(ctx, conn, job); err != nil {
			run.logger.WithError(err).Warn("Failed to publish sync started event")
		}
	}

	if err := s.execute(ctx, run); err != nil {
		if errors.Is(err, errRunStopped) {
			run.logger.Info("Sync job stopped by another writer")
			return
		}
		s.stopOrFail(ctx, run, err)
		return
	}
	s.finalizeCompleted(run)
}

// execute pages through the provider and applies every record
func (s *SyncService) execute(ctx context.Context, run *syncRun) error {
	owned, err := s.ownership.Resolve(ctx, run.conn)
	if err != nil {
		return fmt.Errorf("failed to resolve field ownership: %w", err)
	}
	client, err := s.providers.Open(ctx, run.conn)
	if err != nil {
		return err
	}
	run.applier = NewRecordApplier(s.catalogRepo, run.conn, owned)

	slug := string(run.conn.ConnectorSlug)
	cursor := ""
	for {
		var page *clients.ProductsPage
		fetch := func(ctx context.Context) error {
			p, err := client.ListProducts(ctx, &clients.ListOptions{
				Limit:  s.config.PageSize,
				Cursor: cursor,
			})
			if err != nil {
				return err
			}
			if p == nil {
				return clients.NewDecodeError(run.conn.ConnectorSlug, errors.New("provider returned no page"))
			}
			page = p
			return nil
		}
		result := s.retrier.DoNotify(ctx, "list products", fetch, func(attempt int, err error, backoff time.Duration) {
			s.metrics.ProviderRetried(slug, 1)
			run.logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff.String(),
				"cursor":  cursor,
			}).Warn("Retrying provider page fetch")
		})
		if result.LastError != nil {
			return result.LastError
		}

		if run.total == nil && page.Total != nil {
			total := *page.Total
			run.total = &total
		}

		for _, record := range page.Products {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.ensureRunning(ctx, run); err != nil {
				return err
			}

			outcome, applyErr := run.applier.Apply(ctx, record)
			if err := ctx.Err(); err != nil {
				return err
			}
			s.countOutcome(run, outcome)
			s.metrics.RecordApplied(slug, string(outcome))
			if applyErr != nil {
				run.logger.WithError(applyErr).WithField("external_id", record.ExternalID).Warn("Record skipped")
				s.logEvent(ctx, run.job.ID, models.LogLevelWarn, "Record skipped", record.ExternalID, map[string]interface{}{
					"reason": applyErr.Error(),
				})
			}

			run.processed++
			if run.processed%s.config.ProgressEvery == 0 {
				if err := s.checkpoint(ctx, run); err != nil {
					return err
				}
			}
		}

		if err := s.checkpoint(ctx, run); err != nil {
			return err
		}

		if !page.HasMore || page.NextCursor == "" || page.NextCursor == cursor {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (s *SyncService) countOutcome(run *syncRun, outcome RecordOutcome) {
	switch outcome {
	case OutcomeCreated:
		run.summary.Created++
	case OutcomeUpdated:
		run.summary.Updated++
	case OutcomeSkipped:
		run.summary.Skipped++
	}
}

// ensureRunning returns errRunStopped once the row has left the running state.
// A cancel issued on another instance only reaches this run through the row.
func (s *SyncService) ensureRunning(ctx context.Context, run *syncRun) error {
	status, err := s.syncRepo.GetStatus(ctx, run.job.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errRunStopped
		}
		return fmt.Errorf("failed to read job status: %w", err)
	}
	if status != models.SyncStatusRunning {
		return errRunStopped
	}
	return nil
}

// checkpoint persists progress and refreshes the heartbeat.
// It returns errRunStopped once the row is no longer running.
func (s *SyncService) checkpoint(ctx context.Context, run *syncRun) error {
	ok, err := s.syncRepo.UpdateProgress(ctx, run.job.ID, repository.ProgressUpdate{
		ProductsProcessed: run.processed,
		ProductsTotal:     run.total,
		Summary:           run.summary,
	})
	if err != nil {
		return fmt.Errorf("failed to checkpoint progress: %w", err)
	}
	if !ok {
		return errRunStopped
	}

	run.job.ProductsProcessed = run.processed
	run.job.ProductsTotal = run.total
	run.job.Summary = run.summary
	run.job.UpdatedAt = time.Now().UTC()
	s.publishProgress(run.job)
	return nil
}

// stopOrFail decides how an interrupted run ends.
// A user cancel already finalized the row; anything else fails the job.
func (s *SyncService) stopOrFail(ctx context.Context, run *syncRun, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil && !s.stopping.Load() {
		run.logger.Info("Sync job cancelled")
		return
	}
	s.finalizeFailed(run, err)
}

func (s *SyncService) finalizeCompleted(run *syncRun) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	total := run.processed
	if run.total != nil && *run.total > total {
		total = *run.total
	}
	now := time.Now().UTC()
	ok, err := s.syncRepo.Finish(ctx, run.job.ID, repository.FinishResult{
		Status:            models.SyncStatusCompleted,
		ProductsProcessed: run.processed,
		ProductsTotal:     &total,
		Summary:           run.summary,
		FinishedAt:        now,
	})
	if err != nil {
		run.logger.WithError(err).Error("Failed to complete sync job")
		return
	}
	if !ok {
		return
	}

	if err := s.connRepo.RecordSyncSuccess(ctx, run.conn.ID, now); err != nil {
		run.logger.WithError(err).Warn("Failed to record sync success on connection")
	}
	s.logEvent(ctx, run.job.ID, models.LogLevelInfo, "Sync completed", "", map[string]interface{}{
		"processed": run.processed,
		"created":   run.summary.Created,
		"updated":   run.summary.Updated,
		"skipped":   run.summary.Skipped,
	})
	run.logger.WithFields(logrus.Fields{
		"processed": run.processed,
		"created":   run.summary.Created,
		"updated":   run.summary.Updated,
		"skipped":   run.summary.Skipped,
	}).Info("Sync job completed")

	s.afterFinish(ctx, run, models.SyncStatusCompleted)
	s.followUp(ctx, run)
}

func (s *SyncService) finalizeFailed(run *syncRun, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	message := s.describeFailure(cause)
	now := time.Now().UTC()
	ok, err := s.syncRepo.Finish(ctx, run.job.ID, repository.FinishResult{
		Status:            models.SyncStatusFailed,
		ProductsProcessed: run.processed,
		ProductsTotal:     run.total,
		Summary:           run.summary,
		ErrorSummary:      &message,
		FinishedAt:        now,
	})
	if err != nil {
		run.logger.WithError(err).Error("Failed to fail sync job")
		return
	}
	if !ok {
		return
	}

	var status *models.ConnectionStatus
	if clients.IsAuthError(cause) || errors.Is(cause, ErrInvalidCredential) {
		errStatus := models.ConnectionError
		status = &errStatus
	}
	if err := s.connRepo.RecordSyncFailure(ctx, run.conn.ID, status, message); err != nil {
		run.logger.WithError(err).Warn("Failed to record sync failure on connection")
	}
	s.logEvent(ctx, run.job.ID, models.LogLevelError, message, "", nil)
	run.logger.WithError(cause).Error("Sync job failed")

	s.afterFinish(ctx, run, models.SyncStatusFailed)
	s.followUp(ctx, run)
}

// afterFinish reloads the terminal row and fans it out
func (s *SyncService) afterFinish(ctx context.Context, run *syncRun, status models.SyncStatus) {
	if !run.started.IsZero() {
		s.metrics.ObserveJob(string(run.conn.ConnectorSlug), string(status), time.Since(run.started))
	} else {
		s.metrics.ObserveJob(string(run.conn.ConnectorSlug), string(status), 0)
	}

	job, err := s.syncRepo.GetByID(ctx, run.job.ID)
	if err != nil {
		run.logger.WithError(err).Warn("Failed to reload finished sync job")
		return
	}
	s.publishProgress(job)
	if s.events != nil {
		if err := s.events.PublishSyncFinished(ctx, run.conn, job); err != nil {
			run.logger.WithError(err).Warn("Failed to publish sync finished event")
		}
	}
}

// followUp starts another run when changes arrived after this one started
func (s *SyncService) followUp(ctx context.Context, run *syncRun) {
	if s.stopping.Load() {
		return
	}
	claimed, err := s.connRepo.ClaimResync(ctx, run.conn.ID)
	if err != nil {
		run.logger.WithError(err).Warn("Failed to claim resync request")
		return
	}
	if !claimed {
		return
	}
	next, err := s.TriggerSync(ctx, run.conn.BrandID, run.conn.ID, models.TriggerWebhook)
	if err != nil {
		run.logger.WithError(err).Info("Follow-up sync not started")
		return
	}
	run.logger.WithField("next_job_id", next.ID).Info("Follow-up sync started")
}

// describeFailure renders a failure cause for the job's error summary
func (s *SyncService) describeFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s", s.config.Timeout)
	case errors.Is(err, context.Canceled) && s.stopping.Load():
		return "interrupted: service shutting down"
	case errors.Is(err, ErrInvalidCredential), clients.IsAuthError(err):
		return fmt.Sprintf("credentials rejected by provider: %v", err)
	}
	if pe, ok := clients.AsProviderError(err); ok {
		return fmt.Sprintf("provider error: %s", pe.Error())
	}
	return err.Error()
}
