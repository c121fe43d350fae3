package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"passport-sync-service/internal/middleware"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/repository"
	"passport-sync-service/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SyncHandler handles sync job endpoints
type SyncHandler struct {
	service *services.SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service *services.SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// Trigger starts a manual sync and answers as soon as the job exists
func (h *SyncHandler) Trigger(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	job, err := h.service.TriggerSync(c.Request.Context(), middleware.GetBrandID(c), id, models.TriggerManual)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"jobId":  job.ID,
		"status": job.Status,
	}})
}

// Status returns whether the connection is syncing and its latest job
func (h *SyncHandler) Status(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := h.service.GetSyncStatus(c.Request.Context(), middleware.GetBrandID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// History returns the connection's jobs, newest first
func (h *SyncHandler) History(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.service.GetSyncHistory(c.Request.Context(), middleware.GetBrandID(c), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  jobs,
		"total": len(jobs),
	})
}

// GetJob returns a single job
func (h *SyncHandler) GetJob(c *gin.Context) {
	id, ok := parseID(c, "jobId")
	if !ok {
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), middleware.GetBrandID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

// GetJobLogs returns the log entries of a job
func (h *SyncHandler) GetJobLogs(c *gin.Context) {
	id, ok := parseID(c, "jobId")
	if !ok {
		return
	}

	opts := &repository.LogListOptions{
		Level: models.LogLevel(c.Query("level")),
		Limit: 100,
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit <= 500 {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset > 0 {
		opts.Offset = offset
	}

	logs, total, err := h.service.GetJobLogs(c.Request.Context(), middleware.GetBrandID(c), id, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"total": total,
	})
}

// ExportReport downloads the job summary and log as a spreadsheet
func (h *SyncHandler) ExportReport(c *gin.Context) {
	id, ok := parseID(c, "jobId")
	if !ok {
		return
	}

	content, filename, err := h.service.ExportJobReport(c.Request.Context(), middleware.GetBrandID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, content)
}

// Cancel stops an in-flight job
func (h *SyncHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c, "jobId")
	if !ok {
		return
	}

	job, err := h.service.CancelSync(c.Request.Context(), middleware.GetBrandID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}
