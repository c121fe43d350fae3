package progress

import (
	"time"

	"github.com/google/uuid"

	"passport-sync-service/internal/models"
)

// Event is a persisted progress checkpoint of a sync job
type Event struct {
	JobID             uuid.UUID           `json:"jobId"`
	ConnectionID      uuid.UUID           `json:"connectionId"`
	BrandID           string              `json:"brandId"`
	Status            models.SyncStatus   `json:"status"`
	ProductsProcessed int                 `json:"productsProcessed"`
	ProductsTotal     *int                `json:"productsTotal"`
	Summary           *models.SyncSummary `json:"summary,omitempty"`
	ErrorSummary      *string             `json:"errorSummary,omitempty"`
	EmittedAt         time.Time           `json:"emittedAt"`
}

// EventFromJob builds an event from a stored job row
func EventFromJob(job *models.SyncJob) Event {
	summary := job.Summary
	return Event{
		JobID:             job.ID,
		ConnectionID:      job.ConnectionID,
		BrandID:           job.BrandID,
		Status:            job.Status,
		ProductsProcessed: job.ProductsProcessed,
		ProductsTotal:     job.ProductsTotal,
		Summary:           &summary,
		ErrorSummary:      job.ErrorSummary,
		EmittedAt:         time.Now().UTC(),
	}
}
