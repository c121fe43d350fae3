package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncStatus represents the status of a sync job
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// InFlightStatuses are the statuses that hold the per-connection sync slot
func InFlightStatuses() []SyncStatus {
	return []SyncStatus{SyncStatusPending, SyncStatusRunning}
}

// IsInFlight reports whether the status holds the connection's sync slot
func (s SyncStatus) IsInFlight() bool {
	return s == SyncStatusPending || s == SyncStatusRunning
}

// IsTerminal reports whether no further transitions are possible
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusCancelled
}

// TriggerType represents what triggered the sync
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerWebhook   TriggerType = "webhook"
)

// SyncSummary holds the per-run outcome counts
type SyncSummary struct {
	Created int `gorm:"default:0" json:"created"`
	Updated int `gorm:"default:0" json:"updated"`
	Skipped int `gorm:"default:0" json:"skipped"`
}

// SyncJob represents one sync attempt for a connection.
// The partial unique index keeps a single pending or running job per connection.
type SyncJob struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ConnectionID uuid.UUID   `gorm:"type:uuid;not null;index:idx_sync_jobs_connection_created,priority:1;uniqueIndex:uq_sync_jobs_in_flight,where:status = 'pending' OR status = 'running'" json:"connectionId"`
	BrandID      string      `gorm:"type:varchar(255);not null;index:idx_sync_jobs_brand" json:"brandId"`
	Status       SyncStatus  `gorm:"type:varchar(20);not null;default:'pending';index:idx_sync_jobs_status" json:"status"`
	Trigger      TriggerType `gorm:"type:varchar(20);not null;default:'manual'" json:"trigger"`

	// ProductsProcessed counts every record handled, skipped ones included
	ProductsProcessed int  `gorm:"not null;default:0" json:"productsProcessed"`
	ProductsTotal     *int `json:"productsTotal"`

	Summary      SyncSummary `gorm:"embedded;embeddedPrefix:summary_" json:"summary"`
	ErrorSummary *string     `gorm:"type:text" json:"errorSummary"`

	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_sync_jobs_connection_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for SyncJob
func (SyncJob) TableName() string {
	return "sync_jobs"
}

// BeforeCreate assigns an id when the caller did not
func (j *SyncJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// LogLevel represents the severity of a sync log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SyncLog is an entry in a job's log: lifecycle events and skipped records
type SyncLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_sync_logs_job" json:"jobId"`
	Level      LogLevel       `gorm:"type:varchar(10);not null" json:"level"`
	Message    string         `gorm:"type:text;not null" json:"message"`
	ExternalID string         `gorm:"type:varchar(255)" json:"externalId,omitempty"`
	Data       datatypes.JSON `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// TableName specifies the table name for SyncLog
func (SyncLog) TableName() string {
	return "sync_logs"
}

// BeforeCreate assigns an id when the caller did not
func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
