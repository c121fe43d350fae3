package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectorSlug identifies a supported external provider
type ConnectorSlug string

const (
	ConnectorShopify ConnectorSlug = "shopify"
	ConnectorDukaan  ConnectorSlug = "dukaan"
)

// AllConnectorSlugs returns every supported connector in display order
func AllConnectorSlugs() []ConnectorSlug {
	return []ConnectorSlug{ConnectorShopify, ConnectorDukaan}
}

// ParseConnectorSlug resolves a raw slug to a supported connector
func ParseConnectorSlug(raw string) (ConnectorSlug, bool) {
	for _, slug := range AllConnectorSlugs() {
		if string(slug) == raw {
			return slug, true
		}
	}
	return "", false
}

// ConnectionStatus represents the status of a brand integration connection
type ConnectionStatus string

const (
	ConnectionPending      ConnectionStatus = "pending"
	ConnectionActive       ConnectionStatus = "active"
	ConnectionError        ConnectionStatus = "error"
	ConnectionPaused       ConnectionStatus = "paused"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// MatchIdentifier is the attribute used to correlate provider records with catalog entities
type MatchIdentifier string

const (
	MatchBySKU     MatchIdentifier = "sku"
	MatchByBarcode MatchIdentifier = "barcode"
)

// IsValid reports whether the identifier is one of the supported kinds
func (m MatchIdentifier) IsValid() bool {
	return m == MatchBySKU || m == MatchByBarcode
}

// BrandIntegrationConnection links a brand to an external provider account.
// At most one non-disconnected connection exists per (brand, connector).
type BrandIntegrationConnection struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	BrandID       string        `gorm:"type:varchar(255);not null;index:idx_connections_brand;uniqueIndex:uq_connections_brand_connector,where:status <> 'disconnected'" json:"brandId"`
	ConnectorSlug ConnectorSlug `gorm:"type:varchar(50);not null;uniqueIndex:uq_connections_brand_connector,where:status <> 'disconnected'" json:"connectorSlug"`
	DisplayName   string        `gorm:"type:varchar(255)" json:"displayName,omitempty"`

	// ExternalAccountID is the shop domain or store id on the provider side
	ExternalAccountID string `gorm:"type:varchar(255);not null;index:idx_connections_external_account" json:"externalAccountId"`

	// CredentialRef points into the credential store; never serialized
	CredentialRef string `gorm:"type:varchar(500)" json:"-"`

	Status              ConnectionStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_connections_status" json:"status"`
	MatchIdentifier     MatchIdentifier  `gorm:"type:varchar(20);not null;default:'sku'" json:"matchIdentifier"`
	SyncIntervalSeconds int              `gorm:"default:0" json:"syncIntervalSeconds"`

	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	LastError  string     `gorm:"type:text" json:"lastError,omitempty"`
	ErrorCount int        `gorm:"default:0" json:"errorCount"`

	// ResyncRequestedAt marks provider changes no started run has seen yet
	ResyncRequestedAt *time.Time `json:"resyncRequestedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for BrandIntegrationConnection
func (BrandIntegrationConnection) TableName() string {
	return "brand_integration_connections"
}

// BeforeCreate assigns an id when the caller did not
func (c *BrandIntegrationConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsWritable reports whether configuration writes are accepted for the connection
func (c *BrandIntegrationConnection) IsWritable() bool {
	return c.Status != ConnectionDisconnected
}

// SyncDue reports whether a scheduled sync should run at the given time
func (c *BrandIntegrationConnection) SyncDue(now time.Time) bool {
	if c.Status != ConnectionActive || c.SyncIntervalSeconds <= 0 {
		return false
	}
	if c.LastSyncAt == nil {
		return true
	}
	return !now.Before(c.LastSyncAt.Add(time.Duration(c.SyncIntervalSeconds) * time.Second))
}
