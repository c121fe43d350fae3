package models

import "time"

// ConnectorCredential is an encrypted credential blob held by the database vault.
// Only used when no external secret manager is configured.
type ConnectorCredential struct {
	Ref        string `gorm:"type:varchar(500);primaryKey" json:"-"`
	Ciphertext string `gorm:"type:text;not null" json:"-"`
	Nonce      string `gorm:"type:varchar(64);not null" json:"-"`
	KeyVersion int    `gorm:"not null;default:1" json:"keyVersion"`
	Algorithm  string `gorm:"type:varchar(20);not null" json:"algorithm"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for ConnectorCredential
func (ConnectorCredential) TableName() string {
	return "connector_credentials"
}
