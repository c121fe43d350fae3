package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"passport-sync-service/internal/models"
)

const vaultAlgorithm = "AES-256-GCM"

// Vault stores connector credentials encrypted in the service database.
// It is used when no GCP project is configured.
type Vault struct {
	db         *gorm.DB
	gcm        cipher.AEAD
	keyVersion int
}

var _ CredentialStore = (*Vault)(nil)

// NewVault creates a vault from a base64-encoded 32 byte key
func NewVault(db *gorm.DB, encodedKey string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return newVault(db, key)
}

// NewEphemeralVault creates a vault with a random key that lives only as long as the process
func NewEphemeralVault(db *gorm.DB) (*Vault, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newVault(db, key)
}

func newVault(db *gorm.DB, key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Vault{db: db, gcm: gcm, keyVersion: 1}, nil
}

// BuildRef constructs the vault key for a connection
func (v *Vault) BuildRef(brandID, connectorSlug, connectionID string) string {
	return fmt.Sprintf("vault:%s/%s/%s",
		sanitizeSecretID(brandID), sanitizeSecretID(connectorSlug), sanitizeSecretID(connectionID))
}

// Put encrypts and upserts a secret
func (v *Vault) Put(ctx context.Context, ref string, secret *ConnectorSecret) error {
	secret.UpdatedAt = time.Now().UTC()
	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = secret.UpdatedAt
	}

	plaintext, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("failed to serialize secret: %w", err)
	}

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	// the reference is bound as associated data so rows cannot be swapped
	ciphertext := v.gcm.Seal(nil, nonce, plaintext, []byte(ref))

	row := models.ConnectorCredential{
		Ref:        ref,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		KeyVersion: v.keyVersion,
		Algorithm:  vaultAlgorithm,
	}
	return v.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ref"}},
			DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "nonce", "key_version", "algorithm", "updated_at"}),
		}).
		Create(&row).Error
}

// Get loads and decrypts a secret
func (v *Vault) Get(ctx context.Context, ref string) (*ConnectorSecret, error) {
	var row models.ConnectorCredential
	if err := v.db.WithContext(ctx).First(&row, "ref = ?", ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(row.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(row.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, []byte(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	var secret ConnectorSecret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return nil, fmt.Errorf("failed to deserialize secret: %w", err)
	}
	return &secret, nil
}

// Delete removes a secret; deleting a missing secret is not an error
func (v *Vault) Delete(ctx context.Context, ref string) error {
	return v.db.WithContext(ctx).Delete(&models.ConnectorCredential{}, "ref = ?", ref).Error
}
