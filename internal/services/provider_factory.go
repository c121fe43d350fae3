package services

import (
	"context"
	"errors"
	"fmt"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/connectors"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/secrets"
)

// ClientFactory builds an uninitialized adapter for a connector
type ClientFactory func(slug models.ConnectorSlug) (clients.ProviderClient, error)

// DefaultClientFactory builds adapters from the connector registry
func DefaultClientFactory(slug models.ConnectorSlug) (clients.ProviderClient, error) {
	def, ok := connectors.Lookup(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConnector, slug)
	}
	return def.NewClient(), nil
}

// ProviderFactory opens authenticated provider clients for connections
type ProviderFactory struct {
	store     secrets.CredentialStore
	newClient ClientFactory
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(store secrets.CredentialStore, newClient ClientFactory) *ProviderFactory {
	if newClient == nil {
		newClient = DefaultClientFactory
	}
	return &ProviderFactory{store: store, newClient: newClient}
}

// Open loads the connection's credentials and initializes its adapter
func (f *ProviderFactory) Open(ctx context.Context, conn *models.BrandIntegrationConnection) (clients.ProviderClient, error) {
	if f.store == nil {
		return nil, ErrCredentialStoreAbsent
	}

	secret, err := f.store.Get(ctx, conn.CredentialRef)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: stored credentials are missing", ErrInvalidCredential)
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	return f.Init(ctx, conn.ConnectorSlug, conn.ExternalAccountID, secret.Credentials)
}

// Init initializes an adapter from raw credentials
func (f *ProviderFactory) Init(ctx context.Context, slug models.ConnectorSlug, account string, credentials map[string]string) (clients.ProviderClient, error) {
	client, err := f.newClient(slug)
	if err != nil {
		return nil, err
	}
	if err := client.Initialize(ctx, account, credentials); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return client, nil
}
