package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/repository"
	"passport-sync-service/internal/secrets"
)

func newConnectionService(h *syncHarness, verify bool) *ConnectionService {
	svc := NewConnectionService(h.conns, h.jobs, h.vault, h.providers, verify, testLogger())
	svc.SetJobStopper(h.syncs)
	return svc
}

func TestConnect(t *testing.T) {
	h := newSyncHarness(t, &fakeProvider{}, testSyncConfig())
	svc := newConnectionService(h, true)
	ctx := context.Background()

	conn, err := svc.Connect(ctx, "brand-2", &ConnectRequest{
		ConnectorSlug:     "shopify",
		ExternalAccountID: "acme.myshopify.com",
		Credentials:       map[string]string{"access_token": "shpat_abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionActive, conn.Status)
	assert.Equal(t, models.MatchBySKU, conn.MatchIdentifier)
	assert.NotEmpty(t, conn.DisplayName)

	secret, err := h.vault.Get(ctx, conn.CredentialRef)
	require.NoError(t, err)
	assert.Equal(t, "shpat_abc", secret.Credentials["access_token"])

	_, err = svc.Connect(ctx, "brand-2", &ConnectRequest{
		ConnectorSlug:     "shopify",
		ExternalAccountID: "other.myshopify.com",
		Credentials:       map[string]string{"access_token": "shpat_def"},
	})
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestConnect_Validation(t *testing.T) {
	h := newSyncHarness(t, &fakeProvider{}, testSyncConfig())
	svc := newConnectionService(h, false)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *ConnectRequest
		want error
	}{
		{
			name: "unknown connector",
			req:  &ConnectRequest{ConnectorSlug: "etsy", ExternalAccountID: "x", Credentials: map[string]string{"k": "v"}},
			want: ErrUnsupportedConnector,
		},
		{
			name: "missing credential key",
			req:  &ConnectRequest{ConnectorSlug: "dukaan", ExternalAccountID: "store-1", Credentials: map[string]string{"access_token": "v"}},
			want: ErrInvalidCredential,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Connect(ctx, "brand-3", tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))
		})
	}

	_, err := svc.Connect(ctx, "brand-3", &ConnectRequest{
		ConnectorSlug:     "dukaan",
		ExternalAccountID: "store-1",
		Credentials:       map[string]string{"api_key": "k"},
		MatchIdentifier:   models.MatchByBarcode,
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "matchIdentifier", ve.Field)

	_, err = svc.Connect(ctx, "brand-3", &ConnectRequest{
		ConnectorSlug:     "shopify",
		ExternalAccountID: "  ",
		Credentials:       map[string]string{"access_token": "v"},
	})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "externalAccountId", ve.Field)
}

func TestConnect_VerifiesCredentials(t *testing.T) {
	provider := &fakeProvider{testErr: &clients.ProviderError{Provider: models.ConnectorShopify, Kind: clients.ErrorKindAuth, StatusCode: 401}}
	h := newSyncHarness(t, provider, testSyncConfig())
	svc := newConnectionService(h, true)
	req := &ConnectRequest{
		ConnectorSlug:     "shopify",
		ExternalAccountID: "acme",
		Credentials:       map[string]string{"access_token": "bad"},
	}

	_, err := svc.Connect(context.Background(), "brand-4", req)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	provider.testErr = &clients.ProviderError{Provider: models.ConnectorShopify, Kind: clients.ErrorKindUnavailable, StatusCode: 503}
	_, err = svc.Connect(context.Background(), "brand-4", req)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	conns, err := svc.List(context.Background(), "brand-4")
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestUpdateSettings(t *testing.T) {
	h := newSyncHarness(t, &fakeProvider{}, testSyncConfig())
	svc := newConnectionService(h, false)
	ctx := context.Background()

	interval := 3600
	paused := models.ConnectionPaused
	conn, err := svc.UpdateSettings(ctx, testBrand, h.conn.ID, &UpdateSettingsRequest{
		SyncIntervalSeconds: &interval,
		Status:              &paused,
	})
	require.NoError(t, err)
	assert.Equal(t, 3600, conn.SyncIntervalSeconds)
	assert.Equal(t, models.ConnectionPaused, conn.Status)

	disconnected := models.ConnectionDisconnected
	_, err = svc.UpdateSettings(ctx, testBrand, h.conn.ID, &UpdateSettingsRequest{Status: &disconnected})
	assert.True(t, IsValidationError(err))

	negative := -1
	_, err = svc.UpdateSettings(ctx, testBrand, h.conn.ID, &UpdateSettingsRequest{SyncIntervalSeconds: &negative})
	assert.True(t, IsValidationError(err))

	_, err = svc.UpdateSettings(ctx, "other-brand", h.conn.ID, &UpdateSettingsRequest{})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestTestConnection(t *testing.T) {
	provider := &fakeProvider{testErr: &clients.ProviderError{Provider: models.ConnectorShopify, Kind: clients.ErrorKindAuth, StatusCode: 401}}
	h := newSyncHarness(t, provider, testSyncConfig())
	svc := newConnectionService(h, false)
	ctx := context.Background()

	result, err := svc.TestConnection(ctx, testBrand, h.conn.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)

	conn, err := svc.Get(ctx, testBrand, h.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionError, conn.Status)

	provider.testErr = nil
	result, err = svc.TestConnection(ctx, testBrand, h.conn.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	conn, err = svc.Get(ctx, testBrand, h.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionActive, conn.Status)
}

func TestDisconnect_CancelsInFlightAndKeepsCatalog(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	h := newSyncHarness(t, &fakeProvider{products: makeProducts(2)}, testSyncConfig())
	h.ownEverything(t)
	svc := newConnectionService(h, false)
	ctx := context.Background()

	h.runSync(t)

	h.provider.gate = gate
	job, err := h.syncs.TriggerSync(ctx, testBrand, h.conn.ID, models.TriggerManual)
	require.NoError(t, err)
	h.waitForStatus(t, job.ID, models.SyncStatusRunning)

	require.NoError(t, svc.Disconnect(ctx, testBrand, h.conn.ID))
	h.syncs.Wait()

	_, err = svc.Get(ctx, testBrand, h.conn.ID)
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	_, err = h.jobs.GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = h.vault.Get(ctx, h.conn.CredentialRef)
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)

	count, err := h.catalog.CountProducts(ctx, testBrand)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// the brand can connect the same connector again
	_, err = svc.Connect(ctx, testBrand, &ConnectRequest{
		ConnectorSlug:     "shopify",
		ExternalAccountID: "acme",
		Credentials:       map[string]string{"access_token": "shpat_new"},
	})
	assert.NoError(t, err)
}

func TestMarkUninstalled(t *testing.T) {
	h := newSyncHarness(t, &fakeProvider{}, testSyncConfig())
	svc := newConnectionService(h, false)
	ctx := context.Background()

	n, err := svc.MarkUninstalled(ctx, models.ConnectorShopify, []string{"unknown", h.conn.ExternalAccountID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	conn, err := svc.Get(ctx, testBrand, h.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionError, conn.Status)

	found, err := svc.FindByExternalAccount(ctx, models.ConnectorShopify, []string{h.conn.ExternalAccountID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, h.conn.ID, found[0].ID)
}

func TestDisconnectBrand(t *testing.T) {
	h := newSyncHarness(t, &fakeProvider{}, testSyncConfig())
	svc := newConnectionService(h, false)

	n, err := svc.DisconnectBrand(context.Background(), testBrand)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	conns, err := svc.List(context.Background(), testBrand)
	require.NoError(t, err)
	assert.Empty(t, conns)
}
