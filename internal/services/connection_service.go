package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/connectors"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/repository"
	"passport-sync-service/internal/secrets"
)

// JobStopper stops runs executing on this instance
type JobStopper interface {
	StopLocal(jobID uuid.UUID)
}

// ConnectionService handles brand integration connection operations
type ConnectionService struct {
	repo            repository.ConnectionRepositoryInterface
	syncRepo        repository.SyncJobRepositoryInterface
	store           secrets.CredentialStore
	providers       *ProviderFactory
	stopper         JobStopper
	verifyOnConnect bool
	logger          *logrus.Entry
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	repo repository.ConnectionRepositoryInterface,
	syncRepo repository.SyncJobRepositoryInterface,
	store secrets.CredentialStore,
	providers *ProviderFactory,
	verifyOnConnect bool,
	logger *logrus.Logger,
) *ConnectionService {
	return &ConnectionService{
		repo:            repo,
		syncRepo:        syncRepo,
		store:           store,
		providers:       providers,
		verifyOnConnect: verifyOnConnect,
		logger:          logger.WithField("component", "connection_service"),
	}
}

// SetJobStopper wires the local runner so disconnect can stop in-flight work
func (s *ConnectionService) SetJobStopper(stopper JobStopper) {
	s.stopper = stopper
}

// ConnectRequest contains the data for connecting a provider account
type ConnectRequest struct {
	ConnectorSlug       string                 `json:"connectorSlug" binding:"required"`
	ExternalAccountID   string                 `json:"externalAccountId" binding:"required"`
	DisplayName         string                 `json:"displayName"`
	Credentials         map[string]string      `json:"credentials" binding:"required"`
	SyncIntervalSeconds int                    `json:"syncIntervalSeconds"`
	MatchIdentifier     models.MatchIdentifier `json:"matchIdentifier"`
}

// UpdateSettingsRequest contains the mutable connection settings
type UpdateSettingsRequest struct {
	DisplayName         *string                  `json:"displayName"`
	SyncIntervalSeconds *int                     `json:"syncIntervalSeconds"`
	MatchIdentifier     *models.MatchIdentifier  `json:"matchIdentifier"`
	Status              *models.ConnectionStatus `json:"status"`
}

// TestResult is the outcome of a connection test
type TestResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Connect links a brand to a provider account and stores its credentials
func (s *ConnectionService) Connect(ctx context.Context, brandID string, req *ConnectRequest) (*models.BrandIntegrationConnection, error) {
	slug, ok := models.ParseConnectorSlug(req.ConnectorSlug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConnector, req.ConnectorSlug)
	}
	def, _ := connectors.Lookup(slug)

	account := strings.TrimSpace(req.ExternalAccountID)
	if account == "" {
		return nil, &ValidationError{Field: "externalAccountId", Message: "must not be empty"}
	}
	if missing := def.MissingCredentials(req.Credentials); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidCredential, strings.Join(missing, ", "))
	}
	if req.SyncIntervalSeconds < 0 {
		return nil, &ValidationError{Field: "syncIntervalSeconds", Message: "must not be negative"}
	}
	matchIdentifier := req.MatchIdentifier
	if matchIdentifier == "" {
		matchIdentifier = models.MatchBySKU
	}
	if !def.SupportsMatchIdentifier(matchIdentifier) {
		return nil, &ValidationError{Field: "matchIdentifier", Message: fmt.Sprintf("%s does not support matching by %q", def.DisplayName, matchIdentifier)}
	}
	if s.store == nil {
		return nil, ErrCredentialStoreAbsent
	}

	if _, err := s.repo.GetActiveByBrandAndSlug(ctx, brandID, slug); err == nil {
		return nil, ErrAlreadyConnected
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if s.verifyOnConnect {
		if err := s.verify(ctx, slug, account, req.Credentials); err != nil {
			return nil, err
		}
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = fmt.Sprintf("%s (%s)", def.DisplayName, account)
	}

	connection := &models.BrandIntegrationConnection{
		ID:                  uuid.New(),
		BrandID:             brandID,
		ConnectorSlug:       slug,
		DisplayName:         displayName,
		ExternalAccountID:   account,
		Status:              models.ConnectionActive,
		MatchIdentifier:     matchIdentifier,
		SyncIntervalSeconds: req.SyncIntervalSeconds,
	}
	connection.CredentialRef = s.store.BuildRef(brandID, string(slug), connection.ID.String())

	now := time.Now().UTC()
	secret := &secrets.ConnectorSecret{
		Connector:   string(slug),
		Credentials: req.Credentials,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, connection.CredentialRef, secret); err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	if err := s.repo.Create(ctx, connection); err != nil {
		// Rollback secret creation if DB fails (best effort, ignore errors)
		_ = s.store.Delete(ctx, connection.CredentialRef)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyConnected
		}
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"brand_id":      brandID,
		"connection_id": connection.ID,
		"connector":     slug,
		"credential":    secrets.MaskRef(connection.CredentialRef),
	}).Info("Connection created")

	return connection, nil
}

// Get retrieves a connection of the brand
func (s *ConnectionService) Get(ctx context.Context, brandID string, id uuid.UUID) (*models.BrandIntegrationConnection, error) {
	conn, err := s.repo.GetForBrand(ctx, brandID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return conn, nil
}

// List retrieves the connections of a brand
func (s *ConnectionService) List(ctx context.Context, brandID string) ([]models.BrandIntegrationConnection, error) {
	return s.repo.ListByBrand(ctx, brandID)
}

// UpdateSettings changes the sync interval, match identifier, name or pause state
func (s *ConnectionService) UpdateSettings(ctx context.Context, brandID string, id uuid.UUID, req *UpdateSettingsRequest) (*models.BrandIntegrationConnection, error) {
	conn, err := s.Get(ctx, brandID, id)
	if err != nil {
		return nil, err
	}
	if !conn.IsWritable() {
		return nil, ErrConnectionNotActive
	}
	def, _ := connectors.Lookup(conn.ConnectorSlug)

	if req.DisplayName != nil {
		conn.DisplayName = strings.TrimSpace(*req.DisplayName)
	}
	if req.SyncIntervalSeconds != nil {
		if *req.SyncIntervalSeconds < 0 {
			return nil, &ValidationError{Field: "syncIntervalSeconds", Message: "must not be negative"}
		}
		conn.SyncIntervalSeconds = *req.SyncIntervalSeconds
	}
	if req.MatchIdentifier != nil {
		if !def.SupportsMatchIdentifier(*req.MatchIdentifier) {
			return nil, &ValidationError{Field: "matchIdentifier", Message: fmt.Sprintf("%s does not support matching by %q", def.DisplayName, *req.MatchIdentifier)}
		}
		conn.MatchIdentifier = *req.MatchIdentifier
	}
	if req.Status != nil && *req.Status != conn.Status {
		switch *req.Status {
		case models.ConnectionPaused, models.ConnectionActive:
			conn.Status = *req.Status
		default:
			return nil, &ValidationError{Field: "status", Message: "only active or paused can be set"}
		}
	}

	if err := s.repo.Update(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to update connection: %w", err)
	}
	return conn, nil
}

// TestConnection checks the stored credentials against the provider.
// An auth rejection moves the connection to error; a passing test clears it.
func (s *ConnectionService) TestConnection(ctx context.Context, brandID string, id uuid.UUID) (*TestResult, error) {
	conn, err := s.Get(ctx, brandID, id)
	if err != nil {
		return nil, err
	}
	if !conn.IsWritable() {
		return nil, ErrConnectionNotActive
	}

	result := &TestResult{CheckedAt: time.Now().UTC()}

	client, err := s.providers.Open(ctx, conn)
	if err == nil {
		err = client.TestConnection(ctx)
	}
	if err != nil {
		result.Message = err.Error()
		if clients.IsAuthError(err) || errors.Is(err, ErrInvalidCredential) {
			if updateErr := s.repo.UpdateStatus(ctx, conn.ID, models.ConnectionError, err.Error()); updateErr != nil {
				s.logger.WithError(updateErr).WithField("connection_id", conn.ID).Error("Failed to record connection error")
			}
		}
		return result, nil
	}

	result.Success = true
	result.Message = "Connection successful"
	if conn.Status == models.ConnectionError {
		if err := s.repo.UpdateStatus(ctx, conn.ID, models.ConnectionActive, ""); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Disconnect cancels in-flight jobs and removes the connection with its mappings and history.
// Catalog entities are kept.
func (s *ConnectionService) Disconnect(ctx context.Context, brandID string, id uuid.UUID) error {
	conn, err := s.Get(ctx, brandID, id)
	if err != nil {
		return err
	}

	cancelled, err := s.syncRepo.CancelInFlightForConnection(ctx, conn.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to cancel in-flight jobs: %w", err)
	}
	if s.stopper != nil {
		for _, jobID := range cancelled {
			s.stopper.StopLocal(jobID)
		}
	}

	if err := s.repo.DeleteCascade(ctx, conn.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrConnectionNotFound
		}
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	if s.store != nil && conn.CredentialRef != "" {
		if err := s.store.Delete(ctx, conn.CredentialRef); err != nil {
			s.logger.WithError(err).WithField("connection_id", conn.ID).Warn("Failed to delete stored credentials")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"brand_id":       brandID,
		"connection_id":  conn.ID,
		"cancelled_jobs": len(cancelled),
	}).Info("Connection disconnected")
	return nil
}

// DisconnectBrand removes every connection of a brand
func (s *ConnectionService) DisconnectBrand(ctx context.Context, brandID string) (int, error) {
	conns, err := s.repo.ListByBrand(ctx, brandID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, conn := range conns {
		if err := s.Disconnect(ctx, brandID, conn.ID); err != nil && !errors.Is(err, ErrConnectionNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// MarkUninstalled records that the provider revoked the app for an account
func (s *ConnectionService) MarkUninstalled(ctx context.Context, slug models.ConnectorSlug, accounts []string) (int, error) {
	updated := 0
	for _, account := range accounts {
		conns, err := s.repo.ListByExternalAccount(ctx, slug, account)
		if err != nil {
			return updated, err
		}
		for _, conn := range conns {
			if err := s.repo.UpdateStatus(ctx, conn.ID, models.ConnectionError, "app uninstalled by the provider"); err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}

// FindByExternalAccount returns the live connections of a provider account
func (s *ConnectionService) FindByExternalAccount(ctx context.Context, slug models.ConnectorSlug, accounts []string) ([]models.BrandIntegrationConnection, error) {
	var out []models.BrandIntegrationConnection
	for _, account := range accounts {
		conns, err := s.repo.ListByExternalAccount(ctx, slug, account)
		if err != nil {
			return nil, err
		}
		out = append(out, conns...)
	}
	return out, nil
}

func (s *ConnectionService) verify(ctx context.Context, slug models.ConnectorSlug, account string, credentials map[string]string) error {
	client, err := s.providers.Init(ctx, slug, account, credentials)
	if err != nil {
		return err
	}
	if err := client.TestConnection(ctx); err != nil {
		if clients.IsAuthError(err) {
			return fmt.Errorf("%w: provider rejected the credentials", ErrInvalidCredential)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}
