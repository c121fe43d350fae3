package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/connectors"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/repository"
)

// FieldToggle is one requested ownership change
type FieldToggle struct {
	FieldKey string `json:"fieldKey" binding:"required"`
	Enabled  bool   `json:"enabled"`
}

// FieldMappingView is a schema field together with its effective ownership
type FieldMappingView struct {
	connectors.FieldMeta
	Enabled    bool `json:"enabled"`
	Toggleable bool `json:"toggleable"`
}

// FieldMappingsResult lists a connection's ownership state.
// SetupCompleted is false while no mapping row exists, which is distinct from every field disabled.
type FieldMappingsResult struct {
	ConnectionID   uuid.UUID            `json:"connectionId"`
	ConnectorSlug  models.ConnectorSlug `json:"connectorSlug"`
	SetupCompleted bool                 `json:"setupCompleted"`
	Mappings       []FieldMappingView   `json:"mappings"`
}

// OwnershipSet is the snapshot of fields a connection may write
type OwnershipSet map[string]bool

// Owns reports whether the field may be written
func (o OwnershipSet) Owns(fieldKey string) bool {
	return o[fieldKey]
}

// FieldOwnershipService manages which connection owns each catalog field
type FieldOwnershipService struct {
	connRepo    repository.ConnectionRepositoryInterface
	mappingRepo repository.FieldMappingRepositoryInterface
	logger      *logrus.Entry
}

// NewFieldOwnershipService creates a new field ownership service
func NewFieldOwnershipService(
	connRepo repository.ConnectionRepositoryInterface,
	mappingRepo repository.FieldMappingRepositoryInterface,
	logger *logrus.Logger,
) *FieldOwnershipService {
	return &FieldOwnershipService{
		connRepo:    connRepo,
		mappingRepo: mappingRepo,
		logger:      logger.WithField("component", "field_ownership"),
	}
}

// ListMappings returns the effective ownership of every schema field
func (s *FieldOwnershipService) ListMappings(ctx context.Context, brandID string, connectionID uuid.UUID) (*FieldMappingsResult, error) {
	conn, def, err := s.loadConnection(ctx, brandID, connectionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.mappingRepo.ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field mappings: %w", err)
	}

	result := &FieldMappingsResult{
		ConnectionID:  conn.ID,
		ConnectorSlug: conn.ConnectorSlug,
		Mappings:      []FieldMappingView{},
	}
	if len(rows) == 0 {
		return result, nil
	}

	result.SetupCompleted = true
	state := effectiveState(def, storedState(rows))
	for _, f := range def.Fields {
		result.Mappings = append(result.Mappings, FieldMappingView{
			FieldMeta:  f,
			Enabled:    state[f.Key],
			Toggleable: f.Toggleable(),
		})
	}
	return result, nil
}

// BatchSetMappings writes one row per schema field.
// Unspecified fields default to enabled and coupled fields follow their anchor.
func (s *FieldOwnershipService) BatchSetMappings(ctx context.Context, brandID string, connectionID uuid.UUID, toggles []FieldToggle) (*FieldMappingsResult, error) {
	conn, def, err := s.loadWritableConnection(ctx, brandID, connectionID)
	if err != nil {
		return nil, err
	}

	desired := make(map[string]bool, len(toggles))
	for _, t := range toggles {
		field, ok := def.Field(t.FieldKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, t.FieldKey)
		}
		if field.Required && !t.Enabled {
			return nil, fmt.Errorf("%w: %s is required", ErrRequiredField, t.FieldKey)
		}
		desired[t.FieldKey] = t.Enabled
	}

	state := defaultState(def, desired)
	if err := s.write(ctx, conn, def.Fields, state); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"brand_id":      brandID,
		"connection_id": connectionID,
		"fields":        len(def.Fields),
	}).Info("Field mappings saved")

	return s.ListMappings(ctx, brandID, connectionID)
}

// SetMapping toggles a single field.
// Required and coupled fields are rejected; toggling an anchor also toggles its coupled fields.
func (s *FieldOwnershipService) SetMapping(ctx context.Context, brandID string, connectionID uuid.UUID, fieldKey string, enabled bool) (*FieldMappingsResult, error) {
	conn, def, err := s.loadWritableConnection(ctx, brandID, connectionID)
	if err != nil {
		return nil, err
	}

	field, ok := def.Field(fieldKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, fieldKey)
	}
	if field.Required {
		return nil, fmt.Errorf("%w: %s is required", ErrRequiredField, fieldKey)
	}
	if field.CoupledTo != "" {
		return nil, fmt.Errorf("%w: %s follows %s", ErrRequiredField, fieldKey, field.CoupledTo)
	}

	rows, err := s.mappingRepo.ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field mappings: %w", err)
	}

	// Before setup completes the full default set is materialized
	var state map[string]bool
	if len(rows) == 0 {
		state = defaultState(def, map[string]bool{fieldKey: enabled})
	} else {
		current := storedState(rows)
		current[fieldKey] = enabled
		state = effectiveState(def, current)
	}

	fields := def.Fields
	if len(rows) > 0 {
		fields = append([]connectors.FieldMeta{field}, def.Dependents(fieldKey)...)
	}
	if err := s.write(ctx, conn, fields, state); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"brand_id":      brandID,
		"connection_id": connectionID,
		"field":         fieldKey,
		"enabled":       enabled,
	}).Info("Field mapping updated")

	return s.ListMappings(ctx, brandID, connectionID)
}

// Resolve returns the fields the connection may write, evaluated once per job.
// Before setup completes only required fields are owned.
func (s *FieldOwnershipService) Resolve(ctx context.Context, conn *models.BrandIntegrationConnection) (OwnershipSet, error) {
	def, ok := connectors.Lookup(conn.ConnectorSlug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConnector, conn.ConnectorSlug)
	}

	rows, err := s.mappingRepo.ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve field ownership: %w", err)
	}

	state := effectiveState(def, storedState(rows))
	owned := make(OwnershipSet, len(state))
	for key, enabled := range state {
		if enabled {
			owned[key] = true
		}
	}
	return owned, nil
}

// write upserts the given fields and takes ownership of the enabled ones away from sibling connections
func (s *FieldOwnershipService) write(ctx context.Context, conn *models.BrandIntegrationConnection, fields []connectors.FieldMeta, state map[string]bool) error {
	rows := make([]models.FieldOwnershipMapping, 0, len(fields))
	var claimed []string
	for _, f := range fields {
		rows = append(rows, models.FieldOwnershipMapping{
			ConnectionID: conn.ID,
			BrandID:      conn.BrandID,
			FieldKey:     f.Key,
			Enabled:      state[f.Key],
		})
		if state[f.Key] && !f.Required {
			claimed = append(claimed, f.Key)
		}
	}

	return s.mappingRepo.WithTransaction(ctx, func(repo repository.FieldMappingRepositoryInterface) error {
		if err := repo.Upsert(ctx, rows); err != nil {
			return fmt.Errorf("failed to save field mappings: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}
		released, err := repo.DisableOnOtherConnections(ctx, conn.BrandID, conn.ID, claimed)
		if err != nil {
			return fmt.Errorf("failed to transfer field ownership: %w", err)
		}
		if released > 0 {
			s.logger.WithFields(logrus.Fields{
				"brand_id":      conn.BrandID,
				"connection_id": conn.ID,
				"released":      released,
			}).Info("Field ownership transferred from other connections")
		}
		return nil
	})
}

func (s *FieldOwnershipService) loadConnection(ctx context.Context, brandID string, connectionID uuid.UUID) (*models.BrandIntegrationConnection, connectors.Definition, error) {
	conn, err := s.connRepo.GetForBrand(ctx, brandID, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, connectors.Definition{}, ErrConnectionNotFound
		}
		return nil, connectors.Definition{}, err
	}
	def, ok := connectors.Lookup(conn.ConnectorSlug)
	if !ok {
		return nil, connectors.Definition{}, fmt.Errorf("%w: %s", ErrUnsupportedConnector, conn.ConnectorSlug)
	}
	return conn, def, nil
}

func (s *FieldOwnershipService) loadWritableConnection(ctx context.Context, brandID string, connectionID uuid.UUID) (*models.BrandIntegrationConnection, connectors.Definition, error) {
	conn, def, err := s.loadConnection(ctx, brandID, connectionID)
	if err != nil {
		return nil, def, err
	}
	if !conn.IsWritable() {
		return nil, def, ErrConnectionNotActive
	}
	return conn, def, nil
}

func storedState(rows []models.FieldOwnershipMapping) map[string]bool {
	state := make(map[string]bool, len(rows))
	for _, row := range rows {
		state[row.FieldKey] = row.Enabled
	}
	return state
}

// defaultState fills unspecified fields with enabled before normalizing
func defaultState(def connectors.Definition, desired map[string]bool) map[string]bool {
	state := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		enabled, ok := desired[f.Key]
		if !ok {
			enabled = true
		}
		state[f.Key] = enabled
	}
	return effectiveState(def, state)
}

// effectiveState forces required fields on and makes coupled fields mirror their anchor.
// Fields missing from stored are disabled.
func effectiveState(def connectors.Definition, stored map[string]bool) map[string]bool {
	state := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		state[f.Key] = f.Required || stored[f.Key]
	}
	for _, f := range def.Fields {
		if f.CoupledTo != "" {
			state[f.Key] = state[f.CoupledTo]
		}
	}
	return state
}
