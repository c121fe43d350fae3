package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/connectors"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/repository"
)

// RecordOutcome is what applying one source record did to the catalog
type RecordOutcome string

const (
	OutcomeCreated   RecordOutcome = "created"
	OutcomeUpdated   RecordOutcome = "updated"
	OutcomeUnchanged RecordOutcome = "unchanged"
	OutcomeSkipped   RecordOutcome = "skipped"
)

// SkipError explains why a record was not applied
type SkipError struct {
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// RecordApplier matches normalized source records against the brand catalog
// and writes the fields the connection owns. Each record is applied in its own transaction.
type RecordApplier struct {
	catalog repository.CatalogRepositoryInterface
	conn    *models.BrandIntegrationConnection
	owned   OwnershipSet
	now     func() time.Time
}

// NewRecordApplier creates an applier bound to a connection and its ownership snapshot
func NewRecordApplier(catalog repository.CatalogRepositoryInterface, conn *models.BrandIntegrationConnection, owned OwnershipSet) *RecordApplier {
	return &RecordApplier{
		catalog: catalog,
		conn:    conn,
		owned:   owned,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply upserts one record. A non-nil error always comes with OutcomeSkipped.
func (a *RecordApplier) Apply(ctx context.Context, record clients.SourceProduct) (RecordOutcome, error) {
	kind := a.conn.MatchIdentifier
	if strings.TrimSpace(record.ExternalID) == "" {
		return OutcomeSkipped, &SkipError{Reason: "missing external id"}
	}

	var variants []clients.SourceVariant
	for _, v := range record.Variants {
		if strings.TrimSpace(v.Identifier(kind)) != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return OutcomeSkipped, &SkipError{Reason: fmt.Sprintf("missing %s on every variant", kind)}
	}

	var outcome RecordOutcome
	err := a.catalog.WithTransaction(ctx, func(tx repository.CatalogRepositoryInterface) error {
		var err error
		outcome, err = a.apply(ctx, tx, record, variants)
		return err
	})
	if err != nil {
		var skip *SkipError
		if errors.As(err, &skip) {
			return OutcomeSkipped, skip
		}
		return OutcomeSkipped, &SkipError{Reason: "catalog write failed", Err: err}
	}
	return outcome, nil
}

type productMatch struct {
	product   *models.Product
	matchType models.MatchType
	value     string
}

func (a *RecordApplier) apply(ctx context.Context, tx repository.CatalogRepositoryInterface, record clients.SourceProduct, variants []clients.SourceVariant) (RecordOutcome, error) {
	match, err := a.resolveProduct(ctx, tx, record, variants)
	if err != nil {
		return "", err
	}
	if match == nil {
		if err := a.create(ctx, tx, record, variants); err != nil {
			return "", err
		}
		return OutcomeCreated, nil
	}

	changed, err := a.update(ctx, tx, match, record, variants)
	if err != nil {
		return "", err
	}
	if changed {
		return OutcomeUpdated, nil
	}
	return OutcomeUnchanged, nil
}

// resolveProduct looks up the external id mapping first, then the match identifier
func (a *RecordApplier) resolveProduct(ctx context.Context, tx repository.CatalogRepositoryInterface, record clients.SourceProduct, variants []clients.SourceVariant) (*productMatch, error) {
	mapping, err := tx.FindMapping(ctx, a.conn.ID, models.EntityProduct, record.ExternalID)
	switch {
	case err == nil:
		product, err := tx.GetProduct(ctx, a.conn.BrandID, mapping.InternalID)
		if err == nil {
			return &productMatch{product: product, matchType: mapping.MatchType, value: mapping.MatchValue}, nil
		}
		// The mapped product was removed from the catalog; match again
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	kind := a.conn.MatchIdentifier
	for _, v := range variants {
		value := strings.TrimSpace(v.Identifier(kind))
		variant, err := tx.FindVariantByIdentifier(ctx, a.conn.BrandID, kind, value)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		product, err := tx.GetProduct(ctx, a.conn.BrandID, variant.ProductID)
		if err != nil {
			return nil, err
		}
		return &productMatch{product: product, matchType: models.MatchType(kind), value: value}, nil
	}
	return nil, nil
}

func (a *RecordApplier) create(ctx context.Context, tx repository.CatalogRepositoryInterface, record clients.SourceProduct, variants []clients.SourceVariant) error {
	name := strings.TrimSpace(record.Name)
	if name == "" {
		return &SkipError{Reason: "missing product name"}
	}

	product := &models.Product{
		BrandID: a.conn.BrandID,
		Name:    name,
		Status:  mapCatalogStatus(record.Status),
	}
	if a.owned.Owns(connectors.FieldProductDescription) {
		product.Description = optionalString(record.Description)
	}
	if a.owned.Owns(connectors.FieldProductCategory) {
		product.Category = optionalString(record.Category)
	}
	if a.owned.Owns(connectors.FieldProductImageURL) {
		product.ImageURL = optionalString(record.ImageURL)
	}
	if a.owned.Owns(connectors.FieldProductTags) {
		product.Tags = joinTags(record.Tags)
	}
	if a.owned.Owns(connectors.FieldProductPrice) {
		product.Price = record.Price
	}
	if a.owned.Owns(connectors.FieldProductCurrency) {
		product.Currency = optionalString(record.Currency)
	}

	if err := tx.CreateProduct(ctx, product); err != nil {
		return err
	}

	kind := a.conn.MatchIdentifier
	for _, sv := range variants {
		variant := &models.Variant{BrandID: a.conn.BrandID, ProductID: product.ID}
		a.applyVariantFields(variant, sv)
		setIdentifier(variant, kind, strings.TrimSpace(sv.Identifier(kind)))
		if err := tx.CreateVariant(ctx, variant); err != nil {
			return err
		}
		if err := a.upsertMapping(ctx, tx, models.EntityVariant, sv.ExternalID, variant.ID, models.MatchTypeCreated, sv.Identifier(kind)); err != nil {
			return err
		}
	}

	return a.upsertMapping(ctx, tx, models.EntityProduct, record.ExternalID, product.ID, models.MatchTypeCreated, variants[0].Identifier(kind))
}

func (a *RecordApplier) update(ctx context.Context, tx repository.CatalogRepositoryInterface, match *productMatch, record clients.SourceProduct, variants []clients.SourceVariant) (bool, error) {
	product := match.product
	changed := false

	if updates := a.productChanges(product, record); len(updates) > 0 {
		if err := tx.UpdateProductFields(ctx, product.ID, updates); err != nil {
			return false, err
		}
		changed = true
	}

	kind := a.conn.MatchIdentifier
	for _, sv := range variants {
		value := strings.TrimSpace(sv.Identifier(kind))
		variant, matchType, err := a.resolveVariant(ctx, tx, sv, value)
		if err != nil {
			return false, err
		}

		if variant == nil {
			variant = &models.Variant{BrandID: a.conn.BrandID, ProductID: product.ID}
			a.applyVariantFields(variant, sv)
			setIdentifier(variant, kind, value)
			if err := tx.CreateVariant(ctx, variant); err != nil {
				return false, err
			}
			matchType = models.MatchTypeCreated
			changed = true
		} else if updates := a.variantChanges(variant, sv); len(updates) > 0 {
			if err := tx.UpdateVariantFields(ctx, variant.ID, updates); err != nil {
				return false, err
			}
			changed = true
		}

		if err := a.upsertMapping(ctx, tx, models.EntityVariant, sv.ExternalID, variant.ID, matchType, value); err != nil {
			return false, err
		}
	}

	if err := a.upsertMapping(ctx, tx, models.EntityProduct, record.ExternalID, product.ID, match.matchType, match.value); err != nil {
		return false, err
	}
	return changed, nil
}

func (a *RecordApplier) resolveVariant(ctx context.Context, tx repository.CatalogRepositoryInterface, sv clients.SourceVariant, value string) (*models.Variant, models.MatchType, error) {
	if sv.ExternalID != "" {
		mapping, err := tx.FindMapping(ctx, a.conn.ID, models.EntityVariant, sv.ExternalID)
		if err == nil {
			variant, err := tx.GetVariant(ctx, a.conn.BrandID, mapping.InternalID)
			if err == nil {
				return variant, mapping.MatchType, nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, "", err
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, "", err
		}
	}

	kind := a.conn.MatchIdentifier
	variant, err := tx.FindVariantByIdentifier(ctx, a.conn.BrandID, kind, value)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return variant, models.MatchType(kind), nil
}

// productChanges returns the owned product columns whose value differs from the source
func (a *RecordApplier) productChanges(product *models.Product, record clients.SourceProduct) map[string]interface{} {
	updates := map[string]interface{}{}

	if a.owned.Owns(connectors.FieldProductName) {
		if name := strings.TrimSpace(record.Name); name != "" && name != product.Name {
			updates["name"] = name
		}
	}
	if a.owned.Owns(connectors.FieldProductStatus) {
		if status := mapCatalogStatus(record.Status); status != product.Status {
			updates["status"] = status
		}
	}
	if a.owned.Owns(connectors.FieldProductDescription) {
		setIfChanged(updates, "description", product.Description, optionalString(record.Description))
	}
	if a.owned.Owns(connectors.FieldProductCategory) {
		setIfChanged(updates, "category", product.Category, optionalString(record.Category))
	}
	if a.owned.Owns(connectors.FieldProductImageURL) {
		setIfChanged(updates, "image_url", product.ImageURL, optionalString(record.ImageURL))
	}
	if a.owned.Owns(connectors.FieldProductTags) {
		setIfChanged(updates, "tags", product.Tags, joinTags(record.Tags))
	}
	if a.owned.Owns(connectors.FieldProductPrice) && !decimalEqual(product.Price, record.Price) {
		updates["price"] = record.Price
	}
	if a.owned.Owns(connectors.FieldProductCurrency) {
		setIfChanged(updates, "currency", product.Currency, optionalString(record.Currency))
	}
	return updates
}

// variantChanges returns the owned variant columns whose value differs from the source
func (a *RecordApplier) variantChanges(variant *models.Variant, sv clients.SourceVariant) map[string]interface{} {
	updates := map[string]interface{}{}
	if a.owned.Owns(connectors.FieldVariantSKU) {
		setIfChanged(updates, "sku", variant.SKU, optionalString(strings.TrimSpace(sv.SKU)))
	}
	if a.owned.Owns(connectors.FieldVariantBarcode) {
		setIfChanged(updates, "barcode", variant.Barcode, optionalString(strings.TrimSpace(sv.Barcode)))
	}
	if a.owned.Owns(connectors.FieldVariantColor) {
		setIfChanged(updates, "color", variant.Color, optionalString(sv.Color))
	}
	if a.owned.Owns(connectors.FieldVariantSize) {
		setIfChanged(updates, "size", variant.Size, optionalString(sv.Size))
	}

	// The match identifier is never cleared by an update
	column := string(a.conn.MatchIdentifier)
	if v, ok := updates[column].(*string); ok && v == nil {
		delete(updates, column)
	}
	return updates
}

func (a *RecordApplier) applyVariantFields(variant *models.Variant, sv clients.SourceVariant) {
	if a.owned.Owns(connectors.FieldVariantSKU) {
		variant.SKU = optionalString(strings.TrimSpace(sv.SKU))
	}
	if a.owned.Owns(connectors.FieldVariantBarcode) {
		variant.Barcode = optionalString(strings.TrimSpace(sv.Barcode))
	}
	if a.owned.Owns(connectors.FieldVariantColor) {
		variant.Color = optionalString(sv.Color)
	}
	if a.owned.Owns(connectors.FieldVariantSize) {
		variant.Size = optionalString(sv.Size)
	}
}

func (a *RecordApplier) upsertMapping(ctx context.Context, tx repository.CatalogRepositoryInterface, entity models.EntityType, externalID string, internalID uuid.UUID, matchType models.MatchType, value string) error {
	if externalID == "" {
		return nil
	}
	now := a.now()
	mapping := &models.ExternalIdentifierMapping{
		BrandID:      a.conn.BrandID,
		ConnectionID: a.conn.ID,
		EntityType:   entity,
		ExternalID:   externalID,
		InternalID:   internalID,
		MatchType:    matchType,
		MatchValue:   strings.TrimSpace(value),
		LastSyncedAt: &now,
	}
	return tx.UpsertMapping(ctx, mapping)
}

func setIdentifier(variant *models.Variant, kind models.MatchIdentifier, value string) {
	if kind == models.MatchByBarcode {
		variant.Barcode = &value
		return
	}
	variant.SKU = &value
}

func mapCatalogStatus(status string) models.CatalogStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "published":
		return models.CatalogStatusActive
	case "archived":
		return models.CatalogStatusArchived
	default:
		return models.CatalogStatusDraft
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func joinTags(tags []string) *string {
	if len(tags) == 0 {
		return nil
	}
	joined := strings.Join(tags, ", ")
	return &joined
}

func setIfChanged(updates map[string]interface{}, column string, current, next *string) {
	if current == nil && next == nil {
		return
	}
	if current != nil && next != nil && *current == *next {
		return
	}
	updates[column] = next
}

func decimalEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
