package clients

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"passport-sync-service/internal/models"
)

// ProviderClient defines the interface that every connector adapter must implement.
// Adapters translate the provider's wire format into SourceProduct records.
type ProviderClient interface {
	// Slug returns the connector this client talks to
	Slug() models.ConnectorSlug

	// Initialize sets up the client for an account with its credentials
	Initialize(ctx context.Context, account string, credentials map[string]string) error

	// TestConnection verifies the credentials are accepted
	TestConnection(ctx context.Context) error

	// ListProducts returns one page of products
	ListProducts(ctx context.Context, opts *ListOptions) (*ProductsPage, error)
}

// ListOptions contains common pagination options
type ListOptions struct {
	Limit        int
	Cursor       string
	UpdatedAfter time.Time
}

// ProductsPage contains one page of normalized products.
// Total is nil when the provider does not report it.
type ProductsPage struct {
	Products   []SourceProduct
	NextCursor string
	HasMore    bool
	Total      *int
}

// SourceProduct is the normalized shape of a provider product
type SourceProduct struct {
	ExternalID  string           `json:"externalId"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Status      string           `json:"status"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Variants    []SourceVariant  `json:"variants"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// SourceVariant is the normalized shape of a provider variant
type SourceVariant struct {
	ExternalID string           `json:"externalId"`
	SKU        string           `json:"sku,omitempty"`
	Barcode    string           `json:"barcode,omitempty"`
	Color      string           `json:"color,omitempty"`
	Size       string           `json:"size,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
}

// Identifier returns the variant's value for the given match identifier
func (v SourceVariant) Identifier(kind models.MatchIdentifier) string {
	if kind == models.MatchByBarcode {
		return v.Barcode
	}
	return v.SKU
}

// LowestVariantPrice returns the smallest variant price, or nil when no variant is priced
func LowestVariantPrice(variants []SourceVariant) *decimal.Decimal {
	var lowest *decimal.Decimal
	for i := range variants {
		price := variants[i].Price
		if price == nil {
			continue
		}
		if lowest == nil || price.LessThan(*lowest) {
			p := *price
			lowest = &p
		}
	}
	return lowest
}
