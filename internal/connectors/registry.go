package connectors

import (
	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/clients/dukaan"
	"passport-sync-service/internal/clients/shopify"
	"passport-sync-service/internal/models"
)

// Definition is the compile-time description of a supported connector
type Definition struct {
	Slug                models.ConnectorSlug
	DisplayName         string
	Fields              []FieldMeta
	MatchIdentifiers    []models.MatchIdentifier
	RequiredCredentials []string
	AccountLabel        string
	NewClient           func() clients.ProviderClient
}

// Lookup returns the definition for a connector slug.
// Adding a slug to models.AllConnectorSlugs without a case here fails the registry test.
func Lookup(slug models.ConnectorSlug) (Definition, bool) {
	switch slug {
	case models.ConnectorShopify:
		return Definition{
			Slug:                slug,
			DisplayName:         "Shopify",
			Fields:              shopifyFields(),
			MatchIdentifiers:    []models.MatchIdentifier{models.MatchBySKU, models.MatchByBarcode},
			RequiredCredentials: []string{"access_token"},
			AccountLabel:        "Shop domain",
			NewClient:           func() clients.ProviderClient { return shopify.NewShopifyClient() },
		}, true
	case models.ConnectorDukaan:
		return Definition{
			Slug:                slug,
			DisplayName:         "Dukaan",
			Fields:              dukaanFields(),
			MatchIdentifiers:    []models.MatchIdentifier{models.MatchBySKU},
			RequiredCredentials: []string{"api_key"},
			AccountLabel:        "Store ID",
			NewClient:           func() clients.ProviderClient { return dukaan.NewDukaanClient() },
		}, true
	}
	return Definition{}, false
}

// All returns every connector definition in display order
func All() []Definition {
	defs := make([]Definition, 0, len(models.AllConnectorSlugs()))
	for _, slug := range models.AllConnectorSlugs() {
		if def, ok := Lookup(slug); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// GetConnectorFields returns the ordered field schema of a connector.
// An unknown slug yields an empty list.
func GetConnectorFields(slug string) []FieldMeta {
	parsed, ok := models.ParseConnectorSlug(slug)
	if !ok {
		return []FieldMeta{}
	}
	def, ok := Lookup(parsed)
	if !ok {
		return []FieldMeta{}
	}
	return def.Fields
}

// Field returns the schema entry for a key
func (d Definition) Field(key string) (FieldMeta, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldMeta{}, false
}

// SupportsMatchIdentifier reports whether records can be matched by the identifier
func (d Definition) SupportsMatchIdentifier(kind models.MatchIdentifier) bool {
	for _, m := range d.MatchIdentifiers {
		if m == kind {
			return true
		}
	}
	return false
}

// MissingCredentials lists required credential keys absent from creds
func (d Definition) MissingCredentials(creds map[string]string) []string {
	var missing []string
	for _, key := range d.RequiredCredentials {
		if creds[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Dependents returns the fields coupled to key
func (d Definition) Dependents(key string) []FieldMeta {
	var out []FieldMeta
	for _, f := range d.Fields {
		if f.CoupledTo == key {
			out = append(out, f)
		}
	}
	return out
}
