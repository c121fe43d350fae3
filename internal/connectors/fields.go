package connectors

import "passport-sync-service/internal/models"

// Field keys understood by the record applier
const (
	FieldProductName        = "product.name"
	FieldProductDescription = "product.description"
	FieldProductCategory    = "product.category"
	FieldProductImageURL    = "product.imageUrl"
	FieldProductTags        = "product.tags"
	FieldProductStatus      = "product.status"
	FieldProductPrice       = "product.price"
	FieldProductCurrency    = "product.currency"
	FieldVariantSKU         = "variant.sku"
	FieldVariantBarcode     = "variant.barcode"
	FieldVariantColor       = "variant.color"
	FieldVariantSize        = "variant.size"
)

// FieldEntity is the catalog entity a field belongs to
type FieldEntity string

const (
	EntityProduct FieldEntity = "product"
	EntityVariant FieldEntity = "variant"
)

// Field groups, in display order
const (
	GroupBasics      = "basics"
	GroupMedia       = "media"
	GroupCommercial  = "commercial"
	GroupIdentifiers = "identifiers"
	GroupAttributes  = "attributes"
)

// FieldMeta describes one field a connector can populate.
// CoupledTo names the field whose enabled bit this one always mirrors.
type FieldMeta struct {
	Key         string      `json:"key"`
	Entity      FieldEntity `json:"entity"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	CoupledTo   string      `json:"coupledTo,omitempty"`
	Group       string      `json:"group"`
}

// Toggleable reports whether the field may be switched on its own
func (f FieldMeta) Toggleable() bool {
	return !f.Required && f.CoupledTo == ""
}

var (
	nameField = FieldMeta{
		Key:         FieldProductName,
		Entity:      EntityProduct,
		Group:       GroupBasics,
		Label:       "Product name",
		Description: "Title of the product",
	}
	descriptionField = FieldMeta{
		Key:         FieldProductDescription,
		Entity:      EntityProduct,
		Group:       GroupBasics,
		Label:       "Description",
		Description: "Long-form product description",
	}
	categoryField = FieldMeta{
		Key:         FieldProductCategory,
		Entity:      EntityProduct,
		Group:       GroupBasics,
		Label:       "Category",
		Description: "Product type or category",
	}
	statusField = FieldMeta{
		Key:         FieldProductStatus,
		Entity:      EntityProduct,
		Group:       GroupBasics,
		Label:       "Sales status",
		Description: "Whether the product is active, draft or archived",
		Required:    true,
	}
	imageField = FieldMeta{
		Key:         FieldProductImageURL,
		Entity:      EntityProduct,
		Group:       GroupMedia,
		Label:       "Primary image",
		Description: "URL of the main product image",
	}
	tagsField = FieldMeta{
		Key:         FieldProductTags,
		Entity:      EntityProduct,
		Group:       GroupAttributes,
		Label:       "Tags",
		Description: "Free-form product tags",
	}
	priceField = FieldMeta{
		Key:         FieldProductPrice,
		Entity:      EntityProduct,
		Group:       GroupCommercial,
		Label:       "Price",
		Description: "Lowest variant price",
	}
	currencyField = FieldMeta{
		Key:         FieldProductCurrency,
		Entity:      EntityProduct,
		Group:       GroupCommercial,
		Label:       "Currency",
		Description: "Currency of the price, follows the price setting",
		CoupledTo:   FieldProductPrice,
	}
	skuField = FieldMeta{
		Key:         FieldVariantSKU,
		Entity:      EntityVariant,
		Group:       GroupIdentifiers,
		Label:       "SKU",
		Description: "Stock keeping unit of each variant",
	}
	barcodeField = FieldMeta{
		Key:         FieldVariantBarcode,
		Entity:      EntityVariant,
		Group:       GroupIdentifiers,
		Label:       "Barcode",
		Description: "GTIN, EAN or UPC of each variant",
	}
	colorField = FieldMeta{
		Key:         FieldVariantColor,
		Entity:      EntityVariant,
		Group:       GroupAttributes,
		Label:       "Color",
		Description: "Variant color option",
	}
	sizeField = FieldMeta{
		Key:         FieldVariantSize,
		Entity:      EntityVariant,
		Group:       GroupAttributes,
		Label:       "Size",
		Description: "Variant size option",
	}
)

func shopifyFields() []FieldMeta {
	return []FieldMeta{
		nameField, descriptionField, categoryField, statusField,
		imageField,
		priceField, currencyField,
		skuField, barcodeField,
		tagsField, colorField, sizeField,
	}
}

func dukaanFields() []FieldMeta {
	return []FieldMeta{
		nameField, descriptionField, categoryField, statusField,
		imageField,
		priceField, currencyField,
		skuField,
		colorField, sizeField,
	}
}

// MatchIdentifierField returns the field key holding a match identifier
func MatchIdentifierField(kind models.MatchIdentifier) string {
	if kind == models.MatchByBarcode {
		return FieldVariantBarcode
	}
	return FieldVariantSKU
}
