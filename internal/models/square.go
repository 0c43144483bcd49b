package models

import (
	"encoding/json"
	"time"
)

// WebhookEnvelope is the outer shape of a Square webhook delivery.
type WebhookEnvelope struct {
	MerchantID string           `json:"merchant_id"`
	Type       string           `json:"type"`
	EventID    string           `json:"event_id"`
	CreatedAt  time.Time        `json:"created_at"`
	Data       WebhookEventData `json:"data"`
}

// WebhookEventData carries the event payload. Object is left raw; domain
// processing decodes it by event type.
type WebhookEventData struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Object json.RawMessage `json:"object"`
}

// Money is Square's integer minor-unit money shape.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ToMajorUnits converts minor currency units to a decimal amount.
func (m Money) ToMajorUnits() float64 {
	return float64(m.Amount) / 100
}

// SquarePayment is the subset of Square's payment object the sync needs.
type SquarePayment struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	OrderID     string    `json:"order_id"`
	AmountMoney Money     `json:"amount_money"`
	CreatedAt   time.Time `json:"created_at"`
}

// Square payment statuses
const (
	SquarePaymentCompleted = "COMPLETED"
	SquarePaymentPending   = "PENDING"
	SquarePaymentFailed    = "FAILED"
	SquarePaymentCanceled  = "CANCELED"
)

// Catalog object types
const (
	CatalogTypeItem      = "ITEM"
	CatalogTypeVariation = "ITEM_VARIATION"
	CatalogTypeCategory  = "CATEGORY"
	CatalogTypeImage     = "IMAGE"
)

// CatalogObject is the tagged union Square returns from catalog endpoints.
// Exactly one of the *Data fields is set, discriminated by Type.
type CatalogObject struct {
	Type              string                    `json:"type"`
	ID                string                    `json:"id"`
	IsDeleted         bool                      `json:"is_deleted"`
	ItemData          *CatalogItemData          `json:"item_data,omitempty"`
	ItemVariationData *CatalogItemVariationData `json:"item_variation_data,omitempty"`
	CategoryData      *CatalogCategoryData      `json:"category_data,omitempty"`
	ImageData         *CatalogImageData         `json:"image_data,omitempty"`
}

// CatalogItemData describes a catalog item. Categories is the current API
// shape; CategoryID is the legacy single-category field kept as a fallback.
type CatalogItemData struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	CategoryID  string                `json:"category_id,omitempty"`
	Categories  []CatalogItemCategory `json:"categories,omitempty"`
	ImageIDs    []string              `json:"image_ids,omitempty"`
	Variations  []CatalogObject       `json:"variations,omitempty"`
}

// CatalogItemCategory is a category reference on an item, with the display
// ordinal Square assigns within that category.
type CatalogItemCategory struct {
	ID      string `json:"id"`
	Ordinal *int64 `json:"ordinal,omitempty"`
}

type CatalogItemVariationData struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	PriceMoney *Money `json:"price_money,omitempty"`
}

type CatalogCategoryData struct {
	Name string `json:"name"`
}

type CatalogImageData struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CatalogSearchResult is the accumulated result of a catalog search,
// related objects included.
type CatalogSearchResult struct {
	Objects        []CatalogObject `json:"objects"`
	RelatedObjects []CatalogObject `json:"related_objects"`
}
