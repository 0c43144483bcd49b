package models

import (
	"time"

	"github.com/lib/pq"
)

// Product mirrors a Square catalog item locally. SquareID is nil for
// manually-created products that have no catalog counterpart.
type Product struct {
	ID          int64          `db:"id" json:"id"`
	SquareID    *string        `db:"square_id" json:"square_id,omitempty"`
	Slug        string         `db:"slug" json:"slug"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	Price       float64        `db:"price" json:"price"`
	Images      pq.StringArray `db:"images" json:"images"`
	Ordinal     *int64         `db:"ordinal" json:"ordinal,omitempty"`
	CategoryID  int64          `db:"category_id" json:"category_id"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// ProductVariant is one purchasable variation of a product.
// SquareVariantID is unique across all products.
type ProductVariant struct {
	ID              int64    `db:"id" json:"id"`
	ProductID       int64    `db:"product_id" json:"product_id"`
	Name            string   `db:"name" json:"name"`
	Price           *float64 `db:"price" json:"price,omitempty"`
	SquareVariantID string   `db:"square_variant_id" json:"square_variant_id"`
}

// Category groups products for display. Slug is derived from the name and unique.
type Category struct {
	ID        int64     `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CateringItem is a packaged catering offering, distinct from Product.
// The catalog sync links it to Square by normalized-name match.
type CateringItem struct {
	ID              int64   `db:"id" json:"id"`
	Name            string  `db:"name" json:"name"`
	Image           *string `db:"image" json:"image,omitempty"`
	SquareCategory  *string `db:"square_category" json:"square_category,omitempty"`
	SquareProductID *string `db:"square_product_id" json:"square_product_id,omitempty"`
}

// Order is the local order record. SquareOrderID is nil for orders that never
// reached Square; sync never fabricates one.
type Order struct {
	ID            int64     `db:"id" json:"id"`
	SquareOrderID *string   `db:"square_order_id" json:"square_order_id,omitempty"`
	PaymentStatus string    `db:"payment_status" json:"payment_status"`
	TotalAmount   int64     `db:"total_amount" json:"total_amount"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Payment is the local mirror of a Square payment, keyed by SquarePaymentID.
// RawData keeps the full Square payment object for auditability.
type Payment struct {
	ID              int64     `db:"id" json:"id"`
	SquarePaymentID string    `db:"square_payment_id" json:"square_payment_id"`
	OrderID         int64     `db:"order_id" json:"order_id"`
	Amount          int64     `db:"amount" json:"amount"`
	Status          string    `db:"status" json:"status"`
	RawData         []byte    `db:"raw_data" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Payment statuses
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
	PaymentStatusFailed  = "FAILED"
)

// Sync types
const (
	SyncTypeManual          = "manual"
	SyncTypeScheduled       = "scheduled"
	SyncTypeWebhookFallback = "webhook_fallback"
	SyncTypeCatalog         = "catalog"
)

// SyncStatusRecord is one row of sync history, written at sync start and
// finalized when the run ends. Catalog syncs reuse the payment counters for
// their item counts.
type SyncStatusRecord struct {
	SyncID            string     `db:"sync_id" json:"sync_id"`
	SyncType          string     `db:"sync_type" json:"sync_type"`
	StartTime         time.Time  `db:"start_time" json:"start_time"`
	EndTime           *time.Time `db:"end_time" json:"end_time,omitempty"`
	PaymentsFound     int        `db:"payments_found" json:"payments_found"`
	PaymentsProcessed int        `db:"payments_processed" json:"payments_processed"`
	PaymentsFailed    int        `db:"payments_failed" json:"payments_failed"`
	ErrorDetails      *string    `db:"error_details" json:"error_details,omitempty"`
}

// Square environments
const (
	EnvironmentProduction = "production"
	EnvironmentSandbox    = "sandbox"
)
