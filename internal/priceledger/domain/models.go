// Package domain contains persistence models for the price ledger.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status represents price record lifecycle states.
type Status string

const (
	StatusActive     Status = "active"
	StatusNeedReview Status = "need_review"
	StatusInactive   Status = "inactive"
)

// Source values describe where a price record came from.
const (
	SourceManual             = "manual"
	SourceLearnedFromInvoice = "learned_from_invoice"
	SourcePriceEdit          = "price_edit"
	SourcePriceAcceptance    = "price_acceptance"
)

// PriceRecord is a versioned statement of the contracted unit price for a
// supplier and SKU/product over a date range. For a given key at most one
// record may be active with an open-ended validity window.
type PriceRecord struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	SupplierName string          `json:"supplier_name" gorm:"type:text;not null;index:idx_price_records_supplier"`
	SKU          *string         `json:"sku,omitempty" gorm:"type:text;index:idx_price_records_sku"`
	ProductName  *string         `json:"product_name,omitempty" gorm:"type:text;index:idx_price_records_product"`
	Currency     string          `json:"currency" gorm:"type:text;not null"`
	UnitPrice    decimal.Decimal `json:"unit_price" gorm:"type:numeric(18,6);not null"`
	Status       Status          `json:"status" gorm:"type:text;not null;default:'need_review';index"`
	ValidFrom    *time.Time      `json:"valid_from,omitempty" gorm:""`
	ValidTo      *time.Time      `json:"valid_to,omitempty" gorm:""`
	Source       string          `json:"source" gorm:"type:text;not null;default:'manual'"`
	Note         *string         `json:"note,omitempty" gorm:"type:text"`
	CreatedBy    *string         `json:"created_by,omitempty" gorm:"type:text"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PriceRecord) TableName() string { return "price_records" }

// Key identifies the ledger slot a record competes for. SKU is the preferred
// matching key; product name is the fallback.
type Key struct {
	SupplierName string
	SKU          string
	ProductName  string
}

// Key derives the ledger key of a record.
func (r *PriceRecord) Key() Key {
	k := Key{SupplierName: r.SupplierName}
	if r.SKU != nil {
		k.SKU = strings.TrimSpace(*r.SKU)
	}
	if r.ProductName != nil {
		k.ProductName = strings.TrimSpace(*r.ProductName)
	}
	return k
}

// Incomplete reports whether the key lacks both SKU and product name.
func (k Key) Incomplete() bool {
	return k.SKU == "" && k.ProductName == ""
}

// CoversDate reports whether the record's validity window includes the given
// date. A nil bound is open-ended on that side.
func (r *PriceRecord) CoversDate(date time.Time) bool {
	if r.ValidFrom != nil && date.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && date.After(*r.ValidTo) {
		return false
	}
	return true
}
