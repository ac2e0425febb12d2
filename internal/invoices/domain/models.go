// Package domain contains persistence models for supplier invoices and the
// status aggregation rules derived from their lines.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusReceived    Status = "received"
	StatusParsed      Status = "parsed"
	StatusValidated   Status = "validated"
	StatusNeedsReview Status = "needs_review"
	StatusApproved    Status = "approved"
	StatusClosed      Status = "closed"
)

// LineStatus is the outcome of matching one invoice line against the ledger.
type LineStatus string

const (
	LineUnvalidated        LineStatus = "unvalidated"
	LineMatch              LineStatus = "match"
	LineMismatch           LineStatus = "mismatch"
	LineNoMatch            LineStatus = "no_match"
	LineCreatedPriceRecord LineStatus = "created_price_record"
)

// Invoice is a supplier invoice as delivered by the extraction collaborator.
type Invoice struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	SupplierName    string          `json:"supplier_name" gorm:"type:text;not null;index:idx_invoices_supplier"`
	InvoiceNumber   string          `json:"invoice_number" gorm:"type:text;not null"`
	InvoiceDate     *time.Time      `json:"invoice_date,omitempty" gorm:""`
	Currency        string          `json:"currency" gorm:"type:text;not null"`
	SubtotalAmount  decimal.Decimal `json:"subtotal_amount" gorm:"type:numeric(18,6)"`
	TaxAmount       decimal.Decimal `json:"tax_amount" gorm:"type:numeric(18,6)"`
	FreightAmount   decimal.Decimal `json:"freight_amount" gorm:"type:numeric(18,6)"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:numeric(18,6)"`
	Status          Status          `json:"status" gorm:"type:text;not null;default:'received';index"`
	Scanned         bool            `json:"scanned" gorm:"not null;default:false"`
	SourceMessageID *string         `json:"source_message_id,omitempty" gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Lines []InvoiceLine `json:"lines,omitempty" gorm:"foreignKey:InvoiceID"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one priced line item of an invoice.
type InvoiceLine struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID       snowflake.ID    `json:"invoice_id" gorm:"not null;index:idx_invoice_lines_invoice"`
	LineNo          int             `json:"line_no" gorm:"not null"`
	SKU             *string         `json:"sku,omitempty" gorm:"type:text;index:idx_invoice_lines_sku"`
	ProductName     *string         `json:"product_name,omitempty" gorm:"type:text;index:idx_invoice_lines_product"`
	Quantity        decimal.Decimal `json:"quantity" gorm:"type:numeric(18,6);not null"`
	UnitPrice       decimal.Decimal `json:"unit_price" gorm:"type:numeric(18,6);not null"`
	Currency        string          `json:"currency" gorm:"type:text;not null"`
	Status          LineStatus      `json:"status" gorm:"type:text;not null;default:'unvalidated'"`
	MatchedRecordID *snowflake.ID   `json:"matched_record_id,omitempty" gorm:""`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// Terminal reports whether the status is outside automatic derivation.
// Approved and closed invoices only change through explicit human action.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusClosed
}

// NeedsAttention reports whether a line status forces its invoice into review.
func (s LineStatus) NeedsAttention() bool {
	return s == LineMismatch || s == LineNoMatch || s == LineCreatedPriceRecord
}

// DeriveStatus computes an invoice's status from its lines after a full
// validation pass. Terminal invoices keep their status. Any line needing
// attention forces needs_review; validated requires every line to match.
// With unvalidated lines remaining and nothing needing attention, the
// current status stands.
func DeriveStatus(current Status, lines []InvoiceLine) Status {
	if current.Terminal() {
		return current
	}
	if len(lines) == 0 {
		return current
	}
	allMatch := true
	for _, line := range lines {
		if line.Status.NeedsAttention() {
			return StatusNeedsReview
		}
		if line.Status != LineMatch {
			allMatch = false
		}
	}
	if allMatch {
		return StatusValidated
	}
	return current
}

// DemoteOnly applies the cascade's restricted derivation: it may demote an
// invoice to needs_review but never promotes toward validated. Promotion
// requires a full validation pass.
func DemoteOnly(current Status, lines []InvoiceLine) Status {
	if current.Terminal() {
		return current
	}
	for _, line := range lines {
		if line.Status.NeedsAttention() {
			return StatusNeedsReview
		}
	}
	return current
}

// HasSKU reports whether the line carries a usable SKU for matching.
func (l *InvoiceLine) HasSKU() bool {
	return l.SKU != nil && *l.SKU != ""
}
