package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type LineInput struct {
	LineNo      int
	SKU         string
	ProductName string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Currency    string
}

type CreateRequest struct {
	SupplierName    string
	InvoiceNumber   string
	InvoiceDate     *time.Time
	Currency        string
	SubtotalAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	FreightAmount   decimal.Decimal
	TotalAmount     decimal.Decimal
	Scanned         bool
	SourceMessageID string
	Lines           []LineInput
}

type AcceptPriceRequest struct {
	LineID    snowflake.ID
	NewPrice  decimal.Decimal
	ValidFrom *time.Time
	Reason    string
}

type DisputeRequest struct {
	InvoiceID snowflake.ID
	LineIDs   []snowflake.ID
	Reason    string
}

// ValidationReport summarizes one full validation pass.
type ValidationReport struct {
	InvoiceID      snowflake.ID `json:"invoice_id"`
	Status         Status       `json:"status"`
	TotalLines     int          `json:"total_lines"`
	Matched        int          `json:"matched"`
	Mismatched     int          `json:"mismatched"`
	NoMatch        int          `json:"no_match"`
	CreatedRecords int          `json:"created_price_records"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, error)
	ReplaceLines(ctx context.Context, invoiceID snowflake.ID, lines []LineInput) (*Invoice, error)

	// Validate runs the matcher over every line and derives the invoice
	// status. This is the full, promotion-capable pass; lines with unknown
	// keys learn a need_review price record.
	Validate(ctx context.Context, invoiceID snowflake.ID) (*ValidationReport, error)

	// ValidationStatus reports the current line status counts without
	// re-matching anything.
	ValidationStatus(ctx context.Context, invoiceID snowflake.ID) (*ValidationReport, error)

	// AcceptPrice promotes a line's invoiced price to the authoritative
	// contracted price and re-validates the owning invoice.
	AcceptPrice(ctx context.Context, req AcceptPriceRequest) (*ValidationReport, error)

	// Dispute flags the given lines no_match and demotes the invoice to
	// needs_review. The dispute reason lives in the audit trail.
	Dispute(ctx context.Context, req DisputeRequest) (*Invoice, error)

	Approve(ctx context.Context, id snowflake.ID) (*Invoice, error)
	Close(ctx context.Context, id snowflake.ID) (*Invoice, error)
}

var (
	ErrNotFound        = errors.New("invoice_not_found")
	ErrLineNotFound    = errors.New("invoice_line_not_found")
	ErrInvalidInvoice  = errors.New("invalid_invoice")
	ErrInvalidLine     = errors.New("invalid_invoice_line")
	ErrNoLines         = errors.New("invoice_has_no_lines")
	ErrInvalidStatus   = errors.New("invalid_status_transition")
	ErrInvoiceTerminal = errors.New("invoice_terminal")
)
