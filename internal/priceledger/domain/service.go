package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nordbooks/varekost/internal/events"
	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	SupplierName string
	SKU          string
	ProductName  string
	Currency     string
	UnitPrice    decimal.Decimal
	Activate     bool
	ValidFrom    *time.Time
	Source       string
	Note         string
	CreatedBy    string
}

type LearnRequest struct {
	SupplierName string
	SKU          string
	ProductName  string
	Currency     string
	UnitPrice    decimal.Decimal
	ValidFrom    *time.Time
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*PriceRecord, error)
	Get(ctx context.Context, id snowflake.ID) (*PriceRecord, error)
	List(ctx context.Context, filter ListFilter) ([]PriceRecord, error)

	// Activate makes the record the authoritative price for its key, closing
	// out every other active record sharing the key in the same transaction.
	Activate(ctx context.Context, id snowflake.ID, validFrom *time.Time) (*PriceRecord, error)

	// UpdatePrice edits a record's unit price. On an active record a change
	// beyond the edit tolerance re-versions: the old record closes at
	// yesterday and a new record opens today.
	UpdatePrice(ctx context.Context, id snowflake.ID, newPrice decimal.Decimal) (*PriceRecord, error)

	// Retire manually closes an active record without a successor.
	Retire(ctx context.Context, id snowflake.ID) (*PriceRecord, error)

	// LearnFromLine creates a need_review record from an invoice line whose key
	// has no price record of any status. Returns the record and whether it was
	// newly created (false means an existing need_review record was reused).
	LearnFromLine(ctx context.Context, req LearnRequest) (*PriceRecord, bool, error)
}

// EventPublisher decouples the ledger from the reconciliation worker.
type EventPublisher interface {
	Publish(ctx context.Context, evt events.PriceChanged)
}

var (
	ErrNotFound           = errors.New("price_record_not_found")
	ErrIncompleteKey      = errors.New("incomplete_key")
	ErrInvalidPrice       = errors.New("invalid_price")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidSupplier    = errors.New("invalid_supplier")
	ErrInvalidValidity    = errors.New("invalid_validity_window")
	ErrRecordInactive     = errors.New("record_inactive")
	ErrActivationConflict = errors.New("concurrent_activation_conflict")
)
