package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	SupplierName string
	Status       Status
	Limit        int
	Offset       int
}

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindInvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID, withLines bool) (*Invoice, error)
	ListInvoices(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)

	InsertLines(ctx context.Context, db *gorm.DB, lines []InvoiceLine) error
	UpdateLine(ctx context.Context, db *gorm.DB, line *InvoiceLine) error
	FindLineByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*InvoiceLine, error)
	LinesByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceLine, error)
	DeleteLinesByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) error

	// LinesByKey returns every line across all invoices of the supplier that
	// carries the given SKU, or falls back to a case-insensitive product name
	// lookup when sku is empty. The cascade feeds on this.
	LinesByKey(ctx context.Context, db *gorm.DB, supplierName, sku, productName string) ([]InvoiceLine, error)
}
