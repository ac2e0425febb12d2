package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Omit("Lines").Save(invoice).Error
}

func (r *repo) FindInvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID, withLines bool) (*invoicedomain.Invoice, error) {
	query := db.WithContext(ctx)
	if withLines {
		query = query.Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("line_no ASC")
		})
	}
	var invoice invoicedomain.Invoice
	err := query.First(&invoice, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) ListInvoices(ctx context.Context, db *gorm.DB, filter invoicedomain.ListFilter) ([]invoicedomain.Invoice, error) {
	query := db.WithContext(ctx).Model(&invoicedomain.Invoice{})
	if filter.SupplierName != "" {
		query = query.Where("supplier_name = ?", filter.SupplierName)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var items []invoicedomain.Invoice
	err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []invoicedomain.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) UpdateLine(ctx context.Context, db *gorm.DB, line *invoicedomain.InvoiceLine) error {
	return db.WithContext(ctx).Save(line).Error
}

func (r *repo) FindLineByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.InvoiceLine, error) {
	var line invoicedomain.InvoiceLine
	err := db.WithContext(ctx).First(&line, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repo) LinesByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceLine, error) {
	var lines []invoicedomain.InvoiceLine
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("line_no ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) DeleteLinesByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Delete(&invoicedomain.InvoiceLine{}).Error
}

func (r *repo) LinesByKey(ctx context.Context, db *gorm.DB, supplierName, sku, productName string) ([]invoicedomain.InvoiceLine, error) {
	query := db.WithContext(ctx).
		Model(&invoicedomain.InvoiceLine{}).
		Joins("JOIN invoices ON invoices.id = invoice_lines.invoice_id").
		Where("invoices.supplier_name = ?", supplierName)
	if sku != "" {
		query = query.Where("invoice_lines.sku = ?", sku)
	} else {
		query = query.Where("LOWER(invoice_lines.product_name) = LOWER(?)", productName)
	}

	var lines []invoicedomain.InvoiceLine
	if err := query.Order("invoice_lines.invoice_id, invoice_lines.line_no").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}
