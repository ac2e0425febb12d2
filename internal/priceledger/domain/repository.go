package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	SupplierName string
	SKU          string
	ProductName  string
	Status       Status
	Limit        int
	Offset       int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *PriceRecord) error
	Update(ctx context.Context, db *gorm.DB, record *PriceRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PriceRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PriceRecord, error)

	// ActiveByKey returns all active records competing for the exact key.
	// With forUpdate the rows are locked for the enclosing transaction.
	ActiveByKey(ctx context.Context, db *gorm.DB, key Key, forUpdate bool) ([]PriceRecord, error)

	// ActiveBySKU and ActiveByProductName serve matcher lookups. Product name
	// comparison is case-insensitive.
	ActiveBySKU(ctx context.Context, db *gorm.DB, supplierName, sku string) ([]PriceRecord, error)
	ActiveByProductName(ctx context.Context, db *gorm.DB, supplierName, productName string) ([]PriceRecord, error)

	// AnyByKey reports whether a record of any status exists for the key.
	AnyByKey(ctx context.Context, db *gorm.DB, key Key) (bool, error)

	// NeedReviewByKey returns an existing need_review record for the key, if any.
	NeedReviewByKey(ctx context.Context, db *gorm.DB, key Key) (*PriceRecord, error)

	// CountOpenActiveByKey counts records with status=active and valid_to IS NULL
	// for the key. The ledger uses it to verify its single-owner invariant.
	CountOpenActiveByKey(ctx context.Context, db *gorm.DB, key Key) (int64, error)
}
