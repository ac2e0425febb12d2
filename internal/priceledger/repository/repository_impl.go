package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() pricedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *pricedomain.PriceRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, record *pricedomain.PriceRecord) error {
	return db.WithContext(ctx).Save(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*pricedomain.PriceRecord, error) {
	var record pricedomain.PriceRecord
	err := db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter pricedomain.ListFilter) ([]pricedomain.PriceRecord, error) {
	query := db.WithContext(ctx).Model(&pricedomain.PriceRecord{})
	if filter.SupplierName != "" {
		query = query.Where("supplier_name = ?", filter.SupplierName)
	}
	if filter.SKU != "" {
		query = query.Where("sku = ?", filter.SKU)
	}
	if filter.ProductName != "" {
		query = query.Where("LOWER(product_name) = LOWER(?)", filter.ProductName)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var items []pricedomain.PriceRecord
	err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ActiveByKey(ctx context.Context, db *gorm.DB, key pricedomain.Key, forUpdate bool) ([]pricedomain.PriceRecord, error) {
	query := keyScope(db.WithContext(ctx), key).Where("status = ?", pricedomain.StatusActive)
	if forUpdate && supportsRowLocks(db) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var items []pricedomain.PriceRecord
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ActiveBySKU(ctx context.Context, db *gorm.DB, supplierName, sku string) ([]pricedomain.PriceRecord, error) {
	var items []pricedomain.PriceRecord
	err := db.WithContext(ctx).
		Where("supplier_name = ? AND sku = ? AND status = ?", supplierName, sku, pricedomain.StatusActive).
		Order("valid_from DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ActiveByProductName(ctx context.Context, db *gorm.DB, supplierName, productName string) ([]pricedomain.PriceRecord, error) {
	var items []pricedomain.PriceRecord
	err := db.WithContext(ctx).
		Where("supplier_name = ? AND LOWER(product_name) = LOWER(?) AND status = ?", supplierName, productName, pricedomain.StatusActive).
		Order("valid_from DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) AnyByKey(ctx context.Context, db *gorm.DB, key pricedomain.Key) (bool, error) {
	var count int64
	err := keyScope(db.WithContext(ctx).Model(&pricedomain.PriceRecord{}), key).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) NeedReviewByKey(ctx context.Context, db *gorm.DB, key pricedomain.Key) (*pricedomain.PriceRecord, error) {
	var record pricedomain.PriceRecord
	err := keyScope(db.WithContext(ctx), key).
		Where("status = ?", pricedomain.StatusNeedReview).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) CountOpenActiveByKey(ctx context.Context, db *gorm.DB, key pricedomain.Key) (int64, error) {
	var count int64
	err := keyScope(db.WithContext(ctx).Model(&pricedomain.PriceRecord{}), key).
		Where("status = ? AND valid_to IS NULL", pricedomain.StatusActive).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// keyScope narrows a query to records competing for the same ledger key.
// SKU wins over product name, mirroring the matcher's lookup order.
func keyScope(db *gorm.DB, key pricedomain.Key) *gorm.DB {
	db = db.Where("supplier_name = ?", key.SupplierName)
	if key.SKU != "" {
		return db.Where("sku = ?", key.SKU)
	}
	return db.Where("LOWER(product_name) = LOWER(?)", key.ProductName)
}

// supportsRowLocks reports whether the dialect understands SELECT ... FOR UPDATE.
// SQLite serializes writers on its own, so the clause is omitted there.
func supportsRowLocks(db *gorm.DB) bool {
	if db.Dialector == nil {
		return false
	}
	return db.Dialector.Name() != "sqlite"
}
