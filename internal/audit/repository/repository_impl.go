package repository

import (
	"context"

	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() auditdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter auditdomain.ListFilter) ([]auditdomain.AuditLog, error) {
	query := db.WithContext(ctx).Model(&auditdomain.AuditLog{})
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var items []auditdomain.AuditLog
	err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
