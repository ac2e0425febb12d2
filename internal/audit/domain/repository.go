package domain

import (
	"context"

	"gorm.io/gorm"
)

type ListFilter struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
	Offset     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}
