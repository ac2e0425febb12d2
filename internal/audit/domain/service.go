package domain

import (
	"context"
	"errors"
)

type ListRequest struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
	Offset     int
}

type ListResponse struct {
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Service records and lists audit entries. Recording failures are logged but
// must never fail the business operation that triggered them.
type Service interface {
	Record(ctx context.Context, entityType, entityID, action string, metadata map[string]any) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
