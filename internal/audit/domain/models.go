// Package domain contains persistence models for the audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog records a single action taken against an entity.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	EntityType string            `json:"entity_type" gorm:"type:text;not null;index:idx_audit_logs_entity"`
	EntityID   string            `json:"entity_id" gorm:"type:text;not null;index:idx_audit_logs_entity"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null;default:'system'"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"type:text"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
