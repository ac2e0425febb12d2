package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditcontext "github.com/nordbooks/varekost/internal/auditcontext"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entityType, entityID, action string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		entityType = "unknown"
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	actorType := "system"
	var actorID *string
	if actor := strings.TrimSpace(auditcontext.ActorFromContext(ctx)); actor != "" {
		actorType = "user"
		actorID = &actor
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorType:  actorType,
		ActorID:    actorID,
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  time.Now().UTC(),
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}
	if ua := auditcontext.UserAgentFromContext(ctx); ua != "" {
		entry.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		EntityType: strings.TrimSpace(req.EntityType),
		EntityID:   strings.TrimSpace(req.EntityID),
		Action:     strings.TrimSpace(req.Action),
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}
	return auditdomain.ListResponse{AuditLogs: items}, nil
}
