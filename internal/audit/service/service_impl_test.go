package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"github.com/nordbooks/varekost/internal/audit/repository"
	auditcontext "github.com/nordbooks/varekost/internal/auditcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	return &Service{
		db:    db,
		log:   zaptest.NewLogger(t),
		genID: node,
		repo:  repository.Provide(),
	}
}

func TestRecordAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "price_record", "123", "activate", map[string]any{
		"supplier_name": "Acme",
	}))
	require.NoError(t, svc.Record(ctx, "invoice", "456", "validate", nil))

	resp, err := svc.List(ctx, auditdomain.ListRequest{EntityType: "price_record"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	entry := resp.AuditLogs[0]
	assert.Equal(t, "activate", entry.Action)
	assert.Equal(t, "123", entry.EntityID)
	assert.Equal(t, "system", entry.ActorType)
	assert.Equal(t, "Acme", entry.Metadata["supplier_name"])
}

func TestRecordEnrichesFromContext(t *testing.T) {
	svc := newTestService(t)
	ctx := auditcontext.WithActor(context.Background(), "reviewer@example.com")
	ctx = auditcontext.WithRequestID(ctx, "req-42")
	ctx = auditcontext.WithIPAddress(ctx, "10.0.0.1")

	require.NoError(t, svc.Record(ctx, "invoice", "1", "approve", nil))

	resp, err := svc.List(context.Background(), auditdomain.ListRequest{Action: "approve"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "reviewer@example.com", *entry.ActorID)
	assert.Equal(t, "req-42", entry.Metadata["request_id"])
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc := newTestService(t)
	err := svc.Record(context.Background(), "invoice", "1", "  ", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}
