package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"github.com/nordbooks/varekost/internal/clock"
	"github.com/nordbooks/varekost/internal/config"
	"github.com/nordbooks/varekost/internal/events"
	"github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/nordbooks/varekost/internal/priceledger/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type noopAudit struct{}

func (noopAudit) Record(context.Context, string, string, string, map[string]any) error {
	return nil
}

func (noopAudit) List(context.Context, auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	return auditdomain.ListResponse{}, nil
}

type recordingPublisher struct {
	events []events.PriceChanged
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.PriceChanged) {
	p.events = append(p.events, evt)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.PriceRecord{}))
	return db
}

func newTestService(t *testing.T) (*service, *clock.FakeClock, *recordingPublisher) {
	t.Helper()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	svc := &service{
		db:   db,
		log:  zaptest.NewLogger(t),
		node: node,
		repo: repository.Provide(),
		tolerances: config.NewStaticToleranceHolder(config.ToleranceConfig{
			ValidationPercent: 5.0,
			PriceEditAbsolute: 0.01,
		}),
		clock:     fake,
		publisher: pub,
		audit:     noopAudit{},
	}
	return svc, fake, pub
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestActivateClosesOutCompetingRecords(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X1",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("10.00"),
		Activate:     true,
		ValidFrom:    date(2024, 1, 1),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, first.Status)
	require.Nil(t, first.ValidTo)

	second, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X1",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("11.00"),
		Activate:     true,
		ValidFrom:    date(2024, 3, 10),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, second.Status)
	assert.True(t, date(2024, 3, 10).Equal(*second.ValidFrom))
	assert.Nil(t, second.ValidTo)

	closed, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, closed.Status)
	require.NotNil(t, closed.ValidTo)
	assert.True(t, date(2024, 3, 9).Equal(*closed.ValidTo))

	count, err := svc.repo.CountOpenActiveByKey(ctx, svc.db, second.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.Len(t, pub.events, 2)
	last := pub.events[1]
	assert.Equal(t, "Acme", last.SupplierName)
	assert.Equal(t, []snowflake.ID{first.ID}, last.OldRecordIDs)
	assert.Equal(t, second.ID, last.NewRecordID)
}

func TestActivateDefaultsEffectiveFromToToday(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	record, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X2",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("4.50"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedReview, record.Status)

	activated, err := svc.Activate(ctx, record.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, activated.ValidFrom)
	assert.True(t, date(2024, 3, 15).Equal(*activated.ValidFrom))
}

func TestActivateRejectsInvertedValidityWindow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X3",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("10.00"),
		Activate:     true,
		ValidFrom:    date(2024, 3, 10),
	})
	require.NoError(t, err)

	second, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X3",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("9.00"),
	})
	require.NoError(t, err)

	_, err = svc.Activate(ctx, second.ID, date(2024, 3, 5))
	require.ErrorIs(t, err, domain.ErrInvalidValidity)

	// The rollback must leave the original record untouched.
	unchanged, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, unchanged.Status)
	assert.Nil(t, unchanged.ValidTo)
}

func TestActivateIncompleteKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	record := &domain.PriceRecord{
		ID:           svc.node.Generate(),
		SupplierName: "Acme",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("1.00"),
		Status:       domain.StatusNeedReview,
		Source:       domain.SourceManual,
	}
	require.NoError(t, svc.repo.Insert(ctx, svc.db, record))

	_, err := svc.Activate(ctx, record.ID, nil)
	assert.ErrorIs(t, err, domain.ErrIncompleteKey)
}

func TestActivateNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Activate(context.Background(), snowflake.ID(12345), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdatePriceWithinToleranceEditsInPlace(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	record, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X4",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("10.00"),
		Activate:     true,
		ValidFrom:    date(2024, 1, 1),
	})
	require.NoError(t, err)
	published := len(pub.events)

	updated, err := svc.UpdatePrice(ctx, record.ID, decimal.RequireFromString("10.005"))
	require.NoError(t, err)

	assert.Equal(t, record.ID, updated.ID)
	assert.Equal(t, domain.StatusActive, updated.Status)
	assert.True(t, decimal.RequireFromString("10.005").Equal(updated.UnitPrice))
	assert.Nil(t, updated.ValidTo)
	assert.Len(t, pub.events, published, "sub-tolerance edit must not cascade")
}

func TestUpdatePriceReVersionsActiveRecord(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	record, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X5",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("10.00"),
		Activate:     true,
		ValidFrom:    date(2024, 1, 1),
	})
	require.NoError(t, err)

	successor, err := svc.UpdatePrice(ctx, record.ID, decimal.RequireFromString("12.00"))
	require.NoError(t, err)

	assert.NotEqual(t, record.ID, successor.ID)
	assert.Equal(t, domain.StatusActive, successor.Status)
	assert.Equal(t, domain.SourcePriceEdit, successor.Source)
	require.NotNil(t, successor.ValidFrom)
	assert.True(t, date(2024, 3, 15).Equal(*successor.ValidFrom))
	assert.Nil(t, successor.ValidTo)

	predecessor, err := svc.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, predecessor.Status)
	require.NotNil(t, predecessor.ValidTo)
	assert.True(t, date(2024, 3, 14).Equal(*predecessor.ValidTo))

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, []snowflake.ID{record.ID}, last.OldRecordIDs)
	assert.Equal(t, successor.ID, last.NewRecordID)
}

func TestUpdatePriceNeedReviewEditsInPlace(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	record, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X6",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("7.00"),
	})
	require.NoError(t, err)
	published := len(pub.events)

	updated, err := svc.UpdatePrice(ctx, record.ID, decimal.RequireFromString("20.00"))
	require.NoError(t, err)

	assert.Equal(t, record.ID, updated.ID)
	assert.Equal(t, domain.StatusNeedReview, updated.Status)
	assert.True(t, decimal.RequireFromString("20.00").Equal(updated.UnitPrice))
	assert.Len(t, pub.events, published, "non-active edits never cascade")
}

func TestUpdatePriceRejectsNonPositive(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.UpdatePrice(context.Background(), snowflake.ID(1), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestRetireClosesRecord(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	record, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X7",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("3.00"),
		Activate:     true,
		ValidFrom:    date(2024, 1, 1),
	})
	require.NoError(t, err)

	retired, err := svc.Retire(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInactive, retired.Status)
	require.NotNil(t, retired.ValidTo)
	assert.True(t, date(2024, 3, 15).Equal(*retired.ValidTo))

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, []snowflake.ID{record.ID}, last.OldRecordIDs)
	assert.Equal(t, snowflake.ID(0), last.NewRecordID)

	_, err = svc.Retire(ctx, record.ID)
	assert.ErrorIs(t, err, domain.ErrRecordInactive)
}

func TestLearnFromLineDeduplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := domain.LearnRequest{
		SupplierName: "Acme",
		SKU:          "X8",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("5.50"),
		ValidFrom:    date(2024, 3, 1),
	}

	first, created, err := svc.LearnFromLine(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, created)
	assert.Equal(t, domain.StatusNeedReview, first.Status)
	assert.Equal(t, domain.SourceLearnedFromInvoice, first.Source)

	second, created, err := svc.LearnFromLine(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestLearnFromLineSkipsKeysWithAnyRecord(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X9",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("2.00"),
		Activate:     true,
		ValidFrom:    date(2024, 1, 1),
	})
	require.NoError(t, err)

	record, created, err := svc.LearnFromLine(ctx, domain.LearnRequest{
		SupplierName: "Acme",
		SKU:          "X9",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("99.00"),
	})
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.False(t, created)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{
			name: "missing supplier",
			req:  domain.CreateRequest{SKU: "A", Currency: "DKK", UnitPrice: decimal.NewFromInt(1)},
			want: domain.ErrInvalidSupplier,
		},
		{
			name: "incomplete key",
			req:  domain.CreateRequest{SupplierName: "Acme", Currency: "DKK", UnitPrice: decimal.NewFromInt(1)},
			want: domain.ErrIncompleteKey,
		},
		{
			name: "bad currency",
			req:  domain.CreateRequest{SupplierName: "Acme", SKU: "A", Currency: "KRONER", UnitPrice: decimal.NewFromInt(1)},
			want: domain.ErrInvalidCurrency,
		},
		{
			name: "zero price",
			req:  domain.CreateRequest{SupplierName: "Acme", SKU: "A", Currency: "DKK"},
			want: domain.ErrInvalidPrice,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
