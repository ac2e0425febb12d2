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
	"github.com/nordbooks/varekost/internal/invoices/domain"
	"github.com/nordbooks/varekost/internal/invoices/repository"
	"github.com/nordbooks/varekost/internal/matcher"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	pricerepository "github.com/nordbooks/varekost/internal/priceledger/repository"
	priceservice "github.com/nordbooks/varekost/internal/priceledger/service"
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

type testStack struct {
	invoices  domain.Service
	ledger    pricedomain.Service
	db        *gorm.DB
	clock     *clock.FakeClock
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&pricedomain.PriceRecord{},
		&domain.Invoice{},
		&domain.InvoiceLine{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	fake := clock.NewFakeClock(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	tolerances := config.NewStaticToleranceHolder(config.ToleranceConfig{
		ValidationPercent: 5.0,
		PriceEditAbsolute: 0.01,
	})

	priceRepo := pricerepository.Provide()
	ledger := priceservice.New(priceservice.Params{
		DB:         db,
		Log:        log,
		Node:       node,
		Repo:       priceRepo,
		Tolerances: tolerances,
		Clock:      fake,
		Audit:      noopAudit{},
	})
	m := matcher.New(matcher.Params{
		DB:         db,
		Log:        log,
		Repo:       priceRepo,
		Tolerances: tolerances,
	})
	invoices := New(Params{
		DB:      db,
		Log:     log,
		Node:    node,
		Repo:    repository.Provide(),
		Matcher: m,
		Ledger:  ledger,
		Audit:   noopAudit{},
	})

	return &testStack{invoices: invoices, ledger: ledger, db: db, clock: fake}
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func (s *testStack) seedActivePrice(t *testing.T, sku, price string) *pricedomain.PriceRecord {
	t.Helper()
	record, err := s.ledger.Create(context.Background(), pricedomain.CreateRequest{
		SupplierName: "Acme",
		SKU:          sku,
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString(price),
		Activate:     true,
		ValidFrom:    date(2024, 1, 1),
	})
	require.NoError(t, err)
	return record
}

func (s *testStack) createInvoice(t *testing.T, lines ...domain.LineInput) *domain.Invoice {
	t.Helper()
	invoice, err := s.invoices.Create(context.Background(), domain.CreateRequest{
		SupplierName:  "Acme",
		InvoiceNumber: "INV-1001",
		InvoiceDate:   date(2024, 3, 1),
		Currency:      "DKK",
		TotalAmount:   decimal.RequireFromString("50.00"),
		Lines:         lines,
	})
	require.NoError(t, err)
	return invoice
}

func skuLine(lineNo int, sku, price string) domain.LineInput {
	return domain.LineInput{
		LineNo:    lineNo,
		SKU:       sku,
		Quantity:  decimal.NewFromInt(5),
		UnitPrice: decimal.RequireFromString(price),
		Currency:  "DKK",
	}
}

func TestValidateMatchingInvoice(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	s.seedActivePrice(t, "X1", "10.00")
	invoice := s.createInvoice(t, skuLine(1, "X1", "10.00"))
	require.Equal(t, domain.StatusParsed, invoice.Status)

	report, err := s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusValidated, report.Status)
	assert.Equal(t, 1, report.Matched)
	assert.Zero(t, report.Mismatched)

	loaded, err := s.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValidated, loaded.Status)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, domain.LineMatch, loaded.Lines[0].Status)
	require.NotNil(t, loaded.Lines[0].MatchedRecordID)
}

func TestValidateAfterPriceEditDemotes(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	record := s.seedActivePrice(t, "X1", "10.00")
	invoice := s.createInvoice(t, skuLine(1, "X1", "10.00"))

	_, err := s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)

	_, err = s.ledger.UpdatePrice(ctx, record.ID, decimal.RequireFromString("12.00"))
	require.NoError(t, err)

	report, err := s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsReview, report.Status)
	assert.Equal(t, 1, report.Mismatched)
}

func TestValidateLearnsUnknownKey(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	invoice := s.createInvoice(t, skuLine(1, "UNKNOWN-1", "7.25"))

	report, err := s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsReview, report.Status)
	assert.Equal(t, 1, report.CreatedRecords)

	records, err := s.ledger.List(ctx, pricedomain.ListFilter{
		SupplierName: "Acme",
		SKU:          "UNKNOWN-1",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, pricedomain.StatusNeedReview, records[0].Status)
	assert.Equal(t, pricedomain.SourceLearnedFromInvoice, records[0].Source)

	// A second pass must reuse the learned record, not stack duplicates.
	_, err = s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)
	records, err = s.ledger.List(ctx, pricedomain.ListFilter{
		SupplierName: "Acme",
		SKU:          "UNKNOWN-1",
	})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestValidateKnownButInactiveKeyIsNoMatch(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, err := s.ledger.Create(ctx, pricedomain.CreateRequest{
		SupplierName: "Acme",
		SKU:          "X2",
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)

	invoice := s.createInvoice(t, skuLine(1, "X2", "5.00"))
	report, err := s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNeedsReview, report.Status)
	assert.Equal(t, 1, report.NoMatch)
	assert.Zero(t, report.CreatedRecords, "existing need_review record must not be re-learned")
}

func TestAcceptPricePromotesLinePrice(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	old := s.seedActivePrice(t, "X1", "10.00")
	invoice := s.createInvoice(t, skuLine(1, "X1", "12.00"))

	report, err := s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedsReview, report.Status)

	loaded, err := s.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	lineID := loaded.Lines[0].ID

	report, err = s.invoices.AcceptPrice(ctx, domain.AcceptPriceRequest{
		LineID: lineID,
		Reason: "negotiated increase",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValidated, report.Status)
	assert.Equal(t, 1, report.Matched)

	closed, err := s.ledger.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, pricedomain.StatusInactive, closed.Status)
	require.NotNil(t, closed.ValidTo)

	records, err := s.ledger.List(ctx, pricedomain.ListFilter{
		SupplierName: "Acme",
		SKU:          "X1",
		Status:       pricedomain.StatusActive,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, decimal.RequireFromString("12.00").Equal(records[0].UnitPrice))
	assert.Equal(t, pricedomain.SourcePriceAcceptance, records[0].Source)
}

func TestDisputeFlagsLinesAndDemotes(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	s.seedActivePrice(t, "X1", "10.00")
	invoice := s.createInvoice(t, skuLine(1, "X1", "10.00"), skuLine(2, "X1", "10.00"))

	_, err := s.invoices.Validate(ctx, invoice.ID)
	require.NoError(t, err)

	loaded, err := s.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	firstLine := loaded.Lines[0].ID

	disputed, err := s.invoices.Dispute(ctx, domain.DisputeRequest{
		InvoiceID: invoice.ID,
		LineIDs:   []snowflake.ID{firstLine},
		Reason:    "quantity shortfall",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsReview, disputed.Status)

	loaded, err = s.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LineNoMatch, loaded.Lines[0].Status)
	assert.Equal(t, domain.LineMatch, loaded.Lines[1].Status)
}

func TestDisputeUnknownLine(t *testing.T) {
	s := newTestStack(t)
	invoice := s.createInvoice(t, skuLine(1, "X1", "10.00"))

	_, err := s.invoices.Dispute(context.Background(), domain.DisputeRequest{
		InvoiceID: invoice.ID,
		LineIDs:   []snowflake.ID{snowflake.ID(999999)},
	})
	assert.ErrorIs(t, err, domain.ErrLineNotFound)
}

func TestApprovedInvoiceIsTerminal(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	invoice := s.createInvoice(t, skuLine(1, "X1", "10.00"))

	approved, err := s.invoices.Approve(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)

	_, err = s.invoices.Validate(ctx, invoice.ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceTerminal)

	closed, err := s.invoices.Close(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)

	_, err = s.invoices.Approve(ctx, invoice.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, err := s.invoices.Create(ctx, domain.CreateRequest{
		InvoiceNumber: "INV-1",
		Currency:      "DKK",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoice)

	_, err = s.invoices.Create(ctx, domain.CreateRequest{
		SupplierName:  "Acme",
		InvoiceNumber: "INV-1",
		Currency:      "DKK",
		Lines: []domain.LineInput{{
			LineNo:    1,
			UnitPrice: decimal.NewFromInt(1),
		}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidLine)
}
