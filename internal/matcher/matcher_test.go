package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nordbooks/varekost/internal/config"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/nordbooks/varekost/internal/priceledger/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestMatcher(t *testing.T) (*Matcher, *gorm.DB, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&pricedomain.PriceRecord{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	m := &Matcher{
		db:   db,
		log:  zaptest.NewLogger(t),
		repo: repository.Provide(),
		tolerances: config.NewStaticToleranceHolder(config.ToleranceConfig{
			ValidationPercent: 5.0,
			PriceEditAbsolute: 0.01,
		}),
	}
	return m, db, node
}

func seedRecord(t *testing.T, db *gorm.DB, node *snowflake.Node, mutate func(*pricedomain.PriceRecord)) *pricedomain.PriceRecord {
	t.Helper()
	sku := "X1"
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	record := &pricedomain.PriceRecord{
		ID:           node.Generate(),
		SupplierName: "Acme",
		SKU:          &sku,
		Currency:     "DKK",
		UnitPrice:    decimal.RequireFromString("10.00"),
		Status:       pricedomain.StatusActive,
		ValidFrom:    &from,
		Source:       pricedomain.SourceManual,
	}
	if mutate != nil {
		mutate(record)
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

func line(sku, product, price string) *invoicedomain.InvoiceLine {
	l := &invoicedomain.InvoiceLine{
		Quantity:  decimal.NewFromInt(5),
		UnitPrice: decimal.RequireFromString(price),
		Currency:  "DKK",
	}
	if sku != "" {
		l.SKU = &sku
	}
	if product != "" {
		l.ProductName = &product
	}
	return l
}

func TestMatchBySKUWithinTolerance(t *testing.T) {
	m, db, node := newTestMatcher(t)
	record := seedRecord(t, db, node, nil)
	invoiceDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		price string
		want  invoicedomain.LineStatus
	}{
		{"exact", "10.00", invoicedomain.LineMatch},
		{"inside 5 percent", "10.49", invoicedomain.LineMatch},
		{"boundary", "10.50", invoicedomain.LineMatch},
		{"outside 5 percent", "10.51", invoicedomain.LineMismatch},
		{"well outside", "12.00", invoicedomain.LineMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := m.Match(context.Background(), line("X1", "", tc.price), "Acme", &invoiceDate, "DKK")
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Status)
			require.NotNil(t, result.Record)
			assert.Equal(t, record.ID, result.Record.ID)
			assert.True(t, result.KnownKey)
		})
	}
}

func TestMatchFallsBackToProductName(t *testing.T) {
	m, db, node := newTestMatcher(t)
	product := "Widget Large"
	seedRecord(t, db, node, func(r *pricedomain.PriceRecord) {
		r.SKU = nil
		r.ProductName = &product
	})
	invoiceDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := m.Match(context.Background(), line("", "WIDGET LARGE", "10.00"), "Acme", &invoiceDate, "DKK")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.LineMatch, result.Status)
}

func TestMatchCurrencyMismatch(t *testing.T) {
	m, db, node := newTestMatcher(t)
	seedRecord(t, db, node, func(r *pricedomain.PriceRecord) {
		r.Currency = "EUR"
	})
	invoiceDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := m.Match(context.Background(), line("X1", "", "10.00"), "Acme", &invoiceDate, "DKK")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.LineMismatch, result.Status, "currency differences are never converted")
}

func TestMatchPrefersWindowCoveringRecord(t *testing.T) {
	m, db, node := newTestMatcher(t)
	dated := seedRecord(t, db, node, func(r *pricedomain.PriceRecord) {
		to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
		r.ValidTo = &to
		r.UnitPrice = decimal.RequireFromString("8.00")
	})
	current := seedRecord(t, db, node, func(r *pricedomain.PriceRecord) {
		from := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
		r.ValidFrom = &from
		r.UnitPrice = decimal.RequireFromString("9.00")
	})

	early := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	result, err := m.Match(context.Background(), line("X1", "", "8.00"), "Acme", &early, "DKK")
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Equal(t, dated.ID, result.Record.ID)
	assert.Equal(t, invoicedomain.LineMatch, result.Status)

	late := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	result, err = m.Match(context.Background(), line("X1", "", "9.00"), "Acme", &late, "DKK")
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Equal(t, current.ID, result.Record.ID)
	assert.Equal(t, invoicedomain.LineMatch, result.Status)
}

func TestMatchFallsBackToLatestActiveRecord(t *testing.T) {
	m, db, node := newTestMatcher(t)
	record := seedRecord(t, db, node, func(r *pricedomain.PriceRecord) {
		from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		r.ValidFrom = &from
	})
	invoiceDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// A line dated before the record's window still compares against the
	// authoritative price instead of dropping to no_match.
	result, err := m.Match(context.Background(), line("X1", "", "10.00"), "Acme", &invoiceDate, "DKK")
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Equal(t, record.ID, result.Record.ID)
	assert.Equal(t, invoicedomain.LineMatch, result.Status)
}

func TestMatchSupplierScoped(t *testing.T) {
	m, db, node := newTestMatcher(t)
	seedRecord(t, db, node, nil)
	invoiceDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := m.Match(context.Background(), line("X1", "", "10.00"), "OtherSupplier", &invoiceDate, "DKK")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.LineNoMatch, result.Status)
	assert.False(t, result.KnownKey)
}

func TestMatchUnknownKey(t *testing.T) {
	m, _, _ := newTestMatcher(t)
	invoiceDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := m.Match(context.Background(), line("NOPE", "", "10.00"), "Acme", &invoiceDate, "DKK")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.LineNoMatch, result.Status)
	assert.False(t, result.KnownKey)
	assert.Nil(t, result.Record)
}

func TestMatchIgnoresInactiveRecords(t *testing.T) {
	m, db, node := newTestMatcher(t)
	seedRecord(t, db, node, func(r *pricedomain.PriceRecord) {
		r.Status = pricedomain.StatusNeedReview
	})
	invoiceDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := m.Match(context.Background(), line("X1", "", "10.00"), "Acme", &invoiceDate, "DKK")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.LineNoMatch, result.Status)
	assert.True(t, result.KnownKey, "need_review records make the key known but never match")
}
