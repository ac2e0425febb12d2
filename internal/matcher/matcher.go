// Package matcher classifies invoice lines against the price ledger. It is a
// pure reader: it never creates or mutates price records.
package matcher

import (
	"context"
	"strings"
	"time"

	"github.com/nordbooks/varekost/internal/config"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result is the outcome of matching one line.
type Result struct {
	Status invoicedomain.LineStatus
	Record *pricedomain.PriceRecord

	// KnownKey is false when the line's key has no price record of any
	// status. The validation pass uses it to decide whether to learn a
	// need_review record for the line.
	KnownKey bool

	// Difference is record price minus line price when a candidate record
	// was found, zero otherwise.
	Difference decimal.Decimal
}

type Matcher struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       pricedomain.Repository
	tolerances *config.ToleranceHolder
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       pricedomain.Repository
	Tolerances *config.ToleranceHolder
}

func New(p Params) *Matcher {
	return &Matcher{
		db:         p.DB,
		log:        p.Log.Named("matcher"),
		repo:       p.Repo,
		tolerances: p.Tolerances,
	}
}

// Match classifies a line against the current ledger state. Lookup is
// supplier-scoped and SKU-first with a case-insensitive product name
// fallback. A candidate covering the invoice date is preferred; failing
// that the most recent active record is compared.
func (m *Matcher) Match(ctx context.Context, line *invoicedomain.InvoiceLine, supplierName string, invoiceDate *time.Time, invoiceCurrency string) (Result, error) {
	candidates, err := m.lookup(ctx, line, supplierName)
	if err != nil {
		return Result{}, err
	}

	date := effectiveDate(invoiceDate)
	record := pickCandidate(candidates, date)
	if record == nil {
		known, err := m.keyKnown(ctx, line, supplierName)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: invoicedomain.LineNoMatch, KnownKey: known}, nil
	}

	result := Result{
		Record:     record,
		KnownKey:   true,
		Difference: record.UnitPrice.Sub(line.UnitPrice),
	}

	lineCurrency := strings.ToUpper(strings.TrimSpace(line.Currency))
	if lineCurrency == "" {
		lineCurrency = strings.ToUpper(strings.TrimSpace(invoiceCurrency))
	}
	if !strings.EqualFold(record.Currency, lineCurrency) {
		result.Status = invoicedomain.LineMismatch
		return result, nil
	}

	if withinPercentTolerance(record.UnitPrice, line.UnitPrice, m.tolerances.Get().ValidationPercent) {
		result.Status = invoicedomain.LineMatch
	} else {
		result.Status = invoicedomain.LineMismatch
	}
	return result, nil
}

func (m *Matcher) lookup(ctx context.Context, line *invoicedomain.InvoiceLine, supplierName string) ([]pricedomain.PriceRecord, error) {
	if line.HasSKU() {
		return m.repo.ActiveBySKU(ctx, m.db, supplierName, strings.TrimSpace(*line.SKU))
	}
	if line.ProductName != nil && strings.TrimSpace(*line.ProductName) != "" {
		return m.repo.ActiveByProductName(ctx, m.db, supplierName, strings.TrimSpace(*line.ProductName))
	}
	return nil, nil
}

func (m *Matcher) keyKnown(ctx context.Context, line *invoicedomain.InvoiceLine, supplierName string) (bool, error) {
	key := pricedomain.Key{SupplierName: supplierName}
	if line.SKU != nil {
		key.SKU = strings.TrimSpace(*line.SKU)
	}
	if line.ProductName != nil {
		key.ProductName = strings.TrimSpace(*line.ProductName)
	}
	if key.Incomplete() {
		return false, nil
	}
	return m.repo.AnyByKey(ctx, m.db, key)
}

// pickCandidate prefers a record whose validity window covers the date and
// otherwise falls back to the most recent active record. The fallback matters
// after a re-versioning: a line dated before the successor's valid_from must
// still be compared against the new authoritative price, not dropped to
// no_match. Repos order candidates by valid_from descending.
func pickCandidate(candidates []pricedomain.PriceRecord, date time.Time) *pricedomain.PriceRecord {
	for i := range candidates {
		if candidates[i].CoversDate(date) {
			return &candidates[i]
		}
	}
	if len(candidates) > 0 {
		return &candidates[0]
	}
	return nil
}

// withinPercentTolerance checks |record − line| <= record * pct/100 using
// exact decimal arithmetic.
func withinPercentTolerance(recordPrice, linePrice decimal.Decimal, pct float64) bool {
	allowed := recordPrice.Abs().Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	return recordPrice.Sub(linePrice).Abs().LessThanOrEqual(allowed)
}

func effectiveDate(invoiceDate *time.Time) time.Time {
	if invoiceDate != nil {
		return invoiceDate.UTC().Truncate(24 * time.Hour)
	}
	return time.Now().UTC().Truncate(24 * time.Hour)
}

var Module = fx.Module("matcher", fx.Provide(New))
