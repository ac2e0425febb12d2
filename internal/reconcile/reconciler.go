// Package reconcile re-matches invoice lines after a price ledger change and
// demotes invoices whose lines no longer match.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"github.com/nordbooks/varekost/internal/config"
	"github.com/nordbooks/varekost/internal/events"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	"github.com/nordbooks/varekost/internal/matcher"
	"github.com/nordbooks/varekost/internal/observability/metrics"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg     config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	Repo    invoicedomain.Repository
	Matcher *matcher.Matcher
	Audit   auditdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Reconciler struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    invoicedomain.Repository
	matcher *matcher.Matcher
	audit   auditdomain.Service
	metrics *metrics.Metrics
	workers int
}

func New(p Params) *Reconciler {
	workers := p.Cfg.CascadeWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Reconciler{
		db:      p.DB,
		log:     p.Log.Named("reconcile"),
		repo:    p.Repo,
		matcher: p.Matcher,
		audit:   p.Audit,
		metrics: p.Metrics,
		workers: workers,
	}
}

// OnPriceChanged re-runs the matcher over every line of the changed key and
// returns the number of line status writes. Invoices are processed in
// parallel under a bounded worker count; lines within one invoice stay
// sequential so the status derivation sees all of that invoice's writes.
// A failing line is skipped, not rolled back: the cascade is idempotent and
// re-runnable, so partial completion is recoverable.
func (r *Reconciler) OnPriceChanged(ctx context.Context, evt events.PriceChanged) (int, error) {
	lines, err := r.repo.LinesByKey(ctx, r.db, evt.SupplierName, evt.SKU, evt.ProductName)
	if err != nil {
		return 0, fmt.Errorf("load lines for key: %w", err)
	}
	if len(lines) == 0 {
		r.metrics.RecordCascadeRun(ctx, "noop", 0)
		return 0, nil
	}

	byInvoice := make(map[snowflake.ID][]invoicedomain.InvoiceLine)
	for _, line := range lines {
		byInvoice[line.InvoiceID] = append(byInvoice[line.InvoiceID], line)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		updated int
		errs    []error
	)
	sem := make(chan struct{}, r.workers)
	for invoiceID, invoiceLines := range byInvoice {
		wg.Add(1)
		sem <- struct{}{}
		go func(invoiceID snowflake.ID, invoiceLines []invoicedomain.InvoiceLine) {
			defer wg.Done()
			defer func() { <-sem }()
			n, err := r.processInvoice(ctx, invoiceID, invoiceLines, evt.NewRecordID)
			mu.Lock()
			updated += n
			if err != nil {
				errs = append(errs, fmt.Errorf("invoice %s: %w", invoiceID, err))
			}
			mu.Unlock()
		}(invoiceID, invoiceLines)
	}
	wg.Wait()

	outcome := "success"
	if len(errs) > 0 {
		outcome = "partial"
	}
	r.metrics.RecordCascadeRun(ctx, outcome, updated)
	r.log.Info("cascade complete",
		zap.String("supplier_name", evt.SupplierName),
		zap.Int("invoices", len(byInvoice)),
		zap.Int("lines_updated", updated),
		zap.Int("errors", len(errs)),
	)
	return updated, errors.Join(errs...)
}

// RunCascade re-runs the cascade for a key without a triggering event, used
// to recover from dropped events or partial completions.
func (r *Reconciler) RunCascade(ctx context.Context, key pricedomain.Key) (int, error) {
	return r.OnPriceChanged(ctx, events.PriceChanged{
		SupplierName: key.SupplierName,
		SKU:          key.SKU,
		ProductName:  key.ProductName,
		OccurredAt:   time.Now().UTC(),
	})
}

func (r *Reconciler) processInvoice(ctx context.Context, invoiceID snowflake.ID, lines []invoicedomain.InvoiceLine, triggerID snowflake.ID) (int, error) {
	invoice, err := r.repo.FindInvoiceByID(ctx, r.db, invoiceID, false)
	if err != nil {
		return 0, err
	}
	if invoice == nil || invoice.Status.Terminal() {
		return 0, nil
	}

	var (
		updated int
		errs    []error
	)
	for i := range lines {
		line := &lines[i]
		result, err := r.matcher.Match(ctx, line, invoice.SupplierName, invoice.InvoiceDate, invoice.Currency)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line.LineNo, err))
			continue
		}
		status := result.Status
		if line.Status == invoicedomain.LineCreatedPriceRecord && status == invoicedomain.LineNoMatch && result.KnownKey {
			// The learned need_review record still exists, classification stands.
			continue
		}
		if status == line.Status {
			continue
		}

		old := line.Status
		line.Status = status
		if result.Record != nil {
			id := result.Record.ID
			line.MatchedRecordID = &id
		} else {
			line.MatchedRecordID = nil
		}
		if err := r.repo.UpdateLine(ctx, r.db, line); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line.LineNo, err))
			continue
		}
		updated++
		_ = r.audit.Record(ctx, "invoice_line", line.ID.String(), "rematch", map[string]any{
			"old_status":                 string(old),
			"new_status":                 string(status),
			"triggering_price_record_id": triggerID.String(),
			"timestamp":                  time.Now().UTC().Format(time.RFC3339),
		})
	}

	// Derivation runs over the invoice's full line set, not just the lines
	// carrying the changed key.
	allLines, err := r.repo.LinesByInvoice(ctx, r.db, invoiceID)
	if err != nil {
		errs = append(errs, err)
		return updated, errors.Join(errs...)
	}
	derived := invoicedomain.DemoteOnly(invoice.Status, allLines)
	if derived != invoice.Status {
		old := invoice.Status
		invoice.Status = derived
		if err := r.repo.UpdateInvoice(ctx, r.db, invoice); err != nil {
			errs = append(errs, err)
			return updated, errors.Join(errs...)
		}
		_ = r.audit.Record(ctx, "invoice", invoiceID.String(), "demote", map[string]any{
			"old_status": string(old),
			"new_status": string(derived),
		})
	}
	return updated, errors.Join(errs...)
}
