package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"github.com/nordbooks/varekost/internal/invoices/domain"
	"github.com/nordbooks/varekost/internal/matcher"
	"github.com/nordbooks/varekost/internal/observability/metrics"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Node    *snowflake.Node
	Repo    domain.Repository
	Matcher *matcher.Matcher
	Ledger  pricedomain.Service
	Audit   auditdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	node    *snowflake.Node
	repo    domain.Repository
	matcher *matcher.Matcher
	ledger  pricedomain.Service
	audit   auditdomain.Service
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("invoices.service"),
		node:    p.Node,
		repo:    p.Repo,
		matcher: p.Matcher,
		ledger:  p.Ledger,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Invoice, error) {
	req.SupplierName = strings.TrimSpace(req.SupplierName)
	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.SupplierName == "" || req.InvoiceNumber == "" || len(req.Currency) != 3 {
		return nil, domain.ErrInvalidInvoice
	}

	invoice := &domain.Invoice{
		ID:              s.node.Generate(),
		SupplierName:    req.SupplierName,
		InvoiceNumber:   req.InvoiceNumber,
		InvoiceDate:     req.InvoiceDate,
		Currency:        req.Currency,
		SubtotalAmount:  req.SubtotalAmount,
		TaxAmount:       req.TaxAmount,
		FreightAmount:   req.FreightAmount,
		TotalAmount:     req.TotalAmount,
		Status:          domain.StatusReceived,
		Scanned:         req.Scanned,
		SourceMessageID: optional(strings.TrimSpace(req.SourceMessageID)),
	}

	lines, err := s.buildLines(invoice, req.Lines)
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		invoice.Status = domain.StatusParsed
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertInvoice(ctx, tx, invoice); err != nil {
			return err
		}
		return s.repo.InsertLines(ctx, tx, lines)
	})
	if err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}
	invoice.Lines = lines

	_ = s.audit.Record(ctx, "invoice", invoice.ID.String(), "create", map[string]any{
		"supplier_name":  invoice.SupplierName,
		"invoice_number": invoice.InvoiceNumber,
		"line_count":     len(lines),
	})
	return invoice, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, id, true)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	return invoice, nil
}

func (s *service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx, s.db, filter)
}

// ReplaceLines swaps the extracted line set under an invoice. Every previous
// classification is discarded and the invoice drops back to parsed.
func (s *service) ReplaceLines(ctx context.Context, invoiceID snowflake.ID, inputs []domain.LineInput) (*domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, invoiceID, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	if invoice.Status.Terminal() {
		return nil, domain.ErrInvoiceTerminal
	}

	lines, err := s.buildLines(invoice, inputs)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeleteLinesByInvoice(ctx, tx, invoiceID); err != nil {
			return err
		}
		if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
			return err
		}
		if len(lines) > 0 {
			invoice.Status = domain.StatusParsed
		} else {
			invoice.Status = domain.StatusReceived
		}
		return s.repo.UpdateInvoice(ctx, tx, invoice)
	})
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines

	_ = s.audit.Record(ctx, "invoice", invoiceID.String(), "replace_lines", map[string]any{
		"line_count": len(lines),
	})
	return invoice, nil
}

// Validate is the full, promotion-capable pass: every line is re-matched
// against the current ledger, lines with unknown keys learn a need_review
// price record, and the invoice status is re-derived from scratch.
func (s *service) Validate(ctx context.Context, invoiceID snowflake.ID) (*domain.ValidationReport, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, invoiceID, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	if invoice.Status.Terminal() {
		return nil, domain.ErrInvoiceTerminal
	}

	lines, err := s.repo.LinesByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}

	for i := range lines {
		line := &lines[i]
		result, err := s.matcher.Match(ctx, line, invoice.SupplierName, invoice.InvoiceDate, invoice.Currency)
		if err != nil {
			return nil, fmt.Errorf("match line %d: %w", line.LineNo, err)
		}

		status := result.Status
		if status == domain.LineNoMatch && !result.KnownKey {
			status = s.learnFromLine(ctx, invoice, line)
		}

		var matchedID *snowflake.ID
		if result.Record != nil {
			id := result.Record.ID
			matchedID = &id
		}
		if line.Status != status || !idEqual(line.MatchedRecordID, matchedID) {
			line.Status = status
			line.MatchedRecordID = matchedID
			if err := s.repo.UpdateLine(ctx, s.db, line); err != nil {
				return nil, err
			}
		}
	}

	derived := domain.DeriveStatus(invoice.Status, lines)
	if derived != invoice.Status {
		invoice.Status = derived
		if err := s.repo.UpdateInvoice(ctx, s.db, invoice); err != nil {
			return nil, err
		}
	}

	report := buildReport(invoiceID, invoice.Status, lines)
	s.metrics.RecordInvoiceValidation(ctx, string(invoice.Status))
	_ = s.audit.Record(ctx, "invoice", invoiceID.String(), "validate", map[string]any{
		"status":     string(report.Status),
		"matched":    report.Matched,
		"mismatched": report.Mismatched,
		"no_match":   report.NoMatch,
	})
	return report, nil
}

func (s *service) ValidationStatus(ctx context.Context, invoiceID snowflake.ID) (*domain.ValidationReport, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, invoiceID, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	lines, err := s.repo.LinesByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	return buildReport(invoiceID, invoice.Status, lines), nil
}

// AcceptPrice promotes the line's invoiced price (or an explicit override) to
// a fresh active price record, then re-validates the owning invoice. The
// ledger activation closes out competing records and triggers the cascade for
// every other invoice touching the key.
func (s *service) AcceptPrice(ctx context.Context, req domain.AcceptPriceRequest) (*domain.ValidationReport, error) {
	line, err := s.repo.FindLineByID(ctx, s.db, req.LineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, domain.ErrLineNotFound
	}
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, line.InvoiceID, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}

	price := req.NewPrice
	if !price.IsPositive() {
		price = line.UnitPrice
	}
	currency := strings.ToUpper(strings.TrimSpace(line.Currency))
	if currency == "" {
		currency = invoice.Currency
	}
	validFrom := req.ValidFrom
	if validFrom == nil {
		validFrom = invoice.InvoiceDate
	}

	record, err := s.ledger.Create(ctx, pricedomain.CreateRequest{
		SupplierName: invoice.SupplierName,
		SKU:          deref(line.SKU),
		ProductName:  deref(line.ProductName),
		Currency:     currency,
		UnitPrice:    price,
		Activate:     true,
		ValidFrom:    validFrom,
		Source:       pricedomain.SourcePriceAcceptance,
		Note:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return nil, fmt.Errorf("accept price: %w", err)
	}

	_ = s.audit.Record(ctx, "invoice_line", req.LineID.String(), "accept_price", map[string]any{
		"price_record_id": record.ID.String(),
		"unit_price":      price.String(),
		"reason":          strings.TrimSpace(req.Reason),
	})
	return s.Validate(ctx, invoice.ID)
}

// Dispute flags the selected lines (or all lines when none are named) as
// no_match and demotes the invoice to needs_review. The reason survives only
// in the audit trail.
func (s *service) Dispute(ctx context.Context, req domain.DisputeRequest) (*domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, req.InvoiceID, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	if invoice.Status.Terminal() {
		return nil, domain.ErrInvoiceTerminal
	}

	lines, err := s.repo.LinesByInvoice(ctx, s.db, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	selected := make(map[snowflake.ID]bool, len(req.LineIDs))
	for _, id := range req.LineIDs {
		selected[id] = true
	}
	flagged := make([]string, 0, len(lines))
	for i := range lines {
		line := &lines[i]
		if len(req.LineIDs) > 0 && !selected[line.ID] {
			continue
		}
		delete(selected, line.ID)
		if line.Status != domain.LineNoMatch {
			line.Status = domain.LineNoMatch
			if err := s.repo.UpdateLine(ctx, s.db, line); err != nil {
				return nil, err
			}
		}
		flagged = append(flagged, line.ID.String())
	}
	if len(selected) > 0 {
		return nil, domain.ErrLineNotFound
	}

	invoice.Status = domain.StatusNeedsReview
	if err := s.repo.UpdateInvoice(ctx, s.db, invoice); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, "invoice", req.InvoiceID.String(), "dispute", map[string]any{
		"reason":   strings.TrimSpace(req.Reason),
		"line_ids": flagged,
	})
	return invoice, nil
}

func (s *service) Approve(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.override(ctx, id, domain.StatusApproved, "approve")
}

func (s *service) Close(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.override(ctx, id, domain.StatusClosed, "close")
}

// override applies a human status decision regardless of line statuses.
func (s *service) override(ctx context.Context, id snowflake.ID, status domain.Status, action string) (*domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	if invoice.Status == domain.StatusClosed {
		return nil, domain.ErrInvalidStatus
	}

	old := invoice.Status
	invoice.Status = status
	if err := s.repo.UpdateInvoice(ctx, s.db, invoice); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, "invoice", id.String(), action, map[string]any{
		"old_status": string(old),
		"new_status": string(status),
	})
	return invoice, nil
}

// learnFromLine creates (or reuses) a need_review price record for a line with
// an unknown key. Learning failures never fail the validation pass; the line
// stays no_match.
func (s *service) learnFromLine(ctx context.Context, invoice *domain.Invoice, line *domain.InvoiceLine) domain.LineStatus {
	currency := strings.ToUpper(strings.TrimSpace(line.Currency))
	if currency == "" {
		currency = invoice.Currency
	}
	record, _, err := s.ledger.LearnFromLine(ctx, pricedomain.LearnRequest{
		SupplierName: invoice.SupplierName,
		SKU:          deref(line.SKU),
		ProductName:  deref(line.ProductName),
		Currency:     currency,
		UnitPrice:    line.UnitPrice,
		ValidFrom:    invoice.InvoiceDate,
	})
	if err != nil {
		s.log.Warn("learning price record from line failed",
			zap.Int64("line_id", line.ID.Int64()),
			zap.Error(err),
		)
		return domain.LineNoMatch
	}
	if record == nil {
		return domain.LineNoMatch
	}
	return domain.LineCreatedPriceRecord
}

func (s *service) buildLines(invoice *domain.Invoice, inputs []domain.LineInput) ([]domain.InvoiceLine, error) {
	lines := make([]domain.InvoiceLine, 0, len(inputs))
	for _, in := range inputs {
		sku := strings.TrimSpace(in.SKU)
		product := strings.TrimSpace(in.ProductName)
		if sku == "" && product == "" {
			return nil, domain.ErrInvalidLine
		}
		if in.UnitPrice.IsNegative() {
			return nil, domain.ErrInvalidLine
		}
		currency := strings.ToUpper(strings.TrimSpace(in.Currency))
		if currency == "" {
			currency = invoice.Currency
		}
		lines = append(lines, domain.InvoiceLine{
			ID:          s.node.Generate(),
			InvoiceID:   invoice.ID,
			LineNo:      in.LineNo,
			SKU:         optional(sku),
			ProductName: optional(product),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Currency:    currency,
			Status:      domain.LineUnvalidated,
		})
	}
	return lines, nil
}

func buildReport(invoiceID snowflake.ID, status domain.Status, lines []domain.InvoiceLine) *domain.ValidationReport {
	report := &domain.ValidationReport{
		InvoiceID:  invoiceID,
		Status:     status,
		TotalLines: len(lines),
	}
	for _, line := range lines {
		switch line.Status {
		case domain.LineMatch:
			report.Matched++
		case domain.LineMismatch:
			report.Mismatched++
		case domain.LineNoMatch:
			report.NoMatch++
		case domain.LineCreatedPriceRecord:
			report.CreatedRecords++
		}
	}
	return report
}

func idEqual(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
