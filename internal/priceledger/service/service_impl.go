package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"github.com/nordbooks/varekost/internal/clock"
	"github.com/nordbooks/varekost/internal/config"
	"github.com/nordbooks/varekost/internal/events"
	"github.com/nordbooks/varekost/internal/observability/metrics"
	"github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Node       *snowflake.Node
	Repo       domain.Repository
	Tolerances *config.ToleranceHolder
	Clock      clock.Clock
	Publisher  domain.EventPublisher `optional:"true"`
	Audit      auditdomain.Service
	Metrics    *metrics.Metrics `optional:"true"`
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	node       *snowflake.Node
	repo       domain.Repository
	tolerances *config.ToleranceHolder
	clock      clock.Clock
	publisher  domain.EventPublisher
	audit      auditdomain.Service
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("priceledger.service"),
		node:       p.Node,
		repo:       p.Repo,
		tolerances: p.Tolerances,
		clock:      p.Clock,
		publisher:  p.Publisher,
		audit:      p.Audit,
		metrics:    p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.PriceRecord, error) {
	req.SupplierName = strings.TrimSpace(req.SupplierName)
	req.SKU = strings.TrimSpace(req.SKU)
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	if req.SupplierName == "" {
		return nil, domain.ErrInvalidSupplier
	}
	if req.SKU == "" && req.ProductName == "" {
		return nil, domain.ErrIncompleteKey
	}
	if len(req.Currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}
	if !req.UnitPrice.IsPositive() {
		return nil, domain.ErrInvalidPrice
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = domain.SourceManual
	}

	record := &domain.PriceRecord{
		ID:           s.node.Generate(),
		SupplierName: req.SupplierName,
		SKU:          optional(req.SKU),
		ProductName:  optional(req.ProductName),
		Currency:     req.Currency,
		UnitPrice:    req.UnitPrice,
		Status:       domain.StatusNeedReview,
		ValidFrom:    req.ValidFrom,
		Source:       source,
		Note:         optional(strings.TrimSpace(req.Note)),
		CreatedBy:    optional(strings.TrimSpace(req.CreatedBy)),
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		return nil, fmt.Errorf("insert price record: %w", err)
	}

	_ = s.audit.Record(ctx, "price_record", record.ID.String(), "create", map[string]any{
		"supplier_name": record.SupplierName,
		"unit_price":    record.UnitPrice.String(),
		"currency":      record.Currency,
		"source":        record.Source,
	})

	if req.Activate {
		return s.Activate(ctx, record.ID, req.ValidFrom)
	}
	return record, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.PriceRecord, error) {
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

func (s *service) List(ctx context.Context, filter domain.ListFilter) ([]domain.PriceRecord, error) {
	return s.repo.List(ctx, s.db, filter)
}

// Activate promotes a record to the single authoritative price for its key.
// Competing active records are closed out at the day before the new record's
// effective start date, inside one transaction. The invariant check after the
// close-out guards against a racing activation on the same key; on a violation
// the transaction rolls back and the whole attempt is retried once.
func (s *service) Activate(ctx context.Context, id snowflake.ID, validFrom *time.Time) (*domain.PriceRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	key := record.Key()
	if key.Incomplete() {
		return nil, domain.ErrIncompleteKey
	}

	effective := s.effectiveFrom(record, validFrom)

	var (
		activated *domain.PriceRecord
		oldIDs    []snowflake.ID
	)
	attempt := func() error {
		activated = nil
		oldIDs = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			actives, err := s.repo.ActiveByKey(ctx, tx, key, true)
			if err != nil {
				return err
			}

			closeOut := effective.AddDate(0, 0, -1)
			for i := range actives {
				other := &actives[i]
				if other.ID == id {
					continue
				}
				if other.ValidFrom != nil && closeOut.Before(*other.ValidFrom) {
					return domain.ErrInvalidValidity
				}
				other.Status = domain.StatusInactive
				to := closeOut
				other.ValidTo = &to
				if err := s.repo.Update(ctx, tx, other); err != nil {
					return err
				}
				oldIDs = append(oldIDs, other.ID)
			}

			target, err := s.repo.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if target == nil {
				return domain.ErrNotFound
			}
			target.Status = domain.StatusActive
			from := effective
			target.ValidFrom = &from
			target.ValidTo = nil
			if err := s.repo.Update(ctx, tx, target); err != nil {
				return err
			}

			count, err := s.repo.CountOpenActiveByKey(ctx, tx, key)
			if err != nil {
				return err
			}
			if count != 1 {
				return domain.ErrActivationConflict
			}
			activated = target
			return nil
		})
	}

	if err := attempt(); err != nil {
		if !errors.Is(err, domain.ErrActivationConflict) {
			return nil, err
		}
		s.log.Warn("activation conflict, retrying once",
			zap.Int64("record_id", id.Int64()),
			zap.String("supplier_name", key.SupplierName),
		)
		if err := attempt(); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, key, oldIDs, id)
	s.metrics.RecordPriceActivation(ctx, activated.Source)
	_ = s.audit.Record(ctx, "price_record", id.String(), "activate", map[string]any{
		"supplier_name":  key.SupplierName,
		"valid_from":     effective.Format(time.DateOnly),
		"closed_out_ids": idStrings(oldIDs),
	})
	return activated, nil
}

// UpdatePrice edits a record's unit price. Active records re-version when the
// change exceeds the absolute edit tolerance; within tolerance the price is
// corrected in place and no cascade fires. Records in any other status are
// always edited in place.
func (s *service) UpdatePrice(ctx context.Context, id snowflake.ID, newPrice decimal.Decimal) (*domain.PriceRecord, error) {
	if !newPrice.IsPositive() {
		return nil, domain.ErrInvalidPrice
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	delta := newPrice.Sub(record.UnitPrice).Abs()
	tolerance := decimal.NewFromFloat(s.tolerances.Get().PriceEditAbsolute)

	if record.Status != domain.StatusActive || delta.LessThanOrEqual(tolerance) {
		oldPrice := record.UnitPrice
		record.UnitPrice = newPrice
		if err := s.repo.Update(ctx, s.db, record); err != nil {
			return nil, err
		}
		_ = s.audit.Record(ctx, "price_record", id.String(), "update_price", map[string]any{
			"old_price":   oldPrice.String(),
			"new_price":   newPrice.String(),
			"re_versioned": false,
		})
		return record, nil
	}

	key := record.Key()
	today := clock.Today(s.clock)
	yesterday := today.AddDate(0, 0, -1)
	if record.ValidFrom != nil && yesterday.Before(*record.ValidFrom) {
		return nil, domain.ErrInvalidValidity
	}

	successor := &domain.PriceRecord{
		ID:           s.node.Generate(),
		SupplierName: record.SupplierName,
		SKU:          record.SKU,
		ProductName:  record.ProductName,
		Currency:     record.Currency,
		UnitPrice:    newPrice,
		Status:       domain.StatusActive,
		ValidFrom:    &today,
		Source:       domain.SourcePriceEdit,
		CreatedBy:    record.CreatedBy,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.ActiveByKey(ctx, tx, key, true); err != nil {
			return err
		}
		predecessor, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if predecessor == nil {
			return domain.ErrNotFound
		}
		if predecessor.Status != domain.StatusActive {
			return domain.ErrRecordInactive
		}
		predecessor.Status = domain.StatusInactive
		to := yesterday
		predecessor.ValidTo = &to
		if err := s.repo.Update(ctx, tx, predecessor); err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, successor); err != nil {
			return err
		}

		count, err := s.repo.CountOpenActiveByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if count != 1 {
			return domain.ErrActivationConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, key, []snowflake.ID{id}, successor.ID)
	s.metrics.RecordPriceActivation(ctx, domain.SourcePriceEdit)
	_ = s.audit.Record(ctx, "price_record", id.String(), "update_price", map[string]any{
		"old_price":    record.UnitPrice.String(),
		"new_price":    newPrice.String(),
		"re_versioned": true,
		"successor_id": successor.ID.String(),
	})
	return successor, nil
}

// Retire closes an active record without a successor. The record stays valid
// through today.
func (s *service) Retire(ctx context.Context, id snowflake.ID) (*domain.PriceRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusActive {
		return nil, domain.ErrRecordInactive
	}

	today := clock.Today(s.clock)
	if record.ValidFrom != nil && today.Before(*record.ValidFrom) {
		return nil, domain.ErrInvalidValidity
	}

	record.Status = domain.StatusInactive
	if record.ValidTo == nil {
		to := today
		record.ValidTo = &to
	}
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.publish(ctx, record.Key(), []snowflake.ID{id}, 0)
	_ = s.audit.Record(ctx, "price_record", id.String(), "retire", map[string]any{
		"supplier_name": record.SupplierName,
		"valid_to":      today.Format(time.DateOnly),
	})
	return record, nil
}

// LearnFromLine records an unknown invoice price as a need_review candidate.
// An existing need_review record for the key is reused rather than duplicated,
// and keys that already carry a record of any status learn nothing.
func (s *service) LearnFromLine(ctx context.Context, req domain.LearnRequest) (*domain.PriceRecord, bool, error) {
	req.SupplierName = strings.TrimSpace(req.SupplierName)
	req.SKU = strings.TrimSpace(req.SKU)
	req.ProductName = strings.TrimSpace(req.ProductName)

	key := domain.Key{SupplierName: req.SupplierName, SKU: req.SKU, ProductName: req.ProductName}
	if req.SupplierName == "" {
		return nil, false, domain.ErrInvalidSupplier
	}
	if key.Incomplete() {
		return nil, false, domain.ErrIncompleteKey
	}
	if !req.UnitPrice.IsPositive() {
		return nil, false, domain.ErrInvalidPrice
	}

	existing, err := s.repo.NeedReviewByKey(ctx, s.db, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	any, err := s.repo.AnyByKey(ctx, s.db, key)
	if err != nil {
		return nil, false, err
	}
	if any {
		return nil, false, nil
	}

	record := &domain.PriceRecord{
		ID:           s.node.Generate(),
		SupplierName: req.SupplierName,
		SKU:          optional(req.SKU),
		ProductName:  optional(req.ProductName),
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		UnitPrice:    req.UnitPrice,
		Status:       domain.StatusNeedReview,
		ValidFrom:    req.ValidFrom,
		Source:       domain.SourceLearnedFromInvoice,
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		return nil, false, err
	}

	s.metrics.RecordPriceRecordLearnt(ctx)
	_ = s.audit.Record(ctx, "price_record", record.ID.String(), "learn", map[string]interface{}{
		"supplier_name": record.SupplierName,
		"unit_price":    record.UnitPrice.String(),
	})
	s.log.Info("learned need_review price record",
		zap.Int64("record_id", record.ID.Int64()),
		zap.String("supplier_name", record.SupplierName),
	)
	return record, true, nil
}

func (s *service) effectiveFrom(record *domain.PriceRecord, validFrom *time.Time) time.Time {
	if validFrom != nil {
		return validFrom.UTC().Truncate(24 * time.Hour)
	}
	if record.ValidFrom != nil {
		return record.ValidFrom.UTC().Truncate(24 * time.Hour)
	}
	return clock.Today(s.clock)
}

func (s *service) publish(ctx context.Context, key domain.Key, oldIDs []snowflake.ID, newID snowflake.ID) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, events.PriceChanged{
		SupplierName: key.SupplierName,
		SKU:          key.SKU,
		ProductName:  key.ProductName,
		OldRecordIDs: oldIDs,
		NewRecordID:  newID,
		OccurredAt:   s.clock.Now(),
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
