// Package events provides the in-process event channel between the price
// ledger and the reconciliation worker.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nordbooks/varekost/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// PriceChanged announces that the authoritative price for a key changed.
type PriceChanged struct {
	SupplierName string
	SKU          string
	ProductName  string
	OldRecordIDs []snowflake.ID
	NewRecordID  snowflake.ID
	OccurredAt   time.Time
}

// Bus is a buffered in-process fan-in for PriceChanged events. Publishing never
// blocks the caller: the cascade is idempotent and can be re-run manually, so a
// dropped event under backpressure is recoverable.
type Bus struct {
	log *zap.Logger

	mu     sync.Mutex
	ch     chan PriceChanged
	closed bool
}

func NewBus(log *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		log: log.Named("events.bus"),
		ch:  make(chan PriceChanged, bufferSize),
	}
}

// Publish enqueues the event without blocking.
func (b *Bus) Publish(_ context.Context, evt PriceChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	select {
	case b.ch <- evt:
	default:
		b.log.Warn("event buffer full, dropping price change event",
			zap.String("supplier_name", evt.SupplierName),
			zap.String("sku", evt.SKU),
			zap.Int64("new_record_id", evt.NewRecordID.Int64()),
		)
	}
}

// Events returns the consumer side of the bus.
func (b *Bus) Events() <-chan PriceChanged {
	return b.ch
}

// Close stops the bus; subsequent publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

var Module = fx.Module("events",
	fx.Provide(provideBus),
)

func provideBus(cfg config.Config, log *zap.Logger) *Bus {
	return NewBus(log, cfg.EventBufferSize)
}
