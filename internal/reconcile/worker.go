package reconcile

import (
	"context"

	"github.com/nordbooks/varekost/internal/config"
	"github.com/nordbooks/varekost/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Worker consumes PriceChanged events and feeds them to the reconciler.
type Worker struct {
	log        *zap.Logger
	bus        *events.Bus
	reconciler *Reconciler
	enabled    bool
	done       chan struct{}
}

type WorkerParams struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Bus        *events.Bus
	Reconciler *Reconciler
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		log:        p.Log.Named("reconcile.worker"),
		bus:        p.Bus,
		reconciler: p.Reconciler,
		enabled:    p.Cfg.AutoCascade,
		done:       make(chan struct{}),
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for evt := range w.bus.Events() {
		if !w.enabled {
			continue
		}
		updated, err := w.reconciler.OnPriceChanged(context.Background(), evt)
		if err != nil {
			w.log.Error("cascade finished with errors",
				zap.String("supplier_name", evt.SupplierName),
				zap.Int("lines_updated", updated),
				zap.Error(err),
			)
		}
	}
}

func registerWorker(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go w.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			w.bus.Close()
			select {
			case <-w.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
}

var Module = fx.Module("reconcile",
	fx.Provide(New, NewWorker),
	fx.Invoke(registerWorker),
)
