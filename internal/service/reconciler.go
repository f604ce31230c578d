package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"golang.org/x/sync/errgroup"
)

// ReconcileStats summarises one sweep.
type ReconcileStats struct {
	Scanned int
	Changed int
	Failed  int
}

// Reconciler periodically re-reads every open order from its venue.
// A sweep is idempotent: running it twice against an unchanged venue
// changes nothing the second time.
type Reconciler struct {
	store       repository.OrderStore
	orders      *OrderManager
	clock       clock.Clock
	interval    time.Duration
	minAge      time.Duration
	batchSize   int
	concurrency int
	log         *slog.Logger
}

func NewReconciler(store repository.OrderStore, orders *OrderManager, clk clock.Clock, cfg config.ReconcileConfig) *Reconciler {
	if clk == nil {
		clk = clock.System
	}
	r := &Reconciler{
		store:       store,
		orders:      orders,
		clock:       clk,
		interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		minAge:      time.Duration(cfg.MinAgeSeconds) * time.Second,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		log:         logger.Component("reconciler"),
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Second
	}
	if r.batchSize <= 0 || r.batchSize > 500 {
		r.batchSize = 100
	}
	if r.concurrency <= 0 {
		r.concurrency = 4
	}
	return r
}

// Start sweeps every interval until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.log.Info("reconciler started", "interval", r.interval, "batch_size", r.batchSize, "concurrency", r.concurrency)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			stats, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Error("reconcile sweep aborted", "error", err)
				continue
			}
			if stats.Scanned > 0 {
				r.log.Info("reconcile sweep done", "scanned", stats.Scanned, "changed", stats.Changed, "failed", stats.Failed)
			}
		}
	}
}

// RunOnce walks all open orders older than the minimum age in id order.
// Per-order failures are counted, not returned; only a store failure aborts.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var (
		stats ReconcileStats
		mu    sync.Mutex
	)
	cutoff := r.clock.Now().Add(-r.minAge)
	var afterID uint64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := r.store.ListOpenOrders(ctx, cutoff, afterID, r.batchSize)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			return stats, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for i := range batch {
			order := batch[i]
			g.Go(func() error {
				updated, err := r.orders.Reconcile(gctx, &order)
				mu.Lock()
				defer mu.Unlock()
				stats.Scanned++
				switch {
				case err != nil:
					stats.Failed++
					r.log.Warn("reconcile order failed", "order_id", order.ID, "error", err)
				case changed(&order, updated):
					stats.Changed++
				}
				return nil
			})
		}
		_ = g.Wait()

		afterID = batch[len(batch)-1].ID
		if len(batch) < r.batchSize {
			return stats, nil
		}
	}
}

func changed(before, after *model.Order) bool {
	return after != nil && (before.Status != after.Status || !before.Filled.Equal(after.Filled))
}
