package scheduler

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lunarlabs/memberd/internal/models"
	"github.com/lunarlabs/memberd/pkg/config"
	"github.com/lunarlabs/memberd/pkg/metrics"
)

// Biller is the slice of the billing engine the sweep drives.
type Biller interface {
	SendRenewalInvoice(ctx context.Context, sub *models.Subscription, finalNotice bool) error
	ExpireSubscription(ctx context.Context, sub *models.Subscription) error
	FinalizeCancellation(ctx context.Context, sub *models.Subscription) error
}

// Lister supplies the subscription snapshot a sweep walks.
type Lister interface {
	ListAll(ctx context.Context) ([]*models.Subscription, error)
}

// Scheduler runs the periodic billing sweep: one pass over every
// subscription on a fixed cadence, invoicing due renewals and tearing down
// lapsed or cancel-pending rows. Rows are processed by a bounded worker
// pool; a failure on one row is logged and never stops the rest.
type Scheduler struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	store  Lister
	biller Biller

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

func NewScheduler(cfg *config.Config, log *zap.SugaredLogger, store Lister, biller Biller) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		log:    log,
		store:  store,
		biller: biller,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	interval := s.cfg.Scheduler.SweepInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infow("scheduler started", "interval", interval, "max_concurrency", s.cfg.Scheduler.MaxConcurrency)
	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			s.log.Info("scheduler stopped")
			return
		}
	}
}

// Sweep runs one full pass. Safe to call concurrently with user-driven
// operations: every row mutation goes through the store's row locks, and
// the decisions are idempotent against a repeated pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	start := s.now()
	subs, err := s.store.ListAll(ctx)
	if err != nil {
		s.log.Errorw("sweep aborted, failed to list subscriptions", "error", err)
		return
	}

	workers := s.cfg.Scheduler.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, sub := range subs {
		sub := sub
		p.Go(func() {
			s.applyOne(ctx, sub, start)
		})
	}
	p.Wait()

	elapsed := s.now().Sub(start)
	metrics.SweepDuration.Observe(float64(elapsed.Milliseconds()))
	s.log.Infow("sweep finished", "subscriptions", len(subs), "elapsed", elapsed)
}

func (s *Scheduler) applyOne(ctx context.Context, sub *models.Subscription, now time.Time) {
	decision := Decide(sub, now)
	metrics.SweepActions.WithLabelValues(string(decision.Action)).Inc()

	var err error
	switch decision.Action {
	case ActionCancel:
		err = s.biller.FinalizeCancellation(ctx, sub)
	case ActionExpire:
		err = s.biller.ExpireSubscription(ctx, sub)
	case ActionInvoice:
		err = s.biller.SendRenewalInvoice(ctx, sub, decision.FinalNotice)
	case ActionNone:
		return
	}
	if err != nil {
		s.log.Errorw("sweep action failed",
			"action", decision.Action, "short_id", sub.ShortID, "user_id", sub.UserID, "error", err)
	}
}

// Register hooks the sweep loop into the application lifecycle.
func Register(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(s.stop)
			select {
			case <-s.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
}
