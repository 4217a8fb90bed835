package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/observability"
	"github.com/spec-kit/matchbot/internal/repository"
	"github.com/spec-kit/matchbot/internal/service"
)

// Settler reconciles one session; satisfied by *service.SettlementService.
type Settler interface {
	Reconcile(ctx context.Context, session domain.PaymentSession) (domain.PollResult, error)
}

// Reconciler periodically converges PENDING payment sessions.
type Reconciler struct {
	payments    repository.PaymentRepository
	settler     Settler
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	concurrency int
	batch       int

	// running guards against overlapping passes from the ticker and the admin trigger.
	running sync.Mutex
}

// ReconcilerDependencies configures a Reconciler.
type ReconcilerDependencies struct {
	PaymentRepo repository.PaymentRepository
	Settler     Settler
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Interval    time.Duration
	Concurrency int
	// BatchSize caps sessions per pass; zero uses the repository default.
	BatchSize int
}

// NewReconciler builds a reconciler.
func NewReconciler(deps ReconcilerDependencies) *Reconciler {
	r := &Reconciler{
		payments:    deps.PaymentRepo,
		settler:     deps.Settler,
		logger:      deps.Logger.Named("reconciler"),
		metrics:     deps.Metrics,
		interval:    deps.Interval,
		concurrency: deps.Concurrency,
		batch:       deps.BatchSize,
	}
	if r.interval <= 0 {
		r.interval = 15 * time.Second
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	return r
}

// Run ticks until ctx is cancelled. A failed pass is logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", zap.Duration("interval", r.interval), zap.Int("concurrency", r.concurrency))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			_, err := r.RunOnce(ctx)
			switch {
			case errors.Is(err, service.ErrReconcileInProgress):
				r.logger.Debug("previous reconcile pass still running; skipping tick")
			case err != nil && ctx.Err() == nil:
				r.logger.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce reconciles every PENDING session once. It returns
// service.ErrReconcileInProgress without waiting when another pass holds the lock.
func (r *Reconciler) RunOnce(ctx context.Context) (service.ReconcileSummary, error) {
	var summary service.ReconcileSummary
	if !r.running.TryLock() {
		return summary, service.ErrReconcileInProgress
	}
	defer r.running.Unlock()

	sessions, err := r.payments.ListPending(ctx, r.batch)
	if err != nil {
		return summary, err
	}
	if len(sessions) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, s := range sessions {
		session := s
		g.Go(func() error {
			result, err := r.settler.Reconcile(gctx, session)
			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			if err != nil {
				summary.Errors++
				r.logger.Warn("reconcile session", zap.String("reference", session.Reference), zap.Error(err))
				return nil
			}
			switch result {
			case domain.PollPaid:
				summary.Paid++
			case domain.PollFailed:
				summary.Failed++
			default:
				summary.Pending++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.metrics.Inc("reconcile.passes")
	r.logger.Debug("reconcile pass",
		zap.Int("checked", summary.Checked),
		zap.Int("paid", summary.Paid),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", summary.Errors))
	return summary, nil
}
