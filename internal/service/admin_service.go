package service

import (
	"context"
	"errors"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/observability"
	"github.com/spec-kit/matchbot/internal/repository"
	apperrors "github.com/spec-kit/matchbot/pkg/util/errorutil"
)

// ErrReconcileInProgress is returned when a pass is requested while one is running.
var ErrReconcileInProgress = errors.New("reconciliation already running")

// ReconcileSummary counts the outcomes of one reconciliation pass.
type ReconcileSummary struct {
	Checked int `json:"checked"`
	Paid    int `json:"paid"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Errors  int `json:"errors"`
}

// BatchReconciler runs one pass over all PENDING sessions.
type BatchReconciler interface {
	RunOnce(ctx context.Context) (ReconcileSummary, error)
}

// Stats is the operator view of the bot.
type Stats struct {
	UsersByState     map[string]int64            `json:"users_by_state"`
	PaymentsByStatus map[string]int64            `json:"payments_by_status"`
	Counters         map[string]map[string]int64 `json:"counters"`
}

// AdminService backs the operator endpoints.
type AdminService struct {
	users        repository.UserRepository
	payments     repository.PaymentRepository
	applications repository.ApplicationRepository
	reconciler BatchReconciler
	metrics    *observability.Metrics
}

// AdminDependencies bundles collaborators for the admin service.
type AdminDependencies struct {
	UserRepo        repository.UserRepository
	PaymentRepo     repository.PaymentRepository
	ApplicationRepo repository.ApplicationRepository
	Reconciler  BatchReconciler
	Metrics     *observability.Metrics
}

// NewAdminService constructs the service.
func NewAdminService(deps AdminDependencies) *AdminService {
	return &AdminService{
		users:        deps.UserRepo,
		payments:     deps.PaymentRepo,
		applications: deps.ApplicationRepo,
		reconciler:   deps.Reconciler,
		metrics:      deps.Metrics,
	}
}

// PendingPayments lists open sessions, oldest first.
func (s *AdminService) PendingPayments(ctx context.Context, limit int) ([]domain.PaymentSession, error) {
	return s.payments.ListPending(ctx, limit)
}

// Applications lists submitted loan applications, newest first.
func (s *AdminService) Applications(ctx context.Context, limit int) ([]domain.LoanApplication, error) {
	if s.applications == nil {
		return nil, nil
	}
	return s.applications.List(ctx, limit)
}

// Stats aggregates state and status counts with the in-process counters.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	users, err := s.users.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		UsersByState:     users,
		PaymentsByStatus: payments,
		Counters:         s.metrics.Snapshot(),
	}, nil
}

// ReconcileNow runs a reconciliation pass immediately. It does not wait for a
// pass that is already running.
func (s *AdminService) ReconcileNow(ctx context.Context) (ReconcileSummary, error) {
	if s.reconciler == nil {
		return ReconcileSummary{}, nil
	}
	summary, err := s.reconciler.RunOnce(ctx)
	if errors.Is(err, ErrReconcileInProgress) {
		return summary, apperrors.NewConflict("reconciliation already running", nil)
	}
	return summary, err
}
