package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/conversation"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/events"
	"github.com/spec-kit/matchbot/internal/repository"
)

// Poller checks a session's status with the provider.
type Poller interface {
	PollOnce(ctx context.Context, session *domain.PaymentSession) (domain.PollResult, error)
}

// SettlementService converges PENDING sessions to PAID or FAILED. Every
// transition is a guarded update, so concurrent callers (reconciler, STATUS,
// provider callback) settle a session at most once.
type SettlementService struct {
	payments   repository.PaymentRepository
	poller     Poller
	dispatcher events.Dispatcher
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time
}

// SettlementDependencies bundles collaborators for the settlement service.
type SettlementDependencies struct {
	PaymentRepo repository.PaymentRepository
	Poller      Poller
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	// PaymentTimeout of zero disables expiry.
	PaymentTimeout time.Duration
}

// NewSettlementService constructs the service.
func NewSettlementService(deps SettlementDependencies) *SettlementService {
	return &SettlementService{
		payments:   deps.PaymentRepo,
		poller:     deps.Poller,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.Named("settlement"),
		timeout:    deps.PaymentTimeout,
		now:        time.Now,
	}
}

// WithClock overrides the time source.
func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

// Unlock marks the session PAID and unlocks its user. It reports whether this call
// performed the transition; only then are matches delivered.
func (s *SettlementService) Unlock(ctx context.Context, reference string) (bool, error) {
	session, ok, err := s.payments.Settle(ctx, reference)
	if err != nil || !ok {
		return false, err
	}
	s.logger.Info("payment settled", zap.String("reference", reference), zap.String("user_id", session.UserID))
	s.publish(ctx, events.New(events.EventPaymentSettled, session.UserID, events.PaymentPayloadFor(session)))
	return true, nil
}

// Fail marks the session FAILED. It reports whether this call performed the transition.
func (s *SettlementService) Fail(ctx context.Context, reference string, reason events.FailureReason) (bool, error) {
	session, ok, err := s.payments.Fail(ctx, reference)
	if err != nil || !ok {
		return false, err
	}
	s.logger.Info("payment failed", zap.String("reference", reference), zap.String("reason", string(reason)))
	s.publish(ctx, events.New(events.EventPaymentFailed, session.UserID, events.PaymentFailedPayload{
		PaymentPayload: events.PaymentPayloadFor(session),
		Reason:         reason,
	}))
	return true, nil
}

// Reconcile applies the timeout policy and one poll to a PENDING session, and
// returns the session's resulting status. Provider errors are logged and leave the
// session PENDING; only storage errors are returned.
func (s *SettlementService) Reconcile(ctx context.Context, session domain.PaymentSession) (domain.PollResult, error) {
	if session.Expired(s.now(), s.timeout) {
		if _, err := s.Fail(ctx, session.Reference, events.FailureTimeout); err != nil {
			return domain.PollPending, err
		}
		return s.currentResult(ctx, session.Reference)
	}

	result, err := s.poller.PollOnce(ctx, &session)
	if err != nil {
		s.logger.Warn("poll failed; will retry", zap.String("reference", session.Reference), zap.Error(err))
		return domain.PollPending, nil
	}
	return s.Apply(ctx, session.Reference, result)
}

// Apply records a provider-reported result for reference, e.g. from the result URL.
func (s *SettlementService) Apply(ctx context.Context, reference string, result domain.PollResult) (domain.PollResult, error) {
	switch result {
	case domain.PollPaid:
		if _, err := s.Unlock(ctx, reference); err != nil {
			return domain.PollPending, err
		}
	case domain.PollFailed:
		if _, err := s.Fail(ctx, reference, events.FailureProvider); err != nil {
			return domain.PollPending, err
		}
	default:
		return domain.PollPending, nil
	}
	return s.currentResult(ctx, reference)
}

// ReconcileReference re-checks one session on an asynchronous status update. The
// pushed status is not trusted; the provider is polled again.
func (s *SettlementService) ReconcileReference(ctx context.Context, reference string) (domain.PollResult, error) {
	session, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		return domain.PollPending, err
	}
	if session.Status.Terminal() {
		return resultFor(session.Status), nil
	}
	return s.Reconcile(ctx, *session)
}

// CheckUser reconciles the user's PENDING session on demand.
func (s *SettlementService) CheckUser(ctx context.Context, userID string) (conversation.CheckOutcome, error) {
	session, err := s.payments.GetPendingByUser(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.CheckOutcome{NoSession: true}, nil
	}
	if err != nil {
		return conversation.CheckOutcome{}, err
	}
	result, err := s.Reconcile(ctx, *session)
	if err != nil {
		return conversation.CheckOutcome{}, err
	}
	return conversation.CheckOutcome{Result: result}, nil
}

func (s *SettlementService) currentResult(ctx context.Context, reference string) (domain.PollResult, error) {
	session, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		return domain.PollPending, err
	}
	return resultFor(session.Status), nil
}

func resultFor(status domain.PaymentStatus) domain.PollResult {
	switch status {
	case domain.PaymentStatusPaid:
		return domain.PollPaid
	case domain.PaymentStatusFailed:
		return domain.PollFailed
	default:
		return domain.PollPending
	}
}

func (s *SettlementService) publish(ctx context.Context, e events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, e); err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}
