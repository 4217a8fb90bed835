package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/auth"
	"github.com/spec-kit/matchbot/internal/conversation"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/events"
	"github.com/spec-kit/matchbot/internal/paynow"
	"github.com/spec-kit/matchbot/internal/repository"
)

// ResultPath is where Paynow posts status updates.
const ResultPath = "/payments/paynow/result"

// InitiationReason classifies why a payment could not be started.
type InitiationReason string

const (
	ReasonConfig   InitiationReason = "config"
	ReasonProvider InitiationReason = "provider"
	ReasonResponse InitiationReason = "response"
)

// InitiationError means no session was created; the user may retry.
type InitiationError struct {
	Reason InitiationReason
	Err    error
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("payment initiation failed (%s): %v", e.Reason, e.Err)
}

func (e *InitiationError) Unwrap() error {
	return e.Err
}

var errNoCallbackURL = errors.New("public base url or callback signing key not configured")

// PaymentProvider is the external payment gateway.
type PaymentProvider interface {
	Configured(currency string) bool
	Initiate(ctx context.Context, req paynow.Request) (*paynow.Initiation, error)
	Poll(ctx context.Context, currency, pollURL string) (domain.PollResult, error)
}

// PaymentService creates payment sessions and polls their status.
type PaymentService struct {
	payments      repository.PaymentRepository
	provider      PaymentProvider
	tokens        *auth.TokenManager
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	prices        map[string]int64
	publicBaseURL string
	timeout       time.Duration
	newReference  func() string
}

// PaymentDependencies bundles collaborators for the payment service.
type PaymentDependencies struct {
	PaymentRepo   repository.PaymentRepository
	Provider      PaymentProvider
	Tokens        *auth.TokenManager
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
	Prices        map[string]int64
	PublicBaseURL string
	Timeout       time.Duration
}

// NewPaymentService constructs the service.
func NewPaymentService(deps PaymentDependencies) *PaymentService {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaymentService{
		payments:      deps.PaymentRepo,
		provider:      deps.Provider,
		tokens:        deps.Tokens,
		dispatcher:    deps.Dispatcher,
		logger:        deps.Logger.Named("payments"),
		prices:        deps.Prices,
		publicBaseURL: strings.TrimRight(deps.PublicBaseURL, "/"),
		timeout:       timeout,
		newReference:  NewReference,
	}
}

// NewReference returns a short unique merchant reference.
func NewReference() string {
	return "MB-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// Price returns the unlock price for currency in minor units.
func (s *PaymentService) Price(currency string) (int64, bool) {
	amount, ok := s.prices[currency]
	return amount, ok && amount > 0
}

// Initiate asks the provider for a transaction and persists a PENDING session only
// when the provider accepted it. Failures before persistence are *InitiationError;
// domain.ErrPendingPaymentExists means the user already has an open session.
func (s *PaymentService) Initiate(ctx context.Context, user *domain.User, req conversation.PaymentRequest) (*domain.PaymentSession, *paynow.Initiation, error) {
	amount, ok := s.Price(req.Currency)
	if !ok {
		return nil, nil, &InitiationError{Reason: ReasonConfig, Err: fmt.Errorf("no price for %s", req.Currency)}
	}
	if s.provider == nil || !s.provider.Configured(req.Currency) {
		return nil, nil, &InitiationError{Reason: ReasonConfig, Err: paynow.ErrNotConfigured}
	}

	if _, err := s.payments.GetPendingByUser(ctx, user.ID); err == nil {
		return nil, nil, domain.ErrPendingPaymentExists
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	reference := s.newReference()
	resultURL, err := s.resultURL(reference, req.Currency)
	if err != nil {
		return nil, nil, &InitiationError{Reason: ReasonConfig, Err: err}
	}

	preq := paynow.Request{
		Reference:      reference,
		AmountCents:    amount,
		Currency:       req.Currency,
		Method:         req.Method,
		AdditionalInfo: "Match unlock",
		ReturnURL:      s.publicBaseURL,
		ResultURL:      resultURL,
	}
	if req.Method.Mobile() {
		preq.Phone = req.PayerHandle
	} else {
		preq.Email = req.PayerHandle
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	init, err := s.provider.Initiate(callCtx, preq)
	if err != nil {
		s.logger.Warn("initiate failed", zap.String("reference", reference), zap.String("currency", req.Currency), zap.Error(err))
		return nil, nil, &InitiationError{Reason: classifyInitiation(err), Err: err}
	}

	session := &domain.PaymentSession{
		UserID:      user.ID,
		Reference:   reference,
		PollHandle:  init.PollURL,
		AmountCents: amount,
		Currency:    req.Currency,
		Method:      req.Method,
	}
	if err := s.payments.Create(ctx, session); err != nil {
		return nil, nil, err
	}

	s.logger.Info("payment initiated",
		zap.String("reference", reference),
		zap.String("user_id", user.ID),
		zap.String("method", string(req.Method)),
		zap.Int64("amount_cents", amount))
	if s.dispatcher != nil {
		if err := s.dispatcher.Publish(ctx, events.New(events.EventPaymentInitiated, user.ID, events.PaymentPayloadFor(session))); err != nil {
			s.logger.Warn("publish payment_initiated", zap.Error(err))
		}
	}
	return session, init, nil
}

// PollOnce asks the provider for the session's status. It never mutates state.
func (s *PaymentService) PollOnce(ctx context.Context, session *domain.PaymentSession) (domain.PollResult, error) {
	if s.provider == nil {
		return domain.PollPending, paynow.ErrNotConfigured
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.provider.Poll(callCtx, session.Currency, session.PollHandle)
}

func (s *PaymentService) resultURL(reference, currency string) (string, error) {
	if s.publicBaseURL == "" || s.tokens == nil {
		return "", errNoCallbackURL
	}
	token, _, err := s.tokens.GenerateToken(reference, currency)
	if err != nil {
		return "", err
	}
	return s.publicBaseURL + ResultPath + "?token=" + url.QueryEscape(token), nil
}

func classifyInitiation(err error) InitiationReason {
	switch {
	case errors.Is(err, paynow.ErrNotConfigured):
		return ReasonConfig
	case errors.Is(err, paynow.ErrBadHash):
		return ReasonResponse
	default:
		return ReasonProvider
	}
}
