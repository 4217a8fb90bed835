package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/conversation"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/events"
	"github.com/spec-kit/matchbot/internal/lock"
	"github.com/spec-kit/matchbot/internal/media"
	"github.com/spec-kit/matchbot/internal/observability"
	"github.com/spec-kit/matchbot/internal/paynow"
	"github.com/spec-kit/matchbot/internal/repository"
	"github.com/spec-kit/matchbot/internal/whatsapp"
	apperrors "github.com/spec-kit/matchbot/pkg/util/errorutil"
)

// maxTurnAttempts bounds recomputation after a concurrent state change.
const maxTurnAttempts = 2

// PaymentStarter starts a payment for a user; satisfied by *PaymentService.
type PaymentStarter interface {
	Initiate(ctx context.Context, user *domain.User, req conversation.PaymentRequest) (*domain.PaymentSession, *paynow.Initiation, error)
}

// PaymentChecker reconciles a user's pending payment; satisfied by *SettlementService.
type PaymentChecker interface {
	CheckUser(ctx context.Context, userID string) (conversation.CheckOutcome, error)
}

// ConversationService runs one inbound message through the state machine and
// persists the outcome. Turns for the same user are serialized by a lock.
type ConversationService struct {
	machine    *conversation.Machine
	users      repository.UserRepository
	profiles   repository.ProfileRepository
	turns      repository.TurnRepository
	matches    Matcher
	payments   PaymentStarter
	settlement PaymentChecker
	sender     whatsapp.Sender
	archive    media.Archive
	locker     lock.Locker
	deduper    lock.Deduper
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	lockTTL    time.Duration
	dedupeTTL  time.Duration
}

// ConversationDependencies bundles collaborators for the conversation service.
type ConversationDependencies struct {
	Machine     *conversation.Machine
	UserRepo    repository.UserRepository
	ProfileRepo repository.ProfileRepository
	TurnRepo    repository.TurnRepository
	Matches     Matcher
	Payments    PaymentStarter
	Settlement  PaymentChecker
	Sender      whatsapp.Sender
	Archive     media.Archive
	Locker      lock.Locker
	Deduper     lock.Deduper
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	LockTTL     time.Duration
	DedupeTTL   time.Duration
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	s := &ConversationService{
		machine:    deps.Machine,
		users:      deps.UserRepo,
		profiles:   deps.ProfileRepo,
		turns:      deps.TurnRepo,
		matches:    deps.Matches,
		payments:   deps.Payments,
		settlement: deps.Settlement,
		sender:     deps.Sender,
		archive:    deps.Archive,
		locker:     deps.Locker,
		deduper:    deps.Deduper,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger.Named("conversation"),
		lockTTL:    deps.LockTTL,
		dedupeTTL:  deps.DedupeTTL,
	}
	if s.archive == nil {
		s.archive = media.Passthrough{}
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.deduper == nil {
		s.deduper = lock.NewLocalDeduper()
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.dedupeTTL <= 0 {
		s.dedupeTTL = time.Hour
	}
	return s
}

// NormalizeSender strips formatting from a gateway phone number.
func NormalizeSender(phone string) (string, bool) {
	phone = strings.TrimSuffix(strings.TrimSpace(phone), "@c.us")
	phone = strings.TrimPrefix(phone, "+")
	if len(phone) < 8 || len(phone) > 15 {
		return "", false
	}
	for _, r := range phone {
		if !unicode.IsDigit(r) {
			return "", false
		}
	}
	return phone, true
}

// HandleMessage processes one inbound message. Storage failures abort the turn
// without a reply and without marking the message processed, so a redelivery
// is handled from scratch.
func (s *ConversationService) HandleMessage(ctx context.Context, msg domain.InboundMessage) error {
	phone, ok := NormalizeSender(msg.UserPhone)
	if !ok {
		return apperrors.NewValidationError("invalid sender phone", map[string]any{"phone": msg.UserPhone})
	}
	if strings.TrimSpace(msg.Text) == "" && msg.MediaRef == "" {
		return nil
	}

	release, err := s.locker.Acquire(ctx, "turn:"+phone, s.lockTTL)
	if err != nil {
		return apperrors.NewServiceUnavailable("conversation busy", err)
	}
	defer release()

	if msg.MessageID != "" {
		seen, err := s.deduper.Seen(ctx, msg.MessageID)
		if err != nil {
			s.logger.Warn("dedupe lookup failed", zap.Error(err))
		} else if seen {
			s.logger.Debug("duplicate message dropped", zap.String("message_id", msg.MessageID))
			s.metrics.Inc("turn.duplicate")
			return nil
		}
	}

	user, err := s.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	replies, err := s.runTurn(ctx, user, msg)
	if err != nil {
		s.metrics.Inc("turn.failed")
		return err
	}

	for _, r := range replies {
		s.deliver(ctx, phone, r)
	}
	if msg.MessageID != "" {
		if err := s.deduper.Mark(ctx, msg.MessageID, s.dedupeTTL); err != nil {
			s.logger.Warn("dedupe mark failed", zap.Error(err))
		}
	}
	return nil
}

func (s *ConversationService) runTurn(ctx context.Context, user *domain.User, msg domain.InboundMessage) ([]domain.OutboundMessage, error) {
	for attempt := 1; ; attempt++ {
		profile, err := s.profiles.Get(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}

		turn := conversation.Turn{User: *user, Profile: *profile, Text: msg.Text, MediaRef: msg.MediaRef}
		d := s.machine.Step(turn)
		d, err = s.execute(ctx, turn, d)
		if err != nil {
			return nil, err
		}
		s.metrics.Inc("turn.state." + string(turn.User.State.Normalize()))
		if d.Settled {
			return d.Replies, nil
		}

		s.archiveMedia(ctx, user.ID, d.Updates)
		err = s.turns.ApplyTurn(ctx, repository.TurnWrite{
			UserID:        user.ID,
			ExpectedState: user.State,
			Next:          d.Next,
			Flow:          d.Flow,
			Reset:         d.Reset,
			Updates:       d.Updates,
			Complete:      d.Complete,
			Submit:        d.Submit,
		})
		if errors.Is(err, domain.ErrStateConflict) && attempt < maxTurnAttempts {
			s.logger.Info("state changed during turn; recomputing", zap.String("user_id", user.ID))
			if user, err = s.users.GetByID(ctx, user.ID); err != nil {
				return nil, fmt.Errorf("reload user: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("apply turn: %w", err)
		}

		s.logger.Debug("turn applied",
			zap.String("user_id", user.ID),
			zap.String("from", string(user.State)),
			zap.String("to", string(d.Next)),
			zap.String("action", d.Action.String()))
		s.publishTurnEvents(ctx, user, turn, d)
		return d.Replies, nil
	}
}

// execute runs the decision's action and resolves it. Only storage errors are returned.
func (s *ConversationService) execute(ctx context.Context, turn conversation.Turn, d conversation.Decision) (conversation.Decision, error) {
	var result conversation.ActionResult
	switch d.Action {
	case conversation.ActionNone:
		return d, nil
	case conversation.ActionFindMatches:
		user, profile := turn.User, turn.Profile
		for _, u := range d.Updates {
			u.Apply(&user, &profile)
		}
		res, err := s.matches.FindFor(ctx, &user, &profile)
		if err != nil {
			return d, fmt.Errorf("find matches: %w", err)
		}
		result.Matches = res
	case conversation.ActionStartPayment:
		_, init, err := s.payments.Initiate(ctx, &turn.User, d.Payment)
		var initErr *InitiationError
		switch {
		case err == nil:
			result.Payment = conversation.PaymentOutcome{Instructions: init.Instructions, RedirectURL: init.BrowserURL}
		case errors.As(err, &initErr), errors.Is(err, domain.ErrPendingPaymentExists):
			result.Payment = conversation.PaymentOutcome{Err: err}
		default:
			return d, fmt.Errorf("start payment: %w", err)
		}
	case conversation.ActionCheckPayment:
		out, err := s.settlement.CheckUser(ctx, turn.User.ID)
		if err != nil {
			return d, fmt.Errorf("check payment: %w", err)
		}
		result.Check = out
	case conversation.ActionRevealMatches:
		res, err := s.matches.Revealed(ctx, &turn.Profile)
		if err != nil {
			return d, fmt.Errorf("reveal matches: %w", err)
		}
		result.Matches = res
	}
	return s.machine.Resolve(turn, d, result), nil
}

// archiveMedia swaps gateway download links, which expire, for archived references.
func (s *ConversationService) archiveMedia(ctx context.Context, userID string, updates []domain.FieldUpdate) {
	for i, u := range updates {
		if !u.Field.Media() || u.Text == "" {
			continue
		}
		ref, err := s.archive.Store(ctx, userID, u.Text)
		if err != nil {
			s.logger.Warn("archive media failed; keeping gateway link",
				zap.String("user_id", userID), zap.String("field", string(u.Field)), zap.Error(err))
			continue
		}
		updates[i].Text = ref
	}
}

func (s *ConversationService) publishTurnEvents(ctx context.Context, user *domain.User, turn conversation.Turn, d conversation.Decision) {
	if s.dispatcher == nil {
		return
	}
	var evs []events.Event
	if d.Complete {
		profile := turn.Profile
		for _, u := range d.Updates {
			u.Apply(nil, &profile)
		}
		evs = append(evs, events.New(events.EventProfileCompleted, user.ID, events.ProfileCompletedPayload{Intent: profile.Intent}))
	}
	switch {
	case d.Submit:
		evs = append(evs, events.New(events.EventApplicationSubmitted, user.ID, events.ApplicationSubmittedPayload{
			Product:     turn.Profile.LoanProduct,
			AmountUnits: turn.Profile.LoanAmount,
		}))
	case d.Reset && turn.User.State.Normalize() != domain.StateNew:
		evs = append(evs, events.New(events.EventConversationReset, user.ID, nil))
	}
	for _, e := range evs {
		if err := s.dispatcher.Publish(ctx, e); err != nil {
			s.logger.Warn("event handler failed", zap.String("event", string(e.Type)), zap.Error(err))
		}
	}
}

// deliver sends one reply. Media references are archive refs and are resolved
// to a fetchable URL first; an unresolvable picture degrades to text.
func (s *ConversationService) deliver(ctx context.Context, phone string, msg domain.OutboundMessage) {
	var (
		url string
		err error
	)
	if msg.MediaRef != "" {
		if url, err = s.archive.URL(ctx, msg.MediaRef); err != nil {
			s.logger.Warn("resolve media failed", zap.String("ref", msg.MediaRef), zap.Error(err))
			url = ""
		}
	}
	if url != "" {
		err = s.sender.SendMedia(ctx, phone, url, msg.Text)
	} else {
		err = s.sender.SendText(ctx, phone, msg.Text)
	}
	if err != nil {
		s.logger.Warn("send failed", zap.String("phone", phone), zap.Error(err))
	}
}
