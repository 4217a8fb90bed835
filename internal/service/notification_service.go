package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/conversation"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/events"
	"github.com/spec-kit/matchbot/internal/media"
	"github.com/spec-kit/matchbot/internal/observability"
	"github.com/spec-kit/matchbot/internal/repository"
	"github.com/spec-kit/matchbot/internal/whatsapp"
)

// Matcher finds matches for a user and reloads the ones already previewed;
// satisfied by *MatchService.
type Matcher interface {
	FindFor(ctx context.Context, user *domain.User, profile *domain.Profile) (domain.MatchResult, error)
	Revealed(ctx context.Context, profile *domain.Profile) (domain.MatchResult, error)
}

// NotificationService reacts to settlement events by messaging the user.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	users      repository.UserRepository
	profiles   repository.ProfileRepository
	matches    Matcher
	sender     whatsapp.Sender
	archive    media.Archive
	metrics    *observability.Metrics
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	UserRepo    repository.UserRepository
	ProfileRepo repository.ProfileRepository
	Matches     Matcher
	Sender      whatsapp.Sender
	Archive     media.Archive
	Metrics     *observability.Metrics
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	archive := deps.Archive
	if archive == nil {
		archive = media.Passthrough{}
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.Named("notifications"),
		users:      deps.UserRepo,
		profiles:   deps.ProfileRepo,
		matches:    deps.Matches,
		sender:     deps.Sender,
		archive:    archive,
		metrics:    deps.Metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, t := range events.AllTypes() {
		n.dispatcher.Subscribe(t, n.count)
	}
	n.dispatcher.Subscribe(events.EventPaymentSettled, n.handlePaymentSettled)
	n.dispatcher.Subscribe(events.EventPaymentFailed, n.handlePaymentFailed)
}

func (n *NotificationService) count(ctx context.Context, event events.Event) error {
	n.metrics.Inc("event." + string(event.Type))
	return nil
}

// handlePaymentSettled delivers full contact details of the matches the user
// was shown before paying.
func (n *NotificationService) handlePaymentSettled(ctx context.Context, event events.Event) error {
	user, err := n.users.GetByID(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", event.UserID, err)
	}
	profile, err := n.profiles.Get(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", user.ID, err)
	}

	if !profile.Complete() {
		n.sendText(ctx, user.Phone, "✅ Payment received! Your profile was reset before we could deliver your matches. Send any message to complete it again.")
		return nil
	}

	res, err := n.matches.Revealed(ctx, profile)
	if err != nil {
		n.sendText(ctx, user.Phone, "✅ Payment received! We could not load your matches right now. Reply STATUS to try again.")
		return fmt.Errorf("load revealed matches for %s: %w", user.ID, err)
	}
	if res.Empty() {
		n.sendText(ctx, user.Phone, "✅ Payment received! Your earlier matches are no longer available. Reply NEW to search again.")
		return nil
	}

	n.sendText(ctx, user.Phone, "✅ Payment confirmed! Here are your matches:")
	for i, c := range res.Candidates {
		body := conversation.Reveal(i, c)
		if c.Picture == "" {
			n.sendText(ctx, user.Phone, body)
			continue
		}
		url, err := n.archive.URL(ctx, c.Picture)
		if err != nil {
			n.logger.Warn("resolve picture", zap.String("user_id", c.UserID), zap.Error(err))
			n.sendText(ctx, user.Phone, body)
			continue
		}
		if err := n.sender.SendMedia(ctx, user.Phone, url, body); err != nil {
			n.logger.Warn("send media failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	n.sendText(ctx, user.Phone, "Reply STATUS to see them again or NEW to start a new search. Good luck ❤️")
	n.metrics.Inc("matches.delivered")
	return nil
}

func (n *NotificationService) handlePaymentFailed(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.PaymentFailedPayload)
	user, err := n.users.GetByID(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", event.UserID, err)
	}
	msg := "❌ Your payment was cancelled or declined. Send any message to start again."
	if payload.Reason == events.FailureTimeout {
		msg = "⌛ Your payment window has expired and the request was cancelled. Send any message to start again."
	}
	n.sendText(ctx, user.Phone, msg)
	return nil
}

// sendText is fire-and-forget; delivery failures are logged, not retried.
func (n *NotificationService) sendText(ctx context.Context, phone, text string) {
	if err := n.sender.SendText(ctx, phone, text); err != nil {
		n.logger.Warn("send failed", zap.String("phone", phone), zap.Error(err))
	}
}
