package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/matchbot/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventProfileCompleted  EventType = "profile_completed"
	EventPaymentInitiated  EventType = "payment_initiated"
	EventPaymentSettled    EventType = "payment_settled"
	EventPaymentFailed     EventType = "payment_failed"
	EventConversationReset EventType = "conversation_reset"

	EventApplicationSubmitted EventType = "application_submitted"
)

// AllTypes lists every event type, for subscribers that observe everything.
func AllTypes() []EventType {
	return []EventType{
		EventProfileCompleted,
		EventPaymentInitiated,
		EventPaymentSettled,
		EventPaymentFailed,
		EventConversationReset,
		EventApplicationSubmitted,
	}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with an id and the current time.
func New(t EventType, userID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// PaymentPayload describes the session behind a payment event.
type PaymentPayload struct {
	Reference   string               `json:"reference"`
	AmountCents int64                `json:"amount_cents"`
	Currency    string               `json:"currency"`
	Method      domain.PaymentMethod `json:"method"`
}

// FailureReason explains why a session ended FAILED.
type FailureReason string

const (
	FailureTimeout  FailureReason = "timeout"
	FailureProvider FailureReason = "provider"
)

// PaymentFailedPayload payload.
type PaymentFailedPayload struct {
	PaymentPayload
	Reason FailureReason `json:"reason"`
}

// ProfileCompletedPayload payload.
type ProfileCompletedPayload struct {
	Intent  domain.Intent `json:"intent"`
	Matches int           `json:"matches"`
}

// ApplicationSubmittedPayload payload.
type ApplicationSubmittedPayload struct {
	Product     string `json:"product"`
	AmountUnits int    `json:"amount_units"`
}

// PaymentPayloadFor builds the payload for a session.
func PaymentPayloadFor(s *domain.PaymentSession) PaymentPayload {
	return PaymentPayload{
		Reference:   s.Reference,
		AmountCents: s.AmountCents,
		Currency:    s.Currency,
		Method:      s.Method,
	}
}
