package dto

import (
	"time"

	"github.com/spec-kit/matchbot/internal/domain"
)

// PaymentSessionResponse is the operator view of a payment session.
type PaymentSessionResponse struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	Reference   string               `json:"reference"`
	AmountCents int64                `json:"amount_cents"`
	Currency    string               `json:"currency"`
	Method      domain.PaymentMethod `json:"method"`
	Status      domain.PaymentStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	AgeSeconds  int64                `json:"age_seconds"`
}

// PaymentSession converts a session, measuring its age at now.
func PaymentSession(s domain.PaymentSession, now time.Time) PaymentSessionResponse {
	return PaymentSessionResponse{
		ID:          s.ID,
		UserID:      s.UserID,
		Reference:   s.Reference,
		AmountCents: s.AmountCents,
		Currency:    s.Currency,
		Method:      s.Method,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		AgeSeconds:  int64(now.Sub(s.CreatedAt) / time.Second),
	}
}
