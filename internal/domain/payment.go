package domain

import "time"

// PaymentStatus enumerates lifecycle states for payment sessions.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// PaymentSession is one purchase attempt keyed by the provider reference.
type PaymentSession struct {
	ID          string
	UserID      string
	Reference   string
	PollHandle  string
	AmountCents int64
	Currency    string
	Method      PaymentMethod
	Status      PaymentStatus
	CreatedAt   time.Time
	PaidAt      *time.Time
	FailedAt    *time.Time
}

// Expired reports whether the session has outlived timeout at now. A zero timeout never expires.
func (s *PaymentSession) Expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) > timeout
}

// PollResult is the tri-state outcome of a single provider status check.
type PollResult string

const (
	PollPaid    PollResult = "PAID"
	PollPending PollResult = "PENDING"
	PollFailed  PollResult = "FAILED"
)
