package domain

import "errors"

var (
	// ErrStateConflict means a guarded state write found a different state than the turn was computed from.
	ErrStateConflict = errors.New("conversation state changed concurrently")
	// ErrPendingPaymentExists means the user already holds a PENDING payment session.
	ErrPendingPaymentExists = errors.New("user already has a pending payment")
	// ErrUnknownField means a field update was not in the allow-list.
	ErrUnknownField = errors.New("profile field not allowed")
	// ErrIncompleteApplication means a loan draft lacked a product or amount at submission.
	ErrIncompleteApplication = errors.New("loan application draft incomplete")
)
