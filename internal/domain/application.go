package domain

import "time"

// ApplicationStatus tracks an intake submission through review.
type ApplicationStatus string

const ApplicationStatusSubmitted ApplicationStatus = "SUBMITTED"

// LoanApplication is a finance-intake submission, copied from the profile draft
// at confirmation.
type LoanApplication struct {
	ID          string
	UserID      string
	Phone       string
	Product     string
	FullName    string
	Age         int
	Address     string
	NationalID  string
	IDPhoto     string
	AmountUnits int
	Status      ApplicationStatus
	CreatedAt   time.Time
}
