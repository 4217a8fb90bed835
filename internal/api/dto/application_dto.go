package dto

import (
	"time"

	"github.com/spec-kit/matchbot/internal/domain"
)

// ApplicationResponse is the operator view of a loan application.
type ApplicationResponse struct {
	ID          string                   `json:"id"`
	UserID      string                   `json:"user_id"`
	Phone       string                   `json:"phone"`
	Product     string                   `json:"product"`
	FullName    string                   `json:"full_name"`
	Age         int                      `json:"age"`
	Address     string                   `json:"address"`
	NationalID  string                   `json:"national_id"`
	IDPhoto     string                   `json:"id_photo"`
	AmountUnits int                      `json:"amount_units"`
	Status      domain.ApplicationStatus `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
}

// Application converts an application.
func Application(a domain.LoanApplication) ApplicationResponse {
	return ApplicationResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		Phone:       a.Phone,
		Product:     a.Product,
		FullName:    a.FullName,
		Age:         a.Age,
		Address:     a.Address,
		NationalID:  a.NationalID,
		IDPhoto:     a.IDPhoto,
		AmountUnits: a.AmountUnits,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
	}
}
