package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/auth"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/observability"
	apperrors "github.com/spec-kit/matchbot/pkg/util/errorutil"
)

// StatusParser verifies a provider status update; satisfied by *paynow.Client.
type StatusParser interface {
	ParseStatusUpdate(currency, body string) (reference string, result domain.PollResult, err error)
}

// ReferenceReconciler re-checks one session; satisfied by *service.SettlementService.
type ReferenceReconciler interface {
	ReconcileReference(ctx context.Context, reference string) (domain.PollResult, error)
}

// PaymentsHandler receives provider status updates.
type PaymentsHandler struct {
	tokens     *auth.TokenManager
	parser     StatusParser
	settlement ReferenceReconciler
	logger     *zap.Logger
}

// NewPaymentsHandler constructs handler.
func NewPaymentsHandler(tokens *auth.TokenManager, parser StatusParser, settlement ReferenceReconciler, logger *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{tokens: tokens, parser: parser, settlement: settlement, logger: logger.Named("payments")}
}

// Result handles POST /payments/paynow/result?token=. The token names the
// session; the posted status is only checked for consistency and the provider
// is polled again before anything changes.
func (h *PaymentsHandler) Result(c *fiber.Ctx) error {
	claims, err := h.tokens.ParseToken(c.Query("token"))
	if err != nil {
		return apperrors.NewUnauthorized("invalid result token")
	}
	reference := claims.Reference()
	observability.TagPayment(c, reference)

	if body := string(c.Body()); body != "" && h.parser != nil {
		posted, status, err := h.parser.ParseStatusUpdate(claims.Currency, body)
		switch {
		case err != nil:
			h.logger.Warn("unverifiable status update", zap.String("reference", reference), zap.Error(err))
		case posted != "" && posted != reference:
			return apperrors.NewValidationError("reference mismatch", map[string]any{"reference": posted})
		default:
			h.logger.Debug("status update", zap.String("reference", reference), zap.String("status", string(status)))
		}
	}

	result, err := h.settlement.ReconcileReference(c.UserContext(), reference)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"reference": reference, "status": result}})
}
