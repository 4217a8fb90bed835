package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/matchbot/internal/api/dto"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/service"
)

// AdminOperations backs the operator endpoints; satisfied by *service.AdminService.
type AdminOperations interface {
	PendingPayments(ctx context.Context, limit int) ([]domain.PaymentSession, error)
	Applications(ctx context.Context, limit int) ([]domain.LoanApplication, error)
	Stats(ctx context.Context) (*service.Stats, error)
	ReconcileNow(ctx context.Context) (service.ReconcileSummary, error)
}

// AdminHandler exposes operator endpoints.
type AdminHandler struct {
	admin AdminOperations
	now   func() time.Time
}

// NewAdminHandler constructs handler.
func NewAdminHandler(admin AdminOperations) *AdminHandler {
	return &AdminHandler{admin: admin, now: time.Now}
}

// PendingPayments GET /admin/payments/pending.
func (h *AdminHandler) PendingPayments(c *fiber.Ctx) error {
	sessions, err := h.admin.PendingPayments(c.UserContext(), parseLimit(c.Query("limit"), 100))
	if err != nil {
		return err
	}
	now := h.now()
	items := make([]dto.PaymentSessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, dto.PaymentSession(s, now))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Applications GET /admin/applications.
func (h *AdminHandler) Applications(c *fiber.Ctx) error {
	apps, err := h.admin.Applications(c.UserContext(), parseLimit(c.Query("limit"), 100))
	if err != nil {
		return err
	}
	items := make([]dto.ApplicationResponse, 0, len(apps))
	for _, a := range apps {
		items = append(items, dto.Application(a))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Reconcile POST /admin/reconcile. A pass already in flight yields 409.
func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	summary, err := h.admin.ReconcileNow(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Metrics GET /admin/metrics.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	stats, err := h.admin.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}

func parseLimit(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	if parsed > 500 {
		return 500
	}
	return parsed
}
