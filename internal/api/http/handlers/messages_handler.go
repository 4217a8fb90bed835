package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/api/dto"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/observability"
	"github.com/spec-kit/matchbot/internal/whatsapp"
	apperrors "github.com/spec-kit/matchbot/pkg/util/errorutil"
)

// MessageProcessor runs one inbound message; satisfied by *service.ConversationService.
type MessageProcessor interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) error
}

// MessagesHandler accepts inbound chat messages.
type MessagesHandler struct {
	processor MessageProcessor
	logger    *zap.Logger
}

// NewMessagesHandler constructs handler.
func NewMessagesHandler(processor MessageProcessor, logger *zap.Logger) *MessagesHandler {
	return &MessagesHandler{processor: processor, logger: logger.Named("messages")}
}

// Webhook handles POST /webhooks/whatsapp from the Green API gateway. The turn
// runs before the reply, so a storage failure surfaces as a 5xx and the gateway
// redelivers.
func (h *MessagesHandler) Webhook(c *fiber.Ctx) error {
	msg, ok, err := whatsapp.ParseNotification(c.Body())
	if err != nil {
		return apperrors.NewValidationError("invalid notification", nil)
	}
	if !ok {
		return c.JSON(dto.AckResponse{Status: "ignored"})
	}
	observability.TagMessage(c, msg.UserPhone, msg.MessageID)
	if err := h.processor.HandleMessage(c.UserContext(), msg); err != nil {
		return err
	}
	return c.JSON(dto.AckResponse{Status: "processed"})
}

// Inbound handles POST /api/messages.
func (h *MessagesHandler) Inbound(c *fiber.Ctx) error {
	var req dto.InboundMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	observability.TagMessage(c, req.UserPhone, req.MessageID)
	if strings.TrimSpace(req.UserPhone) == "" {
		return apperrors.NewValidationError("user_phone required", nil)
	}
	if strings.TrimSpace(req.Text) == "" && req.MediaRef == "" {
		return apperrors.NewValidationError("text or media_ref required", nil)
	}
	if err := h.processor.HandleMessage(c.UserContext(), req.ToDomain()); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(dto.AckResponse{Status: "processed"})
}
