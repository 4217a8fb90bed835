package observability

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Fiber locals carrying what a request is about, set by the handlers.
const (
	LocalUserPhone = "user_phone"
	LocalMessageID = "message_id"
	LocalReference = "payment_reference"
)

// TagMessage records the sender and gateway message id on the request.
func TagMessage(c *fiber.Ctx, userPhone, messageID string) {
	if userPhone != "" {
		c.Locals(LocalUserPhone, userPhone)
	}
	if messageID != "" {
		c.Locals(LocalMessageID, messageID)
	}
}

// TagPayment records the payment reference a callback concerns.
func TagPayment(c *fiber.Ctx, reference string) {
	if reference != "" {
		c.Locals(LocalReference, reference)
	}
}

// MaskPhone keeps only the last four digits of a phone number.
func MaskPhone(phone string) string {
	phone = strings.TrimSuffix(strings.TrimSpace(phone), "@c.us")
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// RequestFields returns the message and payment fields tagged on c.
// Phone numbers are masked.
func RequestFields(c *fiber.Ctx) []zap.Field {
	var fields []zap.Field
	if v, ok := c.Locals(LocalUserPhone).(string); ok && v != "" {
		fields = append(fields, zap.String("user_phone", MaskPhone(v)))
	}
	if v, ok := c.Locals(LocalMessageID).(string); ok && v != "" {
		fields = append(fields, zap.String("message_id", v))
	}
	if v, ok := c.Locals(LocalReference).(string); ok && v != "" {
		fields = append(fields, zap.String("reference", v))
	}
	return fields
}

func routeOf(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
		return r.Path
	}
	return c.Path()
}

// RequestLogger logs each request with the message or payment it concerns
// and records it in metrics. Health checks only log at debug.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	logger = logger.Named("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		route := routeOf(c)
		metrics.RecordRequest(route, c.Method(), status, elapsed)

		fields := append([]zap.Field{
			zap.String("method", c.Method()),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}, RequestFields(c)...)

		switch {
		case strings.HasPrefix(route, "/health"):
			logger.Debug("request", fields...)
		case status >= 500:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
		return err
	}
}
