// Package whatsapp delivers messages through the Green API WhatsApp gateway and
// decodes its incoming webhook notifications.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/config"
)

// Sender delivers outbound messages to a phone number.
type Sender interface {
	SendText(ctx context.Context, phone, text string) error
	SendMedia(ctx context.Context, phone, mediaURL, caption string) error
}

// ChatID converts an international phone number into a Green API chat id.
func ChatID(phone string) string {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if strings.Contains(phone, "@") {
		return phone
	}
	return phone + "@c.us"
}

// GreenAPI sends through https://green-api.com.
type GreenAPI struct {
	baseURL    string
	instanceID string
	token      string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGreenAPI builds a sender. Configured reports false when credentials are missing.
func NewGreenAPI(cfg config.WhatsAppConfig, logger *zap.Logger) *GreenAPI {
	return &GreenAPI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		instanceID: cfg.InstanceID,
		token:      cfg.APIToken,
		timeout:    cfg.SendTimeout(),
		logger:     logger.Named("whatsapp"),
	}
}

// Configured reports whether credentials are present.
func (g *GreenAPI) Configured() bool {
	return g.baseURL != "" && g.instanceID != "" && g.token != ""
}

type sendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type sendFileRequest struct {
	ChatID   string `json:"chatId"`
	URLFile  string `json:"urlFile"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption,omitempty"`
}

// SendText sends a plain text message.
func (g *GreenAPI) SendText(ctx context.Context, phone, text string) error {
	return g.call(ctx, "sendMessage", sendMessageRequest{ChatID: ChatID(phone), Message: text})
}

// SendMedia sends a file by URL with an optional caption.
func (g *GreenAPI) SendMedia(ctx context.Context, phone, mediaURL, caption string) error {
	name := path.Base(strings.SplitN(mediaURL, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		name = "photo.jpg"
	}
	return g.call(ctx, "sendFileByUrl", sendFileRequest{
		ChatID:   ChatID(phone),
		URLFile:  mediaURL,
		FileName: name,
		Caption:  caption,
	})
}

func (g *GreenAPI) call(ctx context.Context, method string, payload any) error {
	if !g.Configured() {
		return errors.New("whatsapp: green api credentials not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/waInstance%s/%s/%s", g.baseURL, g.instanceID, method, g.token)
	agent := fiber.Post(endpoint)
	agent.JSON(payload)
	agent.Timeout(g.timeout)

	status, body, errs := agent.String()
	if len(errs) > 0 {
		return fmt.Errorf("whatsapp %s: %w", method, errors.Join(errs...))
	}
	if status != fiber.StatusOK {
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("whatsapp %s: http %d: %s", method, status, body)
	}
	g.logger.Debug("message sent", zap.String("method", method))
	return nil
}

// LogSender only logs outbound messages. It stands in when no gateway is configured.
type LogSender struct {
	Logger *zap.Logger
}

func (l LogSender) SendText(ctx context.Context, phone, text string) error {
	l.Logger.Info("outbound text", zap.String("phone", phone), zap.String("text", text))
	return nil
}

func (l LogSender) SendMedia(ctx context.Context, phone, mediaURL, caption string) error {
	l.Logger.Info("outbound media", zap.String("phone", phone), zap.String("url", mediaURL), zap.String("caption", caption))
	return nil
}
