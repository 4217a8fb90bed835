// Package paynow is a client for the Paynow Zimbabwe merchant interface:
// web checkout, mobile-money express checkout and status polling.
package paynow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/matchbot/internal/config"
	"github.com/spec-kit/matchbot/internal/domain"
)

const contentTypeForm = "application/x-www-form-urlencoded"

// ErrNotConfigured means credentials or the endpoint for a currency are missing.
var ErrNotConfigured = errors.New("paynow: integration not configured")

// ProviderError is an explicit rejection or an unusable reply from Paynow.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("paynow: http %d: %s", e.Status, e.Message)
	}
	return "paynow: " + e.Message
}

// Request is one transaction to initiate.
type Request struct {
	Reference      string
	AmountCents    int64
	Currency       string
	Method         domain.PaymentMethod
	Phone          string
	Email          string
	AdditionalInfo string
	ReturnURL      string
	ResultURL      string
}

// Initiation is Paynow's acceptance of a transaction.
type Initiation struct {
	PollURL         string
	BrowserURL      string
	Instructions    string
	PaynowReference string
}

// Client talks to Paynow over HTTP.
type Client struct {
	baseURL      string
	authEmail    string
	timeout      time.Duration
	integrations map[string]config.PaynowIntegration
}

// NewClient builds a client from configuration.
func NewClient(cfg config.PaynowConfig) *Client {
	integrations := make(map[string]config.PaynowIntegration, len(cfg.Integrations))
	for k, v := range cfg.Integrations {
		integrations[strings.ToUpper(k)] = v
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authEmail:    cfg.AuthEmail,
		timeout:      cfg.Timeout(),
		integrations: integrations,
	}
}

// Configured reports whether currency has usable credentials.
func (c *Client) Configured(currency string) bool {
	_, err := c.integration(currency)
	return err == nil
}

func (c *Client) integration(currency string) (config.PaynowIntegration, error) {
	in, ok := c.integrations[strings.ToUpper(currency)]
	if c.baseURL == "" || !ok || in.ID == "" || in.Key == "" {
		return config.PaynowIntegration{}, fmt.Errorf("%w for %s", ErrNotConfigured, currency)
	}
	return in, nil
}

// Initiate creates a transaction. Mobile methods use remote (express) checkout
// and require Phone; web checkout returns a BrowserURL.
func (c *Client) Initiate(ctx context.Context, req Request) (*Initiation, error) {
	in, err := c.integration(req.Currency)
	if err != nil {
		return nil, err
	}

	authEmail := req.Email
	if authEmail == "" {
		authEmail = c.authEmail
	}

	msg := message{
		{"id", in.ID},
		{"reference", req.Reference},
		{"amount", FormatAmount(req.AmountCents)},
		{"additionalinfo", req.AdditionalInfo},
		{"returnurl", req.ReturnURL},
		{"resulturl", req.ResultURL},
		{"authemail", authEmail},
	}
	endpoint := c.baseURL + "/initiatetransaction"
	if req.Method.Mobile() {
		if req.Phone == "" {
			return nil, &ProviderError{Message: "phone required for mobile checkout"}
		}
		endpoint = c.baseURL + "/remotetransaction"
		msg = append(msg, field{"phone", localPhone(req.Phone)}, field{"method", string(req.Method)})
	}
	msg = append(msg, field{"status", "Message"})

	reply, err := c.post(ctx, endpoint, msg.sign(in.Key).encode())
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(reply.get("status"), "ok") {
		reason := reply.get("error")
		if reason == "" {
			reason = "status " + reply.get("status")
		}
		return nil, &ProviderError{Message: reason}
	}
	if err := reply.verify(in.Key); err != nil {
		return nil, err
	}

	out := &Initiation{
		PollURL:         reply.get("pollurl"),
		BrowserURL:      reply.get("browserurl"),
		Instructions:    reply.get("instructions"),
		PaynowReference: reply.get("paynowreference"),
	}
	if out.PollURL == "" {
		return nil, &ProviderError{Message: "response without pollurl"}
	}
	return out, nil
}

// Poll queries a transaction's status through its poll URL.
func (c *Client) Poll(ctx context.Context, currency, pollURL string) (domain.PollResult, error) {
	in, err := c.integration(currency)
	if err != nil {
		return domain.PollPending, err
	}
	reply, err := c.post(ctx, pollURL, "")
	if err != nil {
		return domain.PollPending, err
	}
	if reason := reply.get("error"); reason != "" && reply.get("hash") == "" {
		return domain.PollPending, &ProviderError{Message: reason}
	}
	if err := reply.verify(in.Key); err != nil {
		return domain.PollPending, err
	}
	return ClassifyStatus(reply.get("status")), nil
}

// ParseStatusUpdate verifies and decodes a status message Paynow posts to the result URL.
func (c *Client) ParseStatusUpdate(currency, body string) (reference string, result domain.PollResult, err error) {
	in, err := c.integration(currency)
	if err != nil {
		return "", domain.PollPending, err
	}
	msg, err := parseMessage(body)
	if err != nil {
		return "", domain.PollPending, err
	}
	if err := msg.verify(in.Key); err != nil {
		return "", domain.PollPending, err
	}
	return msg.get("reference"), ClassifyStatus(msg.get("status")), nil
}

func (c *Client) post(ctx context.Context, endpoint, body string) (message, error) {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	agent := fiber.Post(endpoint)
	agent.ContentType(contentTypeForm)
	agent.BodyString(body)
	agent.Timeout(timeout)

	status, raw, errs := agent.String()
	if len(errs) > 0 {
		return nil, fmt.Errorf("paynow: %s: %w", endpoint, errors.Join(errs...))
	}
	if status != fiber.StatusOK {
		return nil, &ProviderError{Status: status, Message: truncate(raw, 200)}
	}
	return parseMessage(raw)
}

// ClassifyStatus maps a Paynow status string to the tri-state poll result.
func ClassifyStatus(status string) domain.PollResult {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "awaiting delivery", "delivered":
		return domain.PollPaid
	case "cancelled", "failed", "disputed", "refunded":
		return domain.PollFailed
	default:
		return domain.PollPending
	}
}

// FormatAmount renders minor units as a decimal string.
func FormatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// localPhone converts an international number to the local form Paynow expects.
func localPhone(phone string) string {
	if strings.HasPrefix(phone, "263") && len(phone) == 12 {
		return "0" + phone[3:]
	}
	return phone
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
