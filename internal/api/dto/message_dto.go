package dto

import "github.com/spec-kit/matchbot/internal/domain"

// InboundMessageRequest is the provider-neutral inbound payload.
type InboundMessageRequest struct {
	MessageID string `json:"message_id"`
	UserPhone string `json:"user_phone"`
	Text      string `json:"text"`
	MediaRef  string `json:"media_ref"`
}

// ToDomain converts the payload.
func (r InboundMessageRequest) ToDomain() domain.InboundMessage {
	return domain.InboundMessage{
		MessageID: r.MessageID,
		UserPhone: r.UserPhone,
		Text:      r.Text,
		MediaRef:  r.MediaRef,
	}
}

// AckResponse acknowledges an accepted message or notification.
type AckResponse struct {
	Status string `json:"status"`
}
