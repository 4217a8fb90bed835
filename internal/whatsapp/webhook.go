package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spec-kit/matchbot/internal/domain"
)

const typeIncomingMessage = "incomingMessageReceived"

// Notification is the subset of a Green API webhook body the bot reads.
type Notification struct {
	TypeWebhook string `json:"typeWebhook"`
	IDMessage   string `json:"idMessage"`
	SenderData  struct {
		ChatID     string `json:"chatId"`
		Sender     string `json:"sender"`
		SenderName string `json:"senderName"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
		ExtendedTextMessageData struct {
			Text string `json:"text"`
		} `json:"extendedTextMessageData"`
		FileMessageData struct {
			DownloadURL string `json:"downloadUrl"`
			Caption     string `json:"caption"`
			MimeType    string `json:"mimeType"`
		} `json:"fileMessageData"`
	} `json:"messageData"`
}

// ParseNotification decodes a webhook body. ok is false for notifications the bot
// ignores: status callbacks, group chats and unsupported message types.
func ParseNotification(body []byte) (msg domain.InboundMessage, ok bool, err error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return domain.InboundMessage{}, false, fmt.Errorf("decode notification: %w", err)
	}
	if n.TypeWebhook != typeIncomingMessage {
		return domain.InboundMessage{}, false, nil
	}

	chat := n.SenderData.ChatID
	if chat == "" {
		chat = n.SenderData.Sender
	}
	if !strings.HasSuffix(chat, "@c.us") {
		return domain.InboundMessage{}, false, nil
	}

	msg = domain.InboundMessage{
		MessageID:  n.IDMessage,
		UserPhone:  strings.TrimSuffix(chat, "@c.us"),
		SenderName: n.SenderData.SenderName,
	}
	data := n.MessageData
	switch data.TypeMessage {
	case "textMessage":
		msg.Text = data.TextMessageData.TextMessage
	case "extendedTextMessage", "quotedMessage":
		msg.Text = data.ExtendedTextMessageData.Text
	case "imageMessage":
		msg.MediaRef = data.FileMessageData.DownloadURL
		msg.Text = data.FileMessageData.Caption
	default:
		return domain.InboundMessage{}, false, nil
	}
	return msg, true, nil
}
