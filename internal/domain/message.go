package domain

// InboundMessage is one message received from the messaging channel.
type InboundMessage struct {
	MessageID  string
	UserPhone  string
	Text       string
	MediaRef   string
	SenderName string
}

// OutboundMessage is a text or media item to deliver to a user.
type OutboundMessage struct {
	Text     string
	MediaRef string
}

// Text builds a plain text message.
func Text(body string) OutboundMessage {
	return OutboundMessage{Text: body}
}

// Media builds a media message; Text becomes the caption.
func Media(ref, caption string) OutboundMessage {
	return OutboundMessage{MediaRef: ref, Text: caption}
}
