// ABOUTME: Outbound message produced by a processing turn
// ABOUTME: Covers sends, edits, and callback answers plus keyboard descriptions

package chat

import "time"

// MessageKind selects the platform call used to deliver an OutboundMessage.
type MessageKind int

const (
	KindSend MessageKind = iota
	KindEdit
	KindAnswerCallback
)

func (k MessageKind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindEdit:
		return "edit"
	case KindAnswerCallback:
		return "answer_callback"
	default:
		return "unknown"
	}
}

// OutboundMessage is one reply destined for the chat platform.
type OutboundMessage struct {
	ChatID int64
	Kind   MessageKind
	Text   string

	// MessageID is the message to edit (KindEdit only).
	MessageID int

	// CallbackQueryID is the query to answer (KindAnswerCallback only).
	CallbackQueryID string

	Keyboard *Keyboard

	// InReplyTo is the InboundEvent.ID that produced this message.
	InReplyTo string
	CreatedAt time.Time
}

// Button is an inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Keyboard describes either an inline keyboard attached to a message or a
// persistent reply keyboard. Exactly one of Inline or Reply is set.
type Keyboard struct {
	Inline [][]Button
	Reply  [][]string
}

// Send builds a KindSend message.
func Send(chatID int64, text string, inReplyTo string) OutboundMessage {
	return OutboundMessage{
		ChatID:    chatID,
		Kind:      KindSend,
		Text:      text,
		InReplyTo: inReplyTo,
		CreatedAt: time.Now(),
	}
}

// Edit builds a KindEdit message replacing the text of messageID.
func Edit(chatID int64, messageID int, text string, inReplyTo string) OutboundMessage {
	return OutboundMessage{
		ChatID:    chatID,
		Kind:      KindEdit,
		Text:      text,
		MessageID: messageID,
		InReplyTo: inReplyTo,
		CreatedAt: time.Now(),
	}
}

// Answer builds a KindAnswerCallback message. An empty text only stops the
// client's loading indicator.
func Answer(chatID int64, queryID string, text string, inReplyTo string) OutboundMessage {
	return OutboundMessage{
		ChatID:          chatID,
		Kind:            KindAnswerCallback,
		Text:            text,
		CallbackQueryID: queryID,
		InReplyTo:       inReplyTo,
		CreatedAt:       time.Now(),
	}
}

// WithKeyboard returns a copy of m carrying kb.
func (m OutboundMessage) WithKeyboard(kb *Keyboard) OutboundMessage {
	m.Keyboard = kb
	return m
}
