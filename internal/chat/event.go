// ABOUTME: Inbound chat event and its tagged payload kinds
// ABOUTME: Text, Command, and Callback are the only payloads the conversation layer accepts

package chat

import "time"

// InboundEvent is a normalized, immutable chat event.
// ID is the platform-assigned event id and the deduplication key.
type InboundEvent struct {
	ID         string
	ChatID     int64
	SenderID   int64
	Payload    Payload
	ReceivedAt time.Time
}

// Payload is the tagged union of event kinds.
type Payload interface {
	// Kind returns a short name used in logs.
	Kind() string
	payload()
}

// Text is free-form user input.
type Text struct {
	Text string
}

// Command is a slash command. Name is lowercased without the leading slash
// or any @bot suffix.
type Command struct {
	Name string
	Args string
}

// Callback is an inline keyboard button press.
type Callback struct {
	QueryID   string
	Data      string
	MessageID int
}

func (Text) Kind() string     { return "text" }
func (Command) Kind() string  { return "command" }
func (Callback) Kind() string { return "callback" }

func (Text) payload()     {}
func (Command) payload()  {}
func (Callback) payload() {}
