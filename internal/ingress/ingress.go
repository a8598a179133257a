// ABOUTME: Converts Telegram updates into normalized inbound chat events
// ABOUTME: Rejects malformed updates and drops redeliveries through the dedup window

package ingress

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-telegram/bot/models"

	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/dedupe"
)

var (
	// ErrRejected marks an update that will not be processed.
	ErrRejected = errors.New("update rejected")
	// ErrDuplicate marks an update id already seen in the dedup window.
	ErrDuplicate = fmt.Errorf("%w: duplicate update", ErrRejected)
)

// Reply keyboard labels carry their command in trailing parentheses,
// e.g. "Курс валют (/rate)".
var buttonCommand = regexp.MustCompile(`^.*\((/[^)\s]+)\)$`)

// Ingress parses and deduplicates updates.
type Ingress struct {
	seen   *dedupe.Cache
	now    func() time.Time
	logger *slog.Logger
}

// New creates an ingress over the dedup window seen.
func New(seen *dedupe.Cache, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		seen:   seen,
		now:    time.Now,
		logger: logger.With("component", "ingress"),
	}
}

// Ingest validates u and converts it into an event. A successfully parsed
// update is marked as seen; Release unmarks it when it could not be queued.
func (in *Ingress) Ingest(u *models.Update) (chat.InboundEvent, error) {
	ev, err := in.parse(u)
	if err != nil {
		in.logger.Debug("update rejected", "error", err)
		return chat.InboundEvent{}, err
	}

	if in.seen.CheckAndMark(ev.ID) {
		in.logger.Debug("duplicate update dropped", "update_id", ev.ID, "chat_id", ev.ChatID)
		return chat.InboundEvent{}, fmt.Errorf("%w: update %s", ErrDuplicate, ev.ID)
	}
	return ev, nil
}

// Release forgets an accepted event so a redelivery of it is processed.
func (in *Ingress) Release(ev chat.InboundEvent) {
	in.seen.Forget(ev.ID)
}

func (in *Ingress) parse(u *models.Update) (chat.InboundEvent, error) {
	if u == nil {
		return chat.InboundEvent{}, fmt.Errorf("%w: nil update", ErrRejected)
	}

	ev := chat.InboundEvent{
		ID:         strconv.FormatInt(u.ID, 10),
		ReceivedAt: in.now(),
	}

	switch {
	case u.Message != nil:
		msg := u.Message
		if msg.Chat.ID == 0 {
			return chat.InboundEvent{}, fmt.Errorf("%w: message without chat", ErrRejected)
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return chat.InboundEvent{}, fmt.Errorf("%w: empty message", ErrRejected)
		}
		ev.ChatID = msg.Chat.ID
		if msg.From != nil {
			ev.SenderID = msg.From.ID
		}
		ev.Payload = ParseText(text)

	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Data == "" {
			return chat.InboundEvent{}, fmt.Errorf("%w: callback without data", ErrRejected)
		}
		chatID, messageID := callbackOrigin(cq)
		if chatID == 0 {
			return chat.InboundEvent{}, fmt.Errorf("%w: callback without chat", ErrRejected)
		}
		ev.ChatID = chatID
		ev.SenderID = cq.From.ID
		ev.Payload = chat.Callback{QueryID: cq.ID, Data: cq.Data, MessageID: messageID}

	default:
		return chat.InboundEvent{}, fmt.Errorf("%w: unsupported update kind", ErrRejected)
	}

	return ev, nil
}

func callbackOrigin(cq *models.CallbackQuery) (int64, int) {
	switch {
	case cq.Message.Message != nil:
		return cq.Message.Message.Chat.ID, cq.Message.Message.ID
	case cq.Message.InaccessibleMessage != nil:
		return cq.Message.InaccessibleMessage.Chat.ID, cq.Message.InaccessibleMessage.MessageID
	default:
		return 0, 0
	}
}

// ParseText turns user text into a Command or Text payload.
func ParseText(text string) chat.Payload {
	text = strings.TrimSpace(text)
	if m := buttonCommand.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !strings.HasPrefix(text, "/") {
		return chat.Text{Text: text}
	}

	head, args := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, args = head[:i], head[i:]
	}
	name, _, _ := strings.Cut(head, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return chat.Text{Text: text}
	}
	return chat.Command{Name: name, Args: strings.TrimSpace(args)}
}
