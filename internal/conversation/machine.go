// ABOUTME: Pure per-chat conversation state machine
// ABOUTME: Decides replies and backend requests from session state and the incoming event

package conversation

import (
	"strings"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/backend/cbr"
	"github.com/2389/finbot-gateway/internal/backend/moex"
	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/instrument"
	"github.com/2389/finbot-gateway/internal/session"
)

const maxSuggestions = 5

// Decision is the outcome of handling one event.
type Decision struct {
	// Replies are sent regardless of any backend request.
	Replies []chat.OutboundMessage
	// Request, when set, must be performed and its result passed to Resolve.
	Request *backend.Request
	// Deferred reports that the event was queued on the session.
	Deferred bool
}

// Machine implements the conversation transitions. It holds no state of its
// own and performs no I/O; callers must hold the session lock.
type Machine struct{}

// NewMachine creates a state machine.
func NewMachine() *Machine { return &Machine{} }

// Handle applies ev to sess. catalog may be nil when NeedsCatalog is false.
func (m *Machine) Handle(sess *session.Session, ev chat.InboundEvent, catalog *instrument.Catalog) Decision {
	if sess.State == session.BackendPending {
		sess.Defer(ev)
		return Decision{Deferred: true}
	}

	switch p := ev.Payload.(type) {
	case chat.Command:
		if sess.State == session.AwaitingInput {
			sess.Reset()
		}
		return m.command(sess, ev, p.Name, p.Args, catalog)
	case chat.Text:
		if sess.State == session.AwaitingInput {
			name := sess.Context.Command
			sess.Reset()
			return m.command(sess, ev, name, p.Text, catalog)
		}
		return m.codeInput(sess, ev, p.Text, catalog)
	case chat.Callback:
		return m.callback(sess, ev, p, catalog)
	default:
		return Decision{}
	}
}

// NeedsCatalog reports whether handling ev in the current state looks up
// instruments.
func NeedsCatalog(sess *session.Session, ev chat.InboundEvent) bool {
	if sess.State == session.BackendPending {
		return false
	}
	switch p := ev.Payload.(type) {
	case chat.Command:
		return isSearch(p.Name) && strings.TrimSpace(p.Args) != ""
	case chat.Text:
		if sess.State == session.AwaitingInput {
			return isSearch(sess.Context.Command)
		}
		return true
	case chat.Callback:
		cb, err := parseCallback(p.Data)
		if err != nil {
			return false
		}
		switch cb.kind {
		case callbackSearchPage, callbackCurrency, callbackStock:
			return true
		}
	}
	return false
}

// Resolve completes the pending request of sess with its outcome, returns
// the session to Idle and hands back the deferred events for replay.
func (m *Machine) Resolve(sess *session.Session, resp backend.Response, err error) ([]chat.OutboundMessage, []chat.InboundEvent) {
	pending := sess.Context
	var replies []chat.OutboundMessage

	text := failureText(err)
	if err == nil {
		formatted, fmtErr := formatResult(pending, resp)
		if fmtErr != nil {
			text = failureText(fmtErr)
		} else {
			text = formatted
		}
	}
	replies = append(replies, chat.Send(sess.ChatID, text, pending.EventID))
	if pending.CallbackMessageID != 0 {
		replies = append(replies, chat.Edit(sess.ChatID, pending.CallbackMessageID, textChoiceMade, pending.EventID))
	}

	sess.Reset()
	return replies, sess.TakeDeferred()
}

// Abort answers ev with a failure notice when the turn could not start,
// for example because the catalog was unavailable.
func (m *Machine) Abort(sess *session.Session, ev chat.InboundEvent, err error) []chat.OutboundMessage {
	sess.Reset()
	var replies []chat.OutboundMessage
	if cb, ok := ev.Payload.(chat.Callback); ok {
		replies = append(replies, chat.Answer(ev.ChatID, cb.QueryID, "", ev.ID))
	}
	return append(replies, chat.Send(ev.ChatID, failureText(err), ev.ID))
}

func (m *Machine) command(sess *session.Session, ev chat.InboundEvent, name, args string, catalog *instrument.Catalog) Decision {
	args = strings.TrimSpace(args)

	switch name {
	case "start":
		return reply(chat.Send(ev.ChatID, textMainMenu, ev.ID).WithKeyboard(mainMenuKeyboard()))
	case "help":
		return reply(chat.Send(ev.ChatID, textHelp, ev.ID))
	case "status":
		return pending(sess, ev, cbr.StatusRequest(), session.Context{})
	case "rate":
		if args == "" {
			return awaiting(sess, ev, name, textCurrencyInstructions)
		}
		code := strings.ToUpper(args)
		return pending(sess, ev, cbr.RateRequest(code), session.Context{Args: code})
	case "price":
		if args == "" {
			return awaiting(sess, ev, name, textStockInstructions)
		}
		ticker := strings.ToUpper(args)
		return pending(sess, ev, moex.PriceRequest(ticker), session.Context{Args: ticker})
	case "search", "search_currency", "search_stock":
		if args == "" {
			return awaiting(sess, ev, name, textSearchInstructions)
		}
		return reply(searchResults(sess, ev, searchFilter(name), args, 0, catalog, 0))
	case "refresh":
		switch strings.ToLower(args) {
		case "rates":
			return pending(sess, ev, cbr.RefreshRequest(), session.Context{})
		case "shares":
			return pending(sess, ev, moex.RefreshRequest(), session.Context{})
		default:
			return reply(chat.Send(ev.ChatID, textRefreshUsage, ev.ID))
		}
	default:
		return reply(chat.Send(ev.ChatID, textUnknownCommand, ev.ID))
	}
}

func (m *Machine) codeInput(sess *session.Session, ev chat.InboundEvent, text string, catalog *instrument.Catalog) Decision {
	code := strings.ToUpper(strings.TrimSpace(text))
	if catalog == nil {
		return reply(chat.Send(ev.ChatID, textNotFound, ev.ID))
	}

	if it, ok := catalog.Currency(code); ok {
		return pending(sess, ev, cbr.RateRequest(it.Code), session.Context{Args: it.Code, Name: it.Name})
	}
	if it, ok := catalog.Stock(code); ok {
		return pending(sess, ev, moex.PriceRequest(it.Code), session.Context{Args: it.Code, Name: it.Name})
	}

	suggestions := catalog.Suggest(code, maxSuggestions)
	if len(suggestions) == 0 {
		return reply(chat.Send(ev.ChatID, textNotFound, ev.ID))
	}
	return reply(chat.Send(ev.ChatID, suggestionsText(code, suggestions), ev.ID).WithKeyboard(suggestionsKeyboard(suggestions)))
}

func (m *Machine) callback(sess *session.Session, ev chat.InboundEvent, p chat.Callback, catalog *instrument.Catalog) Decision {
	answer := chat.Answer(ev.ChatID, p.QueryID, "", ev.ID)

	cb, err := parseCallback(p.Data)
	if err != nil {
		return reply(answer, chat.Send(ev.ChatID, textCallbackError, ev.ID))
	}

	if cb.kind == callbackPageInfo {
		answer.Text = textPageInfo
		return reply(answer)
	}
	if sess.State == session.AwaitingInput {
		sess.Reset()
	}

	switch cb.kind {
	case callbackClose:
		return reply(answer, chat.Edit(ev.ChatID, p.MessageID, textChoiceMade, ev.ID))

	case callbackCurrency, callbackStock:
		pc := session.Context{
			Args:              cb.code,
			Name:              lookupName(catalog, cb.code),
			CallbackQueryID:   p.QueryID,
			CallbackMessageID: p.MessageID,
		}
		req := cbr.RateRequest(cb.code)
		if cb.kind == callbackStock {
			req = moex.PriceRequest(cb.code)
		}
		d := pending(sess, ev, req, pc)
		d.Replies = append([]chat.OutboundMessage{answer}, d.Replies...)
		return d

	case callbackSearchPage:
		query := cb.query
		if cb.ref != "" {
			var ok bool
			if query, ok = sess.RecallSearch(cb.ref); !ok {
				return reply(answer, chat.Send(ev.ChatID, textSearchExpired, ev.ID))
			}
		}
		return reply(answer, searchResults(sess, ev, cb.filter, query, cb.page, catalog, p.MessageID))

	default:
		return reply(answer, chat.Send(ev.ChatID, textUnknownRequest, ev.ID))
	}
}

// searchResults renders page (0-based) of a search. A non-zero messageID
// edits that message in place instead of sending a new one. Queries too long
// for the page links are remembered in sess.
func searchResults(sess *session.Session, ev chat.InboundEvent, filter instrument.Filter, query string, page int, catalog *instrument.Catalog, messageID int) chat.OutboundMessage {
	out := func(text string) chat.OutboundMessage {
		if messageID != 0 {
			return chat.Edit(ev.ChatID, messageID, text, ev.ID)
		}
		return chat.Send(ev.ChatID, text, ev.ID)
	}

	var results []instrument.Instrument
	if catalog != nil {
		results = catalog.Search(query, filter)
	}
	if len(results) == 0 {
		return out(searchEmptyText(query))
	}

	p := instrument.Paginate(results, page+1, instrument.PageSize)
	var ref string
	if (p.HasPrev() || p.HasNext()) && !fitsInline(filter, p.TotalPages, query) {
		ref = sess.RememberSearch(query)
	}
	return out(searchPageText(query, p)).WithKeyboard(paginationKeyboard(filter, query, ref, p))
}

func searchFilter(command string) instrument.Filter {
	switch command {
	case "search_currency":
		return instrument.FilterCurrencies
	case "search_stock":
		return instrument.FilterStocks
	default:
		return instrument.FilterAll
	}
}

func isSearch(command string) bool {
	return command == "search" || command == "search_currency" || command == "search_stock"
}

func lookupName(catalog *instrument.Catalog, code string) string {
	if catalog == nil {
		return ""
	}
	if it, ok := catalog.Lookup(code); ok {
		return it.Name
	}
	return ""
}

func reply(msgs ...chat.OutboundMessage) Decision {
	return Decision{Replies: msgs}
}

func awaiting(sess *session.Session, ev chat.InboundEvent, command, instructions string) Decision {
	sess.State = session.AwaitingInput
	sess.Context = session.Context{Command: command, EventID: ev.ID}
	return reply(chat.Send(ev.ChatID, instructions, ev.ID))
}

func pending(sess *session.Session, ev chat.InboundEvent, req backend.Request, pc session.Context) Decision {
	pc.Command = req.Op
	pc.EventID = ev.ID
	sess.State = session.BackendPending
	sess.Context = pc
	sess.PendingFingerprint = req.Fingerprint()
	return Decision{Request: &req}
}
