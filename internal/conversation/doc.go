// Package conversation turns inbound chat events into replies.
//
// # Overview
//
// The package has two layers. Machine is the pure per-chat state machine:
// given a session, an event and an optional instrument catalog it decides
// the immediate replies and whether a backend request is needed. Service
// owns a processing turn: it locks the chat's session, fetches the catalog
// when the event needs one, runs backend requests through the response
// cache, and feeds the results back into the machine.
//
// # States
//
//   - Idle: no pending work. Simple commands reply immediately.
//   - AwaitingInput: a command such as /rate was sent without its
//     argument; the next text message completes it. Any other command
//     abandons it.
//   - BackendPending: a backend request is in flight. Events that arrive
//     meanwhile are deferred and replayed, in order, once it resolves.
//
// Backend failures never leave a session stuck: the user gets a message
// naming the failure kind and the session returns to Idle.
//
// # Commands
//
//	/start                   main menu with a reply keyboard
//	/help                    usage
//	/rate [code]             CBR rate of a currency
//	/price [ticker]          MOEX price of a share
//	/search [query]          search currencies and shares
//	/search_currency [query] search currencies only
//	/search_stock [query]    search shares only
//	/status                  backend status
//	/refresh rates|shares    force a re-fetch and drop cached entries
//
// Plain text is treated as an instrument code; unknown codes get up to five
// suggestions with inline buttons.
//
// # Callback data
//
//	currency_<CODE>                        rate of CODE
//	stock_<TICKER>                         price of TICKER
//	search_page_<filter>_<page>_<query>    search result page (0-based, query URL-encoded)
//	search_ref_<filter>_<page>_<token>     same, for queries too long for Telegram's 64 bytes;
//	                                       the query is kept in the session under token
//	page_info                              page counter button
//	close                                  close the inline keyboard
package conversation
