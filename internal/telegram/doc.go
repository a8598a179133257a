// ABOUTME: Package telegram connects the gateway to the Telegram Bot API
// ABOUTME: Update intake via polling or webhook, reply delivery, and command registration

// Package telegram adapts github.com/go-telegram/bot to the gateway.
//
// Inbound, every update goes through a logging middleware and the default
// handler, which normalizes it with ingress and submits it to the dispatch
// scheduler. An update refused for backpressure is released from the dedup
// window so a redelivery can try again.
//
// Outbound, Transport implements egress.Transport and maps platform errors
// onto egress retry semantics: 403/400/401/404 are permanent, 429 carries
// its retry_after.
package telegram
