// Package gateway orchestrates the finbot-gateway server components.
//
// # Overview
//
// The gateway package owns every long-lived component and wires them into
// one pipeline:
//
//	telegram update → ingress (validate, dedupe) → dispatch (per-chat order)
//	  → conversation (state machine, cache, backend) → egress (lanes, retry)
//	  → Bot API
//
// New builds the components from a config.Config; Run starts the HTTP
// server, the scheduled jobs and update intake (long polling or webhook);
// Shutdown stops intake, drains in-flight turns and pending deliveries, and
// closes storage.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 503 while any backend circuit breaker is open
//   - GET /api/stats - Scheduler, egress, cache, session and breaker counters
//   - GET /api/failures - Undelivered messages (chat_id, since, limit)
//   - GET /api/failures/{id} - One undelivered message
//   - GET /api/evictions - Session evictions for a chat (chat_id, limit)
//   - POST /telegram/webhook - Bot API webhook, webhook mode only
//
// # Scheduled Jobs
//
// Jobs run on a gocron scheduler in singleton mode:
//
//   - session-eviction every sessions.sweep_interval, recording each
//     eviction in the audit store
//   - cache-sweep every cache.sweep_interval (memory driver only)
//   - audit-prune hourly, deleting rows older than database.retention
package gateway
