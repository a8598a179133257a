// Package config handles configuration loading for finbot-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FINBOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/finbot/gateway.yaml
//  3. ~/.config/finbot/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	telegram:
//	  token: "${TELEGRAM_BOT_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	backend:
//	  timeout: "30s"
//	  initial_backoff: "1s"
//	  breaker_cooldown: "30s"
//
// # Configuration Sections
//
//	telegram:
//	  token: "${TELEGRAM_BOT_TOKEN}"
//	  mode: "polling"            # polling, webhook
//	  webhook_url: ""            # required for webhook mode
//	  webhook_secret: ""
//
//	server:
//	  http_addr: "127.0.0.1:8080"  # health endpoints and webhook
//
//	backend:
//	  cbr_url: "https://www.cbr.ru/scripts/"
//	  moex_url: "https://iss.moex.com/iss/"
//	  timeout: "30s"
//	  max_attempts: 3
//	  initial_backoff: "1s"
//	  max_backoff: "10s"
//	  jitter: "250ms"
//	  breaker_threshold: 5
//	  breaker_cooldown: "30s"
//
//	cache:
//	  driver: "memory"           # memory, redis
//	  ttl: "10m"
//	  resource_ttls:
//	    rates: "24h"
//	    shares: "10m"
//
//	sessions:
//	  idle_ttl: "30m"
//
//	dispatch:
//	  max_workers: 64
//	  chat_queue_size: 32
//	  global_queue_size: 4096
//
//	database:
//	  path: "~/.local/share/finbot/audit.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Struct tags are checked with go-playground/validator; cross-field rules
// (webhook URL, backoff ordering, positive durations) are checked by
// Config.Validate.
package config
