// ABOUTME: Configuration loading and parsing for finbot-gateway
// ABOUTME: YAML files with environment variable expansion, duration parsing, defaults, and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete finbot-gateway configuration
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Sessions SessionsConfig `yaml:"sessions"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Ingress  IngressConfig  `yaml:"ingress"`
	Egress   EgressConfig   `yaml:"egress"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TelegramConfig holds the bot credential and update delivery mode
type TelegramConfig struct {
	Token         string `yaml:"token" validate:"required"`
	Mode          string `yaml:"mode" validate:"oneof=polling webhook"`
	WebhookURL    string `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookSecret string `yaml:"webhook_secret"`
	APIURL        string `yaml:"api_url" validate:"omitempty,url"` // override for a local Bot API server
}

// ServerConfig holds the HTTP listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" validate:"required"`
}

// BackendConfig holds backend endpoints and resilience settings
type BackendConfig struct {
	CBRURL           string `yaml:"cbr_url" validate:"required,url"`
	MOEXURL          string `yaml:"moex_url" validate:"required,url"`
	MaxAttempts      uint   `yaml:"max_attempts" validate:"min=1,max=10"`
	BreakerThreshold uint32 `yaml:"breaker_threshold" validate:"min=1"`

	Timeout         time.Duration `yaml:"-"`
	InitialBackoff  time.Duration `yaml:"-"`
	MaxBackoff      time.Duration `yaml:"-"`
	Jitter          time.Duration `yaml:"-"`
	BreakerCooldown time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw         string `yaml:"timeout"`
	InitialBackoffRaw  string `yaml:"initial_backoff"`
	MaxBackoffRaw      string `yaml:"max_backoff"`
	JitterRaw          string `yaml:"jitter"`
	BreakerCooldownRaw string `yaml:"breaker_cooldown"`
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory redis"`

	TTL           time.Duration            `yaml:"-"`
	SweepInterval time.Duration            `yaml:"-"`
	ResourceTTLs  map[string]time.Duration `yaml:"-"`

	TTLRaw           string            `yaml:"ttl"`
	SweepIntervalRaw string            `yaml:"sweep_interval"`
	ResourceTTLsRaw  map[string]string `yaml:"resource_ttls"`
}

// RedisConfig holds the connection used by the redis cache driver
type RedisConfig struct {
	Addr      string `yaml:"addr" validate:"required_if=Enabled true"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix"`

	// Enabled is derived from cache.driver
	Enabled bool `yaml:"-"`
}

// SessionsConfig holds conversation session lifetime settings
type SessionsConfig struct {
	IdleTTL       time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	IdleTTLRaw       string `yaml:"idle_ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// DispatchConfig bounds scheduler concurrency and queueing
type DispatchConfig struct {
	MaxWorkers      int `yaml:"max_workers" validate:"min=1"`
	ChatQueueSize   int `yaml:"chat_queue_size" validate:"min=1"`
	GlobalQueueSize int `yaml:"global_queue_size" validate:"min=1,gtefield=ChatQueueSize"`
	Quantum         int `yaml:"quantum" validate:"min=1"`
}

// IngressConfig holds the deduplication window bounds
type IngressConfig struct {
	DedupSize int           `yaml:"dedup_size" validate:"min=1"`
	DedupTTL  time.Duration `yaml:"-"`

	DedupTTLRaw string `yaml:"dedup_ttl"`
}

// EgressConfig holds outbound delivery settings
type EgressConfig struct {
	Lanes       int  `yaml:"lanes" validate:"min=1,max=256"`
	QueueSize   int  `yaml:"queue_size" validate:"min=1"`
	MaxAttempts uint `yaml:"max_attempts" validate:"min=1,max=20"`

	InitialBackoff time.Duration `yaml:"-"`
	MaxBackoff     time.Duration `yaml:"-"`

	InitialBackoffRaw string `yaml:"initial_backoff"`
	MaxBackoffRaw     string `yaml:"max_backoff"`
}

// DatabaseConfig holds the audit database location and row retention
type DatabaseConfig struct {
	Path      string        `yaml:"path" validate:"required"`
	Retention time.Duration `yaml:"-"`

	RetentionRaw string `yaml:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are
// applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero values with production defaults
func (c *Config) applyDefaults() {
	setString(&c.Telegram.Mode, "polling")
	setString(&c.Server.HTTPAddr, "127.0.0.1:8080")

	setString(&c.Backend.CBRURL, "https://www.cbr.ru/scripts/")
	setString(&c.Backend.MOEXURL, "https://iss.moex.com/iss/")
	setUint(&c.Backend.MaxAttempts, 3)
	setUint32(&c.Backend.BreakerThreshold, 5)
	setDuration(&c.Backend.Timeout, 30*time.Second)
	setDuration(&c.Backend.InitialBackoff, time.Second)
	setDuration(&c.Backend.MaxBackoff, 10*time.Second)
	setDuration(&c.Backend.Jitter, 250*time.Millisecond)
	setDuration(&c.Backend.BreakerCooldown, 30*time.Second)

	setString(&c.Cache.Driver, "memory")
	setDuration(&c.Cache.TTL, 10*time.Minute)
	setDuration(&c.Cache.SweepInterval, time.Minute)
	if c.Cache.ResourceTTLs == nil {
		c.Cache.ResourceTTLs = make(map[string]time.Duration)
	}
	for resource, ttl := range DefaultResourceTTLs {
		if _, ok := c.Cache.ResourceTTLs[resource]; !ok {
			c.Cache.ResourceTTLs[resource] = ttl
		}
	}

	setString(&c.Redis.KeyPrefix, "finbot:")
	c.Redis.Enabled = c.Cache.Driver == "redis"

	setDuration(&c.Sessions.IdleTTL, 30*time.Minute)
	setDuration(&c.Sessions.SweepInterval, time.Minute)

	setInt(&c.Dispatch.MaxWorkers, 64)
	setInt(&c.Dispatch.ChatQueueSize, 32)
	setInt(&c.Dispatch.GlobalQueueSize, 4096)
	setInt(&c.Dispatch.Quantum, 8)

	setInt(&c.Ingress.DedupSize, 100_000)
	setDuration(&c.Ingress.DedupTTL, 24*time.Hour)

	setInt(&c.Egress.Lanes, 8)
	setInt(&c.Egress.QueueSize, 256)
	setUint(&c.Egress.MaxAttempts, 5)
	setDuration(&c.Egress.InitialBackoff, 500*time.Millisecond)
	setDuration(&c.Egress.MaxBackoff, 30*time.Second)

	setDuration(&c.Database.Retention, 30*24*time.Hour)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "text")
}

// DefaultResourceTTLs are cache lifetimes per backend resource. CBR publishes
// rates once a day; exchange prices move continuously.
var DefaultResourceTTLs = map[string]time.Duration{
	"rates":  24 * time.Hour,
	"shares": 10 * time.Minute,
	"status": 30 * time.Second,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if c.Telegram.Mode == "webhook" && c.Telegram.WebhookURL == "" {
		return fmt.Errorf("telegram.webhook_url is required in webhook mode")
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"backend.timeout", c.Backend.Timeout},
		{"backend.initial_backoff", c.Backend.InitialBackoff},
		{"backend.jitter", c.Backend.Jitter},
		{"backend.breaker_cooldown", c.Backend.BreakerCooldown},
		{"cache.ttl", c.Cache.TTL},
		{"cache.sweep_interval", c.Cache.SweepInterval},
		{"sessions.idle_ttl", c.Sessions.IdleTTL},
		{"sessions.sweep_interval", c.Sessions.SweepInterval},
		{"ingress.dedup_ttl", c.Ingress.DedupTTL},
		{"egress.initial_backoff", c.Egress.InitialBackoff},
		{"database.retention", c.Database.Retention},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if c.Backend.MaxBackoff < c.Backend.InitialBackoff {
		return fmt.Errorf("backend.max_backoff must not be less than backend.initial_backoff")
	}
	if c.Egress.MaxBackoff < c.Egress.InitialBackoff {
		return fmt.Errorf("egress.max_backoff must not be less than egress.initial_backoff")
	}

	for resource, ttl := range c.Cache.ResourceTTLs {
		if ttl <= 0 {
			return fmt.Errorf("cache.resource_ttls.%s must be positive", resource)
		}
	}

	return nil
}

// TTLFor returns the cache lifetime for a backend resource.
func (c CacheConfig) TTLFor(resource string) time.Duration {
	if ttl, ok := c.ResourceTTLs[resource]; ok {
		return ttl
	}
	return c.TTL
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"backend.initial_backoff", cfg.Backend.InitialBackoffRaw, &cfg.Backend.InitialBackoff},
		{"backend.max_backoff", cfg.Backend.MaxBackoffRaw, &cfg.Backend.MaxBackoff},
		{"backend.jitter", cfg.Backend.JitterRaw, &cfg.Backend.Jitter},
		{"backend.breaker_cooldown", cfg.Backend.BreakerCooldownRaw, &cfg.Backend.BreakerCooldown},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"cache.sweep_interval", cfg.Cache.SweepIntervalRaw, &cfg.Cache.SweepInterval},
		{"sessions.idle_ttl", cfg.Sessions.IdleTTLRaw, &cfg.Sessions.IdleTTL},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"ingress.dedup_ttl", cfg.Ingress.DedupTTLRaw, &cfg.Ingress.DedupTTL},
		{"egress.initial_backoff", cfg.Egress.InitialBackoffRaw, &cfg.Egress.InitialBackoff},
		{"egress.max_backoff", cfg.Egress.MaxBackoffRaw, &cfg.Egress.MaxBackoff},
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	if len(cfg.Cache.ResourceTTLsRaw) > 0 {
		cfg.Cache.ResourceTTLs = make(map[string]time.Duration, len(cfg.Cache.ResourceTTLsRaw))
		for resource, raw := range cfg.Cache.ResourceTTLsRaw {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("parsing cache.resource_ttls.%s %q: %w", resource, raw, err)
			}
			cfg.Cache.ResourceTTLs[resource] = d
		}
	}

	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setUint(dst *uint, def uint) {
	if *dst == 0 {
		*dst = def
	}
}

func setUint32(dst *uint32, def uint32) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}
