// Package policy loads runtime configuration and exposes it through read-only accessors.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalStateDir returns the default global state directory (~/.config/negotiator).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "negotiator")
}

// GlobalStateFile returns the default SQLite database path.
func GlobalStateFile() string {
	return filepath.Join(GlobalStateDir(), "negotiator.sqlite")
}

// DatabaseConfig selects the SQL driver. driver is "sqlite" (default) or "mysql".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"` // mysql DSN; ignored for sqlite (state_file is used)
}

// WebhookConfig configures inbound email authentication and routing.
type WebhookConfig struct {
	SigningKey             string `yaml:"signing_key"`
	ReplyDomain            string `yaml:"reply_domain"`
	FreshnessWindowSeconds int    `yaml:"freshness_window_seconds"`
	// EnforceFreshness rejects stale events instead of only logging them.
	EnforceFreshness bool `yaml:"enforce_freshness"`
}

// AgentDefaults are applied when a negotiation has no stored agent configuration.
type AgentDefaults struct {
	Style               string `yaml:"style"`
	NotifyPriceChange   bool   `yaml:"notify_price_change"`
	NotifyNewTerms      bool   `yaml:"notify_new_terms"`
	NotifyTargetReached bool   `yaml:"notify_target_reached"`
	NotifyAgreement     bool   `yaml:"notify_agreement"`
	NotifyConfusion     bool   `yaml:"notify_confusion"`
	NotifyRefusal       bool   `yaml:"notify_refusal"`
	MaxAutoReplies      int    `yaml:"max_auto_replies"` // -1 = unlimited
	NotifyAfterRounds   int    `yaml:"notify_after_rounds"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai, ollama, anthropic, google
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

// MailConfig configures the outbound Gmail sender. With a refresh token the access
// token is obtained and renewed over OAuth; access_token is then ignored.
type MailConfig struct {
	APIBase      string `yaml:"api_base"`
	FromAddress  string `yaml:"from_address"`
	AccessToken  string `yaml:"access_token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	TokenURL     string `yaml:"token_url"`
}

// QueueConfig configures the background task queue.
type QueueConfig struct {
	Backend             string `yaml:"backend"` // sqlite (default), memory, redis
	Workers             int    `yaml:"workers"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	LeaseSeconds        int    `yaml:"lease_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
	RedisAddr           string `yaml:"redis_addr"`
	RedisPassword       string `yaml:"redis_password"`
	RedisDB             int    `yaml:"redis_db"`
	RedisPrefix         string `yaml:"redis_prefix"`
}

// Config holds runtime configuration.
type Config struct {
	StateFile     string         `yaml:"state_file"`
	LogFile       string         `yaml:"log_file"`
	HTTPPort      int            `yaml:"http_port"`
	Database      DatabaseConfig `yaml:"database"`
	Webhook       WebhookConfig  `yaml:"webhook"`
	AgentDefaults AgentDefaults  `yaml:"agent_defaults"`
	LLM           LLMConfig      `yaml:"llm"`
	Mail          MailConfig     `yaml:"mail"`
	Queue         QueueConfig    `yaml:"queue"`
}

// DefaultAgentDefaults returns balanced style, every notification on, 3 automatic
// replies and a checkpoint every 5 rounds.
func DefaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		Style:               "balanced",
		NotifyPriceChange:   true,
		NotifyNewTerms:      true,
		NotifyTargetReached: true,
		NotifyAgreement:     true,
		NotifyConfusion:     true,
		NotifyRefusal:       true,
		MaxAutoReplies:      3,
		NotifyAfterRounds:   5,
	}
}

// DefaultConfig returns sensible defaults for a single-node deployment.
func DefaultConfig() *Config {
	return &Config{
		HTTPPort: 8080,
		Database: DatabaseConfig{Driver: "sqlite"},
		Webhook: WebhookConfig{
			FreshnessWindowSeconds: 300,
		},
		AgentDefaults: DefaultAgentDefaults(),
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			MaxTokens: 1024,
		},
		Mail: MailConfig{
			APIBase: "https://gmail.googleapis.com/gmail/v1",
		},
		Queue: QueueConfig{
			Backend:             "sqlite",
			Workers:             4,
			PollIntervalSeconds: 5,
			LeaseSeconds:        120,
			MaxAttempts:         5,
			RedisAddr:           "localhost:6379",
			RedisPrefix:         "negotiator",
		},
	}
}

// LoadConfig loads configuration from a YAML file. ${VAR} references are expanded
// from the environment before parsing so secrets can stay out of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "mysql" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for mysql")
	}
	switch c.Queue.Backend {
	case "", "sqlite", "memory", "redis":
	default:
		return fmt.Errorf("queue.backend: unknown backend %q", c.Queue.Backend)
	}
	switch c.AgentDefaults.Style {
	case "", "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("agent_defaults.style: unknown style %q", c.AgentDefaults.Style)
	}
	if c.AgentDefaults.MaxAutoReplies < -1 {
		return fmt.Errorf("agent_defaults.max_auto_replies must be -1 or >= 0")
	}
	return nil
}

// Policy exposes configuration to the application layer.
type Policy struct {
	config *Config
	mu     sync.RWMutex
}

// New creates a Policy around cfg.
func New(cfg *Config) *Policy {
	return &Policy{config: cfg}
}

// Config returns a copy of the underlying configuration.
func (p *Policy) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.config
}

// StateFile returns the SQLite database path (default ~/.config/negotiator/negotiator.sqlite).
func (p *Policy) StateFile() string {
	p.mu.RLock()
	sf := p.config.StateFile
	p.mu.RUnlock()
	if sf == "" {
		return GlobalStateFile()
	}
	return sf
}

// SignalFilePath returns the path to the wake-up signal file next to the state file.
func (p *Policy) SignalFilePath() string {
	return filepath.Join(filepath.Dir(p.StateFile()), ".negotiator-notify")
}

// LogFile returns the configured log file path. "none" or "off" disables file logging.
func (p *Policy) LogFile() string {
	p.mu.RLock()
	lf := p.config.LogFile
	p.mu.RUnlock()
	if lf == "" {
		return filepath.Join(GlobalStateDir(), "negotiator.log")
	}
	return lf
}

// DatabaseDriver returns "sqlite" or "mysql".
func (p *Policy) DatabaseDriver() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.config.Database.Driver == "" {
		return "sqlite"
	}
	return p.config.Database.Driver
}

// DatabaseDSN returns the data source for the configured driver.
func (p *Policy) DatabaseDSN() string {
	if p.DatabaseDriver() == "sqlite" {
		return p.StateFile()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Database.DSN
}

// AgentDefaults returns the defaults for agent configuration.
func (p *Policy) AgentDefaults() AgentDefaults {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d := p.config.AgentDefaults
	if d.Style == "" {
		d.Style = "balanced"
	}
	return d
}

// WebhookSigningKey returns the HMAC key for inbound email events.
func (p *Policy) WebhookSigningKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Webhook.SigningKey
}

// ReplyDomain returns the domain of reply+<id>@<domain> addresses.
func (p *Policy) ReplyDomain() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return strings.ToLower(p.config.Webhook.ReplyDomain)
}

// FreshnessWindow returns the accepted age of inbound event timestamps.
func (p *Policy) FreshnessWindow() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.config.Webhook.FreshnessWindowSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.config.Webhook.FreshnessWindowSeconds) * time.Second
}

// EnforceFreshness reports whether stale inbound events are rejected.
func (p *Policy) EnforceFreshness() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Webhook.EnforceFreshness
}

// LLM returns the completion provider settings.
func (p *Policy) LLM() LLMConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.LLM
}

// Mail returns the outbound mail settings.
func (p *Policy) Mail() MailConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Mail
}

// Queue returns the task queue settings with zero values replaced by defaults.
func (p *Policy) Queue() QueueConfig {
	p.mu.RLock()
	q := p.config.Queue
	p.mu.RUnlock()
	d := DefaultConfig().Queue
	if q.Backend == "" {
		q.Backend = d.Backend
	}
	if q.Workers <= 0 {
		q.Workers = d.Workers
	}
	if q.PollIntervalSeconds <= 0 {
		q.PollIntervalSeconds = d.PollIntervalSeconds
	}
	if q.LeaseSeconds <= 0 {
		q.LeaseSeconds = d.LeaseSeconds
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = d.MaxAttempts
	}
	if q.RedisPrefix == "" {
		q.RedisPrefix = d.RedisPrefix
	}
	return q
}

// HTTPPort returns the listen port (0 = auto-assign).
func (p *Policy) HTTPPort() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.HTTPPort
}
