// Package config provides YAML-based configuration loading for Courier.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Courier configuration, loaded from courier.yaml.
type Config struct {
	Listen    string          `yaml:"listen"`
	Slack     SlackConfig     `yaml:"slack"`
	Database  DatabaseConfig  `yaml:"database"`
	Assistant AssistantConfig `yaml:"assistant"`
	Weather   WeatherConfig   `yaml:"weather"`
	Session   SessionConfig   `yaml:"session"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SlackConfig holds the Slack app credentials and API endpoints.
type SlackConfig struct {
	VerificationToken string   `yaml:"verification_token"`
	SigningSecret     string   `yaml:"signing_secret"` // optional; enables signature checks
	APIURL            string   `yaml:"api_url"`
	ClientID          string   `yaml:"client_id"`
	ClientSecret      string   `yaml:"client_secret"`
	RedirectURL       string   `yaml:"redirect_url"`
	AuthURL           string   `yaml:"auth_url"`
	TokenURL          string   `yaml:"token_url"`
	Scopes            []string `yaml:"scopes"`
}

// OAuthEnabled reports whether the install/registration flow is configured.
func (s SlackConfig) OAuthEnabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// DatabaseConfig selects the gorm dialect and its connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file path
}

// AssistantConfig configures the conversational backend. When URL is empty
// the pipeline replies with the echo template instead.
type AssistantConfig struct {
	URL         string `yaml:"url"`
	WorkspaceID string `yaml:"workspace_id"`
	Version     string `yaml:"version"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	APIKey      string `yaml:"api_key"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// Enabled reports whether an assistant endpoint is configured.
func (a AssistantConfig) Enabled() bool {
	return a.URL != ""
}

// WeatherConfig points the /weather slash command at a lookup service.
type WeatherConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// SessionConfig controls where conversation state lives and how it is keyed.
type SessionConfig struct {
	Backend string      `yaml:"backend"` // "db" or "redis"
	Scope   string      `yaml:"scope"`   // "user" or "channel"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the Redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// PipelineConfig bounds pipeline runs and remote calls.
type PipelineConfig struct {
	TimeoutSec         int    `yaml:"timeout_sec"`
	CallTimeoutSec     int    `yaml:"call_timeout_sec"`
	PlaceholderChannel string `yaml:"placeholder_channel"`
}

// Timeout returns the whole-run deadline.
func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// CallTimeout returns the per-remote-call deadline.
func (p PipelineConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSec) * time.Second
}

// RetentionConfig schedules pruning of the idempotency ledger and idle sessions.
type RetentionConfig struct {
	Cron               string `yaml:"cron"`
	ProcessedEventDays int    `yaml:"processed_event_days"`
	SessionIdleDays    int    `yaml:"session_idle_days"`
}

// LoggingConfig selects the log format and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// envOverrides maps secret-bearing environment variables onto config fields.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"COURIER_SLACK_VERIFICATION_TOKEN", func(c *Config) *string { return &c.Slack.VerificationToken }},
	{"COURIER_SLACK_SIGNING_SECRET", func(c *Config) *string { return &c.Slack.SigningSecret }},
	{"COURIER_SLACK_CLIENT_SECRET", func(c *Config) *string { return &c.Slack.ClientSecret }},
	{"COURIER_DB_PASSWORD", func(c *Config) *string { return &c.Database.Password }},
	{"COURIER_ASSISTANT_PASSWORD", func(c *Config) *string { return &c.Assistant.Password }},
	{"COURIER_ASSISTANT_API_KEY", func(c *Config) *string { return &c.Assistant.APIKey }},
	{"COURIER_REDIS_PASSWORD", func(c *Config) *string { return &c.Session.Redis.Password }},
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Slack.APIURL == "" {
		c.Slack.APIURL = "https://slack.com/api/"
	}
	if !strings.HasSuffix(c.Slack.APIURL, "/") {
		c.Slack.APIURL += "/"
	}
	if c.Slack.AuthURL == "" {
		c.Slack.AuthURL = "https://slack.com/oauth/v2/authorize"
	}
	if c.Slack.TokenURL == "" {
		c.Slack.TokenURL = "https://slack.com/api/oauth.v2.access"
	}
	if len(c.Slack.Scopes) == 0 {
		c.Slack.Scopes = []string{"channels:read", "chat:write", "team:read", "users:read"}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "courier"
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "courier.db"
		}
	}

	if c.Assistant.Version == "" {
		c.Assistant.Version = "2018-02-16"
	}
	if c.Assistant.TimeoutSec == 0 {
		c.Assistant.TimeoutSec = 10
	}
	if c.Weather.TimeoutSec == 0 {
		c.Weather.TimeoutSec = 10
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "db"
	}
	if c.Session.Scope == "" {
		c.Session.Scope = "user"
	}
	if c.Session.Backend == "redis" {
		if c.Session.Redis.Addr == "" {
			c.Session.Redis.Addr = "127.0.0.1:6379"
		}
		if c.Session.Redis.TTLHours == 0 {
			c.Session.Redis.TTLHours = 24 * 30
		}
	}

	if c.Pipeline.TimeoutSec == 0 {
		c.Pipeline.TimeoutSec = 30
	}
	if c.Pipeline.CallTimeoutSec == 0 {
		c.Pipeline.CallTimeoutSec = 10
	}
	if c.Pipeline.PlaceholderChannel == "" {
		c.Pipeline.PlaceholderChannel = "Private Channel"
	}

	if c.Retention.Cron == "" {
		c.Retention.Cron = "0 3 * * *"
	}
	if c.Retention.ProcessedEventDays == 0 {
		c.Retention.ProcessedEventDays = 7
	}
	if c.Retention.SessionIdleDays == 0 {
		c.Retention.SessionIdleDays = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// applyEnv overlays secrets from the environment so they can stay out of
// the YAML file.
func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			*o.field(c) = v
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Slack.VerificationToken == "" {
		errs = append(errs, "slack.verification_token is required")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	if c.Assistant.Enabled() {
		if c.Assistant.WorkspaceID == "" {
			errs = append(errs, "assistant.workspace_id is required when assistant.url is set")
		}
		if c.Assistant.APIKey == "" && c.Assistant.Username == "" {
			errs = append(errs, "assistant.username or assistant.api_key is required when assistant.url is set")
		}
	}
	switch c.Session.Backend {
	case "db", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.backend %q is not supported (db, redis)", c.Session.Backend))
	}
	switch c.Session.Scope {
	case "user", "channel":
	default:
		errs = append(errs, fmt.Sprintf("session.scope %q is not supported (user, channel)", c.Session.Scope))
	}
	if c.Slack.ClientID != "" && c.Slack.ClientSecret == "" {
		errs = append(errs, "slack.client_secret is required when slack.client_id is set")
	}
	if c.Pipeline.CallTimeoutSec > c.Pipeline.TimeoutSec {
		errs = append(errs, "pipeline.call_timeout_sec must not exceed pipeline.timeout_sec")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not supported (text, json)", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
