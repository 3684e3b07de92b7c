// ABOUTME: Configuration loading and parsing for herald
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete herald configuration
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Bot       BotConfig       `yaml:"bot" toml:"bot"`
	Generator GeneratorConfig `yaml:"generator" toml:"generator"`
	Publish   PublishConfig   `yaml:"publish" toml:"publish"`
	Login     LoginConfig     `yaml:"login" toml:"login"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds the bot's Matrix account
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	Password    string `yaml:"password" toml:"password"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	DeviceID    string `yaml:"device_id" toml:"device_id"`
	// E2EE settings. RecoveryKey verifies the device with cross-signing.
	Encryption  bool   `yaml:"encryption" toml:"encryption"`
	PickleKey   string `yaml:"pickle_key" toml:"pickle_key"`
	CryptoDB    string `yaml:"crypto_db" toml:"crypto_db"`
	RecoveryKey string `yaml:"recovery_key" toml:"recovery_key"`

	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
}

// BotConfig holds conversation settings
type BotConfig struct {
	// AuthorizedUser is the only Matrix user the bot serves.
	AuthorizedUser string `yaml:"authorized_user" toml:"authorized_user"`
	MinTopicLength int    `yaml:"min_topic_length" toml:"min_topic_length"`
	MediaDir       string `yaml:"media_dir" toml:"media_dir"`
	MediaMaxBytes  int64  `yaml:"media_max_bytes" toml:"media_max_bytes"`
}

// GeneratorConfig selects and configures the draft generator
type GeneratorConfig struct {
	Backend     string `yaml:"backend" toml:"backend"` // gemini or static
	APIKey      string `yaml:"api_key" toml:"api_key"`
	Model       string `yaml:"model" toml:"model"`
	Vertex      bool   `yaml:"vertex" toml:"vertex"`
	Project     string `yaml:"project" toml:"project"`
	Location    string `yaml:"location" toml:"location"`
	Tone        string `yaml:"tone" toml:"tone"`
	TargetWords int    `yaml:"target_words" toml:"target_words"`
	Format      string `yaml:"format" toml:"format"` // plain or markdown
	StaticText  string `yaml:"static_text" toml:"static_text"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// PublishConfig selects the publish back end and its retry policy
type PublishConfig struct {
	Backend     string `yaml:"backend" toml:"backend"` // linkedin, webhook, or browser
	MaxAttempts int    `yaml:"max_attempts" toml:"max_attempts"`

	BaseDelay    time.Duration `yaml:"-" toml:"-"`
	BaseDelayRaw string        `yaml:"base_delay" toml:"base_delay"`
	Timeout      time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw   string        `yaml:"timeout" toml:"timeout"`

	LinkedIn LinkedInConfig       `yaml:"linkedin" toml:"linkedin"`
	Webhook  WebhookConfig        `yaml:"webhook" toml:"webhook"`
	Browser  BrowserPublishConfig `yaml:"browser" toml:"browser"`
}

// LinkedInConfig holds REST API settings
type LinkedInConfig struct {
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	AuthorURN  string `yaml:"author_urn" toml:"author_urn"`
	Visibility string `yaml:"visibility" toml:"visibility"`
}

// WebhookConfig holds relay settings
type WebhookConfig struct {
	URL    string `yaml:"url" toml:"url"`
	Secret string `yaml:"secret" toml:"secret"`
}

// BrowserPublishConfig holds browser automation settings for posting
type BrowserPublishConfig struct {
	FeedURL string `yaml:"feed_url" toml:"feed_url"`
}

// LoginConfig selects how the platform session is obtained
type LoginConfig struct {
	Flow        string `yaml:"flow" toml:"flow"` // oauth, browser, or static
	AccessToken string `yaml:"access_token" toml:"access_token"`

	Timeout         time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw      string        `yaml:"timeout" toml:"timeout"`
	PollInterval    time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`

	OAuth   OAuthConfig        `yaml:"oauth" toml:"oauth"`
	Browser BrowserLoginConfig `yaml:"browser" toml:"browser"`
}

// OAuthConfig holds OAuth client settings
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url" toml:"redirect_url"`
	Scopes       []string `yaml:"scopes" toml:"scopes"`
	StateSecret  string   `yaml:"state_secret" toml:"state_secret"`
}

// BrowserLoginConfig holds browser login settings
type BrowserLoginConfig struct {
	ProfileDir string `yaml:"profile_dir" toml:"profile_dir"`
	ExecPath   string `yaml:"exec_path" toml:"exec_path"`
	Headless   bool   `yaml:"headless" toml:"headless"`
	LoginURL   string `yaml:"login_url" toml:"login_url"`
	SuccessURL string `yaml:"success_url" toml:"success_url"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // memory, sqlite, redis, or bolt
	// Path is the database file for sqlite and bolt.
	Path string `yaml:"path" toml:"path"`
	// Secret seals stored login tokens.
	Secret string      `yaml:"secret" toml:"secret"`
	Redis  RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`

	SessionTTL    time.Duration `yaml:"-" toml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl" toml:"session_ttl"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with Tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatOf(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration text in the given format ("yaml" or "toml"),
// applies defaults, parses durations, and validates the result.
func Parse(text, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	setDefault(&c.Bot.MinTopicLength, 5)
	setDefault(&c.Bot.MediaMaxBytes, 10<<20)

	setDefault(&c.Generator.Backend, "gemini")
	setDefault(&c.Generator.Model, "gemini-2.5-flash")
	setDefault(&c.Generator.Timeout, 60*time.Second)
	setDefault(&c.Generator.Tone, "professional")
	setDefault(&c.Generator.TargetWords, 100)
	setDefault(&c.Generator.Format, "plain")

	setDefault(&c.Publish.Backend, "linkedin")
	setDefault(&c.Publish.MaxAttempts, 3)
	setDefault(&c.Publish.BaseDelay, 2*time.Second)
	setDefault(&c.Publish.Timeout, 30*time.Second)

	setDefault(&c.Login.Flow, "oauth")
	setDefault(&c.Login.Timeout, 5*time.Minute)
	setDefault(&c.Login.PollInterval, 5*time.Second)

	setDefault(&c.Storage.Backend, "sqlite")
	setDefault(&c.Storage.Redis.Prefix, "herald")
	setDefault(&c.Storage.Redis.SessionTTL, 7*24*time.Hour)

	if !c.Tailscale.Enabled {
		setDefault(&c.Server.HTTPAddr, ":8080")
	}
	setDefault(&c.Metrics.Path, "/metrics")

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateMatrix,
		c.validateBot,
		c.validateGenerator,
		c.validatePublish,
		c.validateLogin,
		c.validateStorage,
		c.validateServer,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateMatrix() error {
	if c.Matrix.Homeserver == "" {
		return errors.New("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return errors.New("matrix.user_id is required")
	}
	if c.Matrix.Password == "" && c.Matrix.AccessToken == "" {
		return errors.New("matrix.password or matrix.access_token is required")
	}
	if c.Matrix.Encryption && c.Matrix.PickleKey == "" {
		return errors.New("matrix.pickle_key is required when encryption is enabled")
	}
	return nil
}

func (c *Config) validateBot() error {
	if c.Bot.AuthorizedUser == "" {
		return errors.New("bot.authorized_user is required")
	}
	if c.Bot.AuthorizedUser == c.Matrix.UserID {
		return errors.New("bot.authorized_user must not be the bot's own account")
	}
	return nil
}

func (c *Config) validateGenerator() error {
	switch c.Generator.Backend {
	case "gemini":
		if c.Generator.Vertex {
			if c.Generator.Project == "" {
				return errors.New("generator.project is required with vertex")
			}
		} else if c.Generator.APIKey == "" {
			return errors.New("generator.api_key is required for the gemini backend")
		}
	case "static":
		if c.Generator.StaticText == "" {
			return errors.New("generator.static_text is required for the static backend")
		}
	default:
		return fmt.Errorf("generator.backend %q is not one of gemini, static", c.Generator.Backend)
	}
	if c.Generator.Format != "plain" && c.Generator.Format != "markdown" {
		return fmt.Errorf("generator.format %q is not one of plain, markdown", c.Generator.Format)
	}
	return nil
}

func (c *Config) validatePublish() error {
	if c.Publish.MaxAttempts < 1 {
		return errors.New("publish.max_attempts must be at least 1")
	}
	switch c.Publish.Backend {
	case "linkedin":
		if c.Login.Flow == "browser" {
			return errors.New("publish.backend linkedin needs login.flow oauth or static")
		}
	case "webhook":
		if c.Publish.Webhook.URL == "" {
			return errors.New("publish.webhook.url is required for the webhook backend")
		}
	case "browser":
		if c.Login.Flow != "browser" {
			return errors.New("publish.backend browser needs login.flow browser")
		}
	default:
		return fmt.Errorf("publish.backend %q is not one of linkedin, webhook, browser", c.Publish.Backend)
	}
	return nil
}

func (c *Config) validateLogin() error {
	switch c.Login.Flow {
	case "oauth":
		o := c.Login.OAuth
		if o.ClientID == "" || o.ClientSecret == "" {
			return errors.New("login.oauth.client_id and login.oauth.client_secret are required for the oauth flow")
		}
		if o.RedirectURL == "" {
			return errors.New("login.oauth.redirect_url is required for the oauth flow")
		}
		if o.StateSecret == "" {
			return errors.New("login.oauth.state_secret is required for the oauth flow")
		}
	case "static":
		if c.Login.AccessToken == "" {
			return errors.New("login.access_token is required for the static flow")
		}
	case "browser":
	default:
		return fmt.Errorf("login.flow %q is not one of oauth, browser, static", c.Login.Flow)
	}
	if c.Login.PollInterval >= c.Login.Timeout {
		return errors.New("login.poll_interval must be shorter than login.timeout")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "memory":
		return nil
	case "sqlite", "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, sqlite, redis, bolt", c.Storage.Backend)
	}
	if c.Storage.Secret == "" {
		return errors.New("storage.secret is required to seal stored login tokens")
	}
	return nil
}

func (c *Config) validateServer() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"generator.timeout", cfg.Generator.TimeoutRaw, &cfg.Generator.Timeout},
		{"publish.base_delay", cfg.Publish.BaseDelayRaw, &cfg.Publish.BaseDelay},
		{"publish.timeout", cfg.Publish.TimeoutRaw, &cfg.Publish.Timeout},
		{"login.timeout", cfg.Login.TimeoutRaw, &cfg.Login.Timeout},
		{"login.poll_interval", cfg.Login.PollIntervalRaw, &cfg.Login.PollInterval},
		{"storage.redis.session_ttl", cfg.Storage.Redis.SessionTTLRaw, &cfg.Storage.Redis.SessionTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
