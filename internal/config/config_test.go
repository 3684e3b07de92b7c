// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@herald:example.org"
  access_token: "syt_token"

bot:
  authorized_user: "@owner:example.org"

generator:
  api_key: "gemini-key"

login:
  oauth:
    client_id: "client"
    client_secret: "secret"
    redirect_url: "https://herald.example.org/oauth/callback"
    state_secret: "state-secret"

storage:
  path: "./herald.db"
  secret: "storage-secret"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAMLDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "@owner:example.org", cfg.Bot.AuthorizedUser)
	assert.Equal(t, 5, cfg.Bot.MinTopicLength)

	assert.Equal(t, "gemini", cfg.Generator.Backend)
	assert.Equal(t, "gemini-2.5-flash", cfg.Generator.Model)
	assert.Equal(t, 60*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, "plain", cfg.Generator.Format)

	assert.Equal(t, "linkedin", cfg.Publish.Backend)
	assert.Equal(t, 3, cfg.Publish.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Publish.BaseDelay)

	assert.Equal(t, "oauth", cfg.Login.Flow)
	assert.Equal(t, 5*time.Minute, cfg.Login.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Login.PollInterval)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "herald", cfg.Storage.Redis.Prefix)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	content := `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@herald:example.org"
password = "hunter2"

[bot]
authorized_user = "@owner:example.org"
min_topic_length = 10

[generator]
backend = "static"
static_text = "Hello world"

[publish]
backend = "webhook"
max_attempts = 5
base_delay = "500ms"

[publish.webhook]
url = "https://relay.example.org/hook"

[login]
flow = "static"
access_token = "relay-token"

[storage]
backend = "memory"
`
	cfg, err := Load(writeConfig(t, "herald.toml", content))
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Matrix.Password)
	assert.Equal(t, 10, cfg.Bot.MinTopicLength)
	assert.Equal(t, "static", cfg.Generator.Backend)
	assert.Equal(t, "webhook", cfg.Publish.Backend)
	assert.Equal(t, 5, cfg.Publish.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Publish.BaseDelay)
	assert.Equal(t, "https://relay.example.org/hook", cfg.Publish.Webhook.URL)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("HERALD_TEST_SECRET", "from-env")
	t.Setenv("HERALD_TEST_TOKEN", "syt_env")

	content := `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@herald:example.org"
  access_token: "${HERALD_TEST_TOKEN}"
bot:
  authorized_user: "@owner:example.org"
generator:
  backend: static
  static_text: "draft"
login:
  flow: static
  access_token: "platform"
storage:
  backend: bolt
  path: "/tmp/herald.bolt"
  secret: "${HERALD_TEST_SECRET}"
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	require.NoError(t, err)
	assert.Equal(t, "syt_env", cfg.Matrix.AccessToken)
	assert.Equal(t, "from-env", cfg.Storage.Secret)
}

func TestExpandEnvVars_Unset(t *testing.T) {
	assert.Equal(t, "key: \"\"", expandEnvVars(`key: "${HERALD_DEFINITELY_UNSET_VAR}"`))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_BadDuration(t *testing.T) {
	content := minimalYAML + `
publish:
  base_delay: "soon"
`
	_, err := Load(writeConfig(t, "config.yaml", content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish.base_delay")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse("matrix: [unterminated", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver"},
		{"missing credentials", func(c *Config) { c.Matrix.AccessToken = "" }, "matrix.password or matrix.access_token"},
		{"encryption without pickle key", func(c *Config) { c.Matrix.Encryption = true }, "matrix.pickle_key"},
		{"missing authorized user", func(c *Config) { c.Bot.AuthorizedUser = "" }, "bot.authorized_user is required"},
		{"authorized user is bot", func(c *Config) { c.Bot.AuthorizedUser = c.Matrix.UserID }, "own account"},
		{"gemini without key", func(c *Config) { c.Generator.APIKey = "" }, "generator.api_key"},
		{"vertex without project", func(c *Config) {
			c.Generator.APIKey = ""
			c.Generator.Vertex = true
		}, "generator.project"},
		{"unknown generator", func(c *Config) { c.Generator.Backend = "gpt" }, "generator.backend"},
		{"bad format", func(c *Config) { c.Generator.Format = "html" }, "generator.format"},
		{"zero attempts", func(c *Config) { c.Publish.MaxAttempts = 0 }, "publish.max_attempts"},
		{"webhook without url", func(c *Config) { c.Publish.Backend = "webhook" }, "publish.webhook.url"},
		{"browser publish needs browser login", func(c *Config) { c.Publish.Backend = "browser" }, "login.flow browser"},
		{"linkedin with browser login", func(c *Config) { c.Login.Flow = "browser" }, "login.flow oauth or static"},
		{"oauth without state secret", func(c *Config) { c.Login.OAuth.StateSecret = "" }, "state_secret"},
		{"static without token", func(c *Config) { c.Login.Flow = "static" }, "login.access_token"},
		{"unknown flow", func(c *Config) { c.Login.Flow = "magic" }, "login.flow"},
		{"poll longer than timeout", func(c *Config) { c.Login.PollInterval = 10 * time.Minute }, "poll_interval"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = "redis" }, "storage.redis.addr"},
		{"missing secret", func(c *Config) { c.Storage.Secret = "" }, "storage.secret"},
		{"memory needs no secret", func(c *Config) {
			c.Storage.Backend = "memory"
			c.Storage.Secret = ""
		}, ""},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(minimalYAML, "yaml")
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTailscaleSkipsDefaultHTTPAddr(t *testing.T) {
	content := minimalYAML + `
tailscale:
  enabled: true
  hostname: herald
  funnel: true
`
	cfg, err := Parse(content, "yaml")
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.HTTPAddr)
	assert.True(t, cfg.Tailscale.Funnel)
}
