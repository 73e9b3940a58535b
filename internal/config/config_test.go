package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resync.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, "offline_queue", cfg.Queue.StorageKey)
	assert.Equal(t, 3*time.Second, cfg.Socket.ReconnectDelay)
	assert.Equal(t, 5, cfg.Socket.MaxReconnectAttempts)
	assert.Equal(t, "gorilla", cfg.Socket.Dialer)
	assert.Equal(t, "linear", cfg.Socket.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Socket.MaxReconnectDelay)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[queue]
max_attempts = 5
retry_delay = "250ms"

[socket]
url = "wss://chat.example.com/ws"
reconnect_delay = "1s"
dialer = "gws"
backoff = "exponential"
max_reconnect_delay = "20s"

[store]
backend = "file"
path = "/var/lib/resync"

[api]
base_url = "https://api.example.com"
timeout = "2s"

[logging]
level = "debug"
format = "json"
backend = "zap"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.RetryDelay)
	assert.Equal(t, "offline_queue", cfg.Queue.StorageKey, "unset keys keep defaults")
	assert.Equal(t, "wss://chat.example.com/ws", cfg.Socket.URL)
	assert.Equal(t, time.Second, cfg.Socket.ReconnectDelay)
	assert.Equal(t, 5, cfg.Socket.MaxReconnectAttempts)
	assert.Equal(t, "gws", cfg.Socket.Dialer)
	assert.Equal(t, "exponential", cfg.Socket.Backoff)
	assert.Equal(t, 20*time.Second, cfg.Socket.MaxReconnectDelay)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/resync", cfg.Store.Path)
	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.API.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "zap", cfg.Logging.Backend)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[queue]
max_attempts = 5

[store]
backend = "memory"
`)
	t.Setenv("RESYNC_QUEUE_MAX__ATTEMPTS", "7")
	t.Setenv("RESYNC_SOCKET_RECONNECT__DELAY", "500ms")
	t.Setenv("RESYNC_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Queue.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Socket.ReconnectDelay)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "socket.url", envKey("RESYNC_SOCKET_URL"))
	assert.Equal(t, "socket.max_reconnect_attempts", envKey("RESYNC_SOCKET_MAX__RECONNECT__ATTEMPTS"))
	assert.Equal(t, "connectivity.probe_url", envKey("RESYNC_CONNECTIVITY_PROBE__URL"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to load config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }, "queue.max_attempts"},
		{"zero retry delay", func(c *Config) { c.Queue.RetryDelay = 0 }, "queue.retry_delay"},
		{"empty storage key", func(c *Config) { c.Queue.StorageKey = "" }, "queue.storage_key"},
		{"http socket url", func(c *Config) { c.Socket.URL = "http://x/ws" }, "socket.url"},
		{"unknown dialer", func(c *Config) { c.Socket.Dialer = "nhooyr" }, "socket.dialer"},
		{"unknown backoff", func(c *Config) { c.Socket.Backoff = "random" }, "socket.backoff"},
		{"exponential cap below base delay", func(c *Config) {
			c.Socket.Backoff = "exponential"
			c.Socket.MaxReconnectDelay = time.Second
		}, "socket.max_reconnect_delay"},
		{"zero reconnect attempts", func(c *Config) { c.Socket.MaxReconnectAttempts = 0 }, "socket.max_reconnect_attempts"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"file without path", func(c *Config) { c.Store.Backend = "file"; c.Store.Path = "" }, "store.path"},
		{"memory without path", func(c *Config) { c.Store.Backend = "memory"; c.Store.Path = "" }, ""},
		{"ws api url", func(c *Config) { c.API.BaseURL = "ws://x" }, "api.base_url"},
		{"bad probe url", func(c *Config) { c.Connectivity.ProbeURL = "ftp://x" }, "connectivity.probe_url"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad logging backend", func(c *Config) { c.Logging.Backend = "logrus" }, "logging.backend"},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Address = "" }, "metrics.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
