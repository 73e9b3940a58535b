// Package config loads resync configuration from a TOML file and RESYNC_
// environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kinesphere/resync/pkg/constants"
)

// EnvPrefix is the prefix of environment variables that override the file.
// RESYNC_SOCKET_URL sets socket.url; a double underscore keeps a literal one,
// so RESYNC_QUEUE_MAX__ATTEMPTS sets queue.max_attempts.
const EnvPrefix = "RESYNC_"

type Config struct {
	Queue        QueueConfig        `koanf:"queue"`
	Socket       SocketConfig       `koanf:"socket"`
	Store        StoreConfig        `koanf:"store"`
	API          APIConfig          `koanf:"api"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Logging      LoggingConfig      `koanf:"logging"`
	Metrics      MetricsConfig      `koanf:"metrics"`
}

type QueueConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	RetryDelay  time.Duration `koanf:"retry_delay"`
	StorageKey  string        `koanf:"storage_key"`
}

type SocketConfig struct {
	// URL is the ws:// or wss:// endpoint. Empty disables the socket.
	URL                  string        `koanf:"url"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	// Dialer is "gorilla" or "gws".
	Dialer string `koanf:"dialer"`
	// Backoff is "linear", "exponential" or "fixed".
	Backoff string `koanf:"backoff"`
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration `koanf:"max_reconnect_delay"`
}

type StoreConfig struct {
	// Backend is "sqlite", "file" or "memory".
	Backend string `koanf:"backend"`
	// Path is the database file for sqlite and the directory for file.
	Path string `koanf:"path"`
}

type APIConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type ConnectivityConfig struct {
	// ProbeURL is polled with HEAD requests. Empty means always online.
	ProbeURL      string        `koanf:"probe_url"`
	ProbeInterval time.Duration `koanf:"probe_interval"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
	// Format is "text" or "json".
	Format string `koanf:"format"`
	// Backend is "slog", "zerolog" or "zap".
	Backend string `koanf:"backend"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
}

// Load loads configuration from file, environment variables, and defaults
// Priority: Environment variables > Config file > Defaults
//
// Duration fields accept Go duration strings such as "3s" or "1m".
func Load(configPath string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)

	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxAttempts: constants.DefaultMaxAttempts,
			RetryDelay:  constants.DefaultRetryDelay,
			StorageKey:  constants.QueueStorageKey,
		},
		Socket: SocketConfig{
			ReconnectDelay:       constants.DefaultReconnectDelay,
			MaxReconnectAttempts: constants.DefaultMaxReconnectAttempts,
			Dialer:               "gorilla",
			Backoff:              "linear",
			MaxReconnectDelay:    constants.DefaultMaxReconnectDelay,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "resync.db",
		},
		API: APIConfig{
			Timeout: constants.DefaultHTTPTimeout,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: constants.DefaultProbeInterval,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Backend: "slog",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("invalid queue.max_attempts: %d (must be positive)", c.Queue.MaxAttempts)
	}
	if c.Queue.RetryDelay <= 0 {
		return fmt.Errorf("invalid queue.retry_delay: %s (must be positive)", c.Queue.RetryDelay)
	}
	if c.Queue.StorageKey == "" {
		return fmt.Errorf("queue.storage_key cannot be empty")
	}

	if c.Socket.URL != "" {
		if err := validateURL("socket.url", c.Socket.URL, constants.WebsocketScheme, constants.WebsocketSecureScheme); err != nil {
			return err
		}
	}
	if c.Socket.ReconnectDelay <= 0 {
		return fmt.Errorf("invalid socket.reconnect_delay: %s (must be positive)", c.Socket.ReconnectDelay)
	}
	if c.Socket.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("invalid socket.max_reconnect_attempts: %d (must be positive)", c.Socket.MaxReconnectAttempts)
	}
	switch c.Socket.Dialer {
	case "gorilla", "gws":
	default:
		return fmt.Errorf("socket.dialer must be 'gorilla' or 'gws', got: %s", c.Socket.Dialer)
	}
	switch c.Socket.Backoff {
	case "linear", "fixed":
	case "exponential":
		if c.Socket.MaxReconnectDelay < c.Socket.ReconnectDelay {
			return fmt.Errorf("invalid socket.max_reconnect_delay: %s (must be at least socket.reconnect_delay)", c.Socket.MaxReconnectDelay)
		}
	default:
		return fmt.Errorf("socket.backoff must be 'linear', 'exponential' or 'fixed', got: %s", c.Socket.Backoff)
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite", "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required when store.backend is '%s'", c.Store.Backend)
		}
	default:
		return fmt.Errorf("store.backend must be 'sqlite', 'file' or 'memory', got: %s", c.Store.Backend)
	}

	if c.API.BaseURL != "" {
		if err := validateURL("api.base_url", c.API.BaseURL, constants.HTTPScheme, constants.HTTPSecureScheme); err != nil {
			return err
		}
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("invalid api.timeout: %s (must be positive)", c.API.Timeout)
	}

	if c.Connectivity.ProbeURL != "" {
		if err := validateURL("connectivity.probe_url", c.Connectivity.ProbeURL, constants.HTTPScheme, constants.HTTPSecureScheme); err != nil {
			return err
		}
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("invalid connectivity.probe_interval: %s (must be positive)", c.Connectivity.ProbeInterval)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging.format: %s (must be 'text' or 'json')", c.Logging.Format)
	}
	switch c.Logging.Backend {
	case "slog", "zerolog", "zap":
	default:
		return fmt.Errorf("invalid logging.backend: %s (must be slog, zerolog, or zap)", c.Logging.Backend)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics.enabled is true")
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (scheme must be one of %s)", field, raw, strings.Join(schemes, ", "))
}
