// Package config defines wamux configuration, its defaults and validation.
// Values are read through viper from the config file, WAMUX_* environment
// variables and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "WAMUX"

// Web version cache strategies
const (
	CacheNone   = "none"
	CacheLocal  = "local"
	CacheRemote = "remote"
)

// Config holds all wamux configuration
type Config struct {
	Sessions  SessionsConfig  `mapstructure:"sessions" yaml:"sessions"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
	Webhook   WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// SessionsConfig controls session storage and lifecycle timing
type SessionsConfig struct {
	// Path is the root holding one session-<id> directory per session (default: ./sessions)
	Path string `mapstructure:"path" yaml:"path"`
	// AutoRecover re-creates a session when its browser page closes or crashes (default: true)
	AutoRecover bool `mapstructure:"auto_recover" yaml:"auto_recover"`
	// ReleaseBrowserLock removes a leftover browser SingletonLock before launch (default: true)
	ReleaseBrowserLock bool `mapstructure:"release_browser_lock" yaml:"release_browser_lock"`
	// RestoreConcurrency bounds parallel session restores at startup (default: 4)
	RestoreConcurrency int `mapstructure:"restore_concurrency" yaml:"restore_concurrency"`
	// PageWaitMs bounds the wait for a session's page during validation (default: 5000)
	PageWaitMs int `mapstructure:"page_wait_ms" yaml:"page_wait_ms"`
	// EvalTimeoutMs bounds each liveness evaluation (default: 5000)
	EvalTimeoutMs int `mapstructure:"eval_timeout_ms" yaml:"eval_timeout_ms"`
	// EvalRetries is the number of additional liveness attempts (default: 2)
	EvalRetries int `mapstructure:"eval_retries" yaml:"eval_retries"`
	// DisconnectWaitSeconds bounds the wait for the browser to disconnect on delete (default: 10)
	DisconnectWaitSeconds int `mapstructure:"disconnect_wait_seconds" yaml:"disconnect_wait_seconds"`
	// CloseGraceSeconds bounds a graceful browser close before the process is killed (default: 5)
	CloseGraceSeconds int `mapstructure:"close_grace_seconds" yaml:"close_grace_seconds"`
}

// PageWait returns PageWaitMs as a duration
func (c *SessionsConfig) PageWait() time.Duration {
	return time.Duration(c.PageWaitMs) * time.Millisecond
}

// EvalTimeout returns EvalTimeoutMs as a duration
func (c *SessionsConfig) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMs) * time.Millisecond
}

// DisconnectWait returns DisconnectWaitSeconds as a duration
func (c *SessionsConfig) DisconnectWait() time.Duration {
	return time.Duration(c.DisconnectWaitSeconds) * time.Second
}

// CloseGrace returns CloseGraceSeconds as a duration
func (c *SessionsConfig) CloseGrace() time.Duration {
	return time.Duration(c.CloseGraceSeconds) * time.Second
}

// ClientConfig controls the browser-backed messaging client
type ClientConfig struct {
	// BrowserPath is the Chrome/Chromium binary. Empty lets the driver search PATH.
	BrowserPath string `mapstructure:"browser_path" yaml:"browser_path"`
	// Headless runs the browser without a window (default: true)
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExtraArgs are appended to the browser command line, e.g. "--proxy-server=..."
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args"`
	// UserAgent overrides the browser user agent
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// WebURL is the messaging web application URL
	WebURL string `mapstructure:"web_url" yaml:"web_url"`
	// StartupTimeoutSeconds bounds launch plus first page load (default: 120)
	StartupTimeoutSeconds int `mapstructure:"startup_timeout_seconds" yaml:"startup_timeout_seconds"`
	// Takeover claims the session when it is open elsewhere (default: true)
	Takeover bool `mapstructure:"takeover" yaml:"takeover"`
	// QRMaxRetries stops pairing after this many regenerated codes; 0 is unlimited
	QRMaxRetries int `mapstructure:"qr_max_retries" yaml:"qr_max_retries"`
	// QRExpirySeconds clears a cached pairing code after this long (default: 60)
	QRExpirySeconds int `mapstructure:"qr_expiry_seconds" yaml:"qr_expiry_seconds"`
	// InjectScript is a JS file evaluated on every page load, used to install event hooks
	InjectScript string `mapstructure:"inject_script" yaml:"inject_script"`
	// WebVersion pins the web application version served from the cache
	WebVersion string `mapstructure:"web_version" yaml:"web_version"`
	// WebVersionCache selects where pinned versions come from
	WebVersionCache WebVersionCacheConfig `mapstructure:"web_version_cache" yaml:"web_version_cache"`
}

// StartupTimeout returns StartupTimeoutSeconds as a duration
func (c *ClientConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSeconds) * time.Second
}

// QRExpiry returns QRExpirySeconds as a duration
func (c *ClientConfig) QRExpiry() time.Duration {
	return time.Duration(c.QRExpirySeconds) * time.Second
}

// WebVersionCacheConfig controls the web version cache
type WebVersionCacheConfig struct {
	// Type is none, local or remote (default: none)
	Type string `mapstructure:"type" yaml:"type"`
	// Path is the local cache directory holding <version>.html files
	Path string `mapstructure:"path" yaml:"path"`
	// RemotePath is a URL template containing {version}
	RemotePath string `mapstructure:"remote_path" yaml:"remote_path"`
}

// WebhookConfig controls HTTP event delivery
type WebhookConfig struct {
	// Enabled turns on webhook delivery; requires BaseURL (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// BaseURL receives events for sessions without an override
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// APIKey is sent in the x-api-key header when set
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// TimeoutSeconds bounds one delivery attempt (default: 10)
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// RetryMax is the number of delivery retries (default: 2)
	RetryMax int `mapstructure:"retry_max" yaml:"retry_max"`
	// SessionURLs maps a session identity to its own webhook URL
	SessionURLs map[string]string `mapstructure:"session_urls" yaml:"session_urls"`
}

// Timeout returns TimeoutSeconds as a duration
func (c *WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// URLFor resolves the webhook URL for a session: the session_urls entry,
// then the <ID>_WEBHOOK_URL environment variable, then BaseURL.
func (c *WebhookConfig) URLFor(sessionID string) string {
	if u := c.SessionURLs[sessionID]; u != "" {
		return u
	}
	// viper lowercases map keys read from files
	if u := c.SessionURLs[strings.ToLower(sessionID)]; u != "" {
		return u
	}
	if u := os.Getenv(strings.ToUpper(sessionID) + "_WEBHOOK_URL"); u != "" {
		return u
	}
	return c.BaseURL
}

// WebSocketConfig controls websocket event delivery
type WebSocketConfig struct {
	// Enabled turns on the /ws/{sessionId} endpoint (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// SendBuffer is the per-subscriber outbound queue length (default: 64)
	SendBuffer int `mapstructure:"send_buffer" yaml:"send_buffer"`
	// WriteTimeoutSeconds bounds one frame write (default: 10)
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// WriteTimeout returns WriteTimeoutSeconds as a duration
func (c *WebSocketConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// EventsConfig controls event fan-out
type EventsConfig struct {
	// Disabled lists event categories that are not forwarded. Entries may be
	// "|"-separated, e.g. WAMUX_EVENTS_DISABLED="message_ack|unread_count".
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
	// MarkSeen marks chats as seen when a message arrives (default: false)
	MarkSeen bool `mapstructure:"mark_seen" yaml:"mark_seen"`
	// MaxAttachmentSizeMB is the ceiling for media fan-out (default: 10)
	MaxAttachmentSizeMB int `mapstructure:"max_attachment_size_mb" yaml:"max_attachment_size_mb"`
}

// DisabledCategories returns the normalized disabled category names.
func (c *EventsConfig) DisabledCategories() []string {
	var out []string
	seen := make(map[string]bool)
	for _, entry := range c.Disabled {
		for _, part := range strings.FieldsFunc(entry, func(r rune) bool { return r == '|' || r == ',' }) {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// MaxAttachmentBytes returns the media ceiling in bytes
func (c *EventsConfig) MaxAttachmentBytes() int64 {
	return int64(c.MaxAttachmentSizeMB) << 20
}

// HealthConfig controls the fleet health monitor
type HealthConfig struct {
	// Enabled runs the periodic health check (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// IntervalSeconds is the time between checks (default: 60)
	IntervalSeconds int `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	// AlertOnUnpaired treats sessions waiting for pairing as unhealthy (default: false)
	AlertOnUnpaired bool `mapstructure:"alert_on_unpaired" yaml:"alert_on_unpaired"`
}

// Interval returns IntervalSeconds as a duration
func (c *HealthConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	// Addr is the listen address (default: :3000)
	Addr string `mapstructure:"addr" yaml:"addr"`
	// Metrics exposes /metrics (default: true)
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`
	// ShutdownTimeoutSeconds bounds graceful shutdown (default: 30)
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout returns ShutdownTimeoutSeconds as a duration
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Format is "json" or "text" (default: "json")
	Format string `mapstructure:"format" yaml:"format"`
	// File writes logs to a rotated file instead of stderr
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the file size that triggers rotation (default: 50)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 5)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Sessions: SessionsConfig{
			Path:                  "./sessions",
			AutoRecover:           true,
			ReleaseBrowserLock:    true,
			RestoreConcurrency:    4,
			PageWaitMs:            5000,
			EvalTimeoutMs:         5000,
			EvalRetries:           2,
			DisconnectWaitSeconds: 10,
			CloseGraceSeconds:     5,
		},
		Client: ClientConfig{
			Headless:              true,
			ExtraArgs:             []string{},
			WebURL:                "https://web.whatsapp.com/",
			StartupTimeoutSeconds: 120,
			Takeover:              true,
			QRMaxRetries:          0,
			QRExpirySeconds:       60,
			WebVersionCache: WebVersionCacheConfig{
				Type: CacheNone,
				Path: "./.wwebjs_cache",
			},
		},
		Webhook: WebhookConfig{
			Enabled:        false,
			TimeoutSeconds: 10,
			RetryMax:       2,
			SessionURLs:    map[string]string{},
		},
		WebSocket: WebSocketConfig{
			Enabled:             false,
			SendBuffer:          64,
			WriteTimeoutSeconds: 10,
		},
		Events: EventsConfig{
			Disabled:            []string{},
			MarkSeen:            false,
			MaxAttachmentSizeMB: 10,
		},
		Health: HealthConfig{
			Enabled:         true,
			IntervalSeconds: 60,
		},
		Server: ServerConfig{
			Addr:                   ":3000",
			Metrics:                true,
			ShutdownTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values on v.
func SetDefaultsOn(v *viper.Viper) {
	d := Default()

	// Sessions defaults
	v.SetDefault("sessions.path", d.Sessions.Path)
	v.SetDefault("sessions.auto_recover", d.Sessions.AutoRecover)
	v.SetDefault("sessions.release_browser_lock", d.Sessions.ReleaseBrowserLock)
	v.SetDefault("sessions.restore_concurrency", d.Sessions.RestoreConcurrency)
	v.SetDefault("sessions.page_wait_ms", d.Sessions.PageWaitMs)
	v.SetDefault("sessions.eval_timeout_ms", d.Sessions.EvalTimeoutMs)
	v.SetDefault("sessions.eval_retries", d.Sessions.EvalRetries)
	v.SetDefault("sessions.disconnect_wait_seconds", d.Sessions.DisconnectWaitSeconds)
	v.SetDefault("sessions.close_grace_seconds", d.Sessions.CloseGraceSeconds)

	// Client defaults
	v.SetDefault("client.browser_path", d.Client.BrowserPath)
	v.SetDefault("client.headless", d.Client.Headless)
	v.SetDefault("client.extra_args", d.Client.ExtraArgs)
	v.SetDefault("client.user_agent", d.Client.UserAgent)
	v.SetDefault("client.web_url", d.Client.WebURL)
	v.SetDefault("client.startup_timeout_seconds", d.Client.StartupTimeoutSeconds)
	v.SetDefault("client.takeover", d.Client.Takeover)
	v.SetDefault("client.qr_max_retries", d.Client.QRMaxRetries)
	v.SetDefault("client.qr_expiry_seconds", d.Client.QRExpirySeconds)
	v.SetDefault("client.inject_script", d.Client.InjectScript)
	v.SetDefault("client.web_version", d.Client.WebVersion)
	v.SetDefault("client.web_version_cache.type", d.Client.WebVersionCache.Type)
	v.SetDefault("client.web_version_cache.path", d.Client.WebVersionCache.Path)
	v.SetDefault("client.web_version_cache.remote_path", d.Client.WebVersionCache.RemotePath)

	// Webhook defaults
	v.SetDefault("webhook.enabled", d.Webhook.Enabled)
	v.SetDefault("webhook.base_url", d.Webhook.BaseURL)
	v.SetDefault("webhook.api_key", d.Webhook.APIKey)
	v.SetDefault("webhook.timeout_seconds", d.Webhook.TimeoutSeconds)
	v.SetDefault("webhook.retry_max", d.Webhook.RetryMax)
	v.SetDefault("webhook.session_urls", d.Webhook.SessionURLs)

	// WebSocket defaults
	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.write_timeout_seconds", d.WebSocket.WriteTimeoutSeconds)

	// Events defaults
	v.SetDefault("events.disabled", d.Events.Disabled)
	v.SetDefault("events.mark_seen", d.Events.MarkSeen)
	v.SetDefault("events.max_attachment_size_mb", d.Events.MaxAttachmentSizeMB)

	// Health defaults
	v.SetDefault("health.enabled", d.Health.Enabled)
	v.SetDefault("health.interval_seconds", d.Health.IntervalSeconds)
	v.SetDefault("health.alert_on_unpaired", d.Health.AlertOnUnpaired)

	// Server defaults
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.metrics", d.Server.Metrics)
	v.SetDefault("server.shutdown_timeout_seconds", d.Server.ShutdownTimeoutSeconds)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wamux")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wamux"
	}
	return filepath.Join(home, ".config", "wamux")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
