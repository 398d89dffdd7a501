package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/Iron-Ham/wamux/internal/client"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "sessions.restore_concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// ValidCacheTypes returns the list of valid web version cache strategies
func ValidCacheTypes() []string {
	return []string{CacheNone, CacheLocal, CacheRemote}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateSessions()...)
	errs = append(errs, c.validateClient()...)
	errs = append(errs, c.validateWebhook()...)
	errs = append(errs, c.validateWebSocket()...)
	errs = append(errs, c.validateEvents()...)
	errs = append(errs, c.validateHealth()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func positive(field string, v int) []ValidationError {
	if v <= 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
	}
	return nil
}

func nonNegative(field string, v int) []ValidationError {
	if v < 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be non-negative"}}
	}
	return nil
}

func oneOf(field, v string, valid []string) []ValidationError {
	if !slices.Contains(valid, v) {
		return []ValidationError{{
			Field:   field,
			Value:   v,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
		}}
	}
	return nil
}

func httpURL(field, v string) []ValidationError {
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []ValidationError{{Field: field, Value: v, Message: "must be an absolute http(s) URL"}}
	}
	return nil
}

func (c *Config) validateSessions() []ValidationError {
	var errs []ValidationError
	s := c.Sessions

	if strings.TrimSpace(s.Path) == "" {
		errs = append(errs, ValidationError{Field: "sessions.path", Value: s.Path, Message: "must not be empty"})
	}
	errs = append(errs, positive("sessions.restore_concurrency", s.RestoreConcurrency)...)
	errs = append(errs, positive("sessions.page_wait_ms", s.PageWaitMs)...)
	errs = append(errs, positive("sessions.eval_timeout_ms", s.EvalTimeoutMs)...)
	errs = append(errs, nonNegative("sessions.eval_retries", s.EvalRetries)...)
	errs = append(errs, positive("sessions.disconnect_wait_seconds", s.DisconnectWaitSeconds)...)
	errs = append(errs, positive("sessions.close_grace_seconds", s.CloseGraceSeconds)...)

	const maxRestoreConcurrency = 64
	if s.RestoreConcurrency > maxRestoreConcurrency {
		errs = append(errs, ValidationError{
			Field:   "sessions.restore_concurrency",
			Value:   s.RestoreConcurrency,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRestoreConcurrency),
		})
	}
	return errs
}

func (c *Config) validateClient() []ValidationError {
	var errs []ValidationError
	cl := c.Client

	errs = append(errs, httpURL("client.web_url", cl.WebURL)...)
	errs = append(errs, positive("client.startup_timeout_seconds", cl.StartupTimeoutSeconds)...)
	errs = append(errs, nonNegative("client.qr_max_retries", cl.QRMaxRetries)...)
	errs = append(errs, positive("client.qr_expiry_seconds", cl.QRExpirySeconds)...)

	cache := cl.WebVersionCache
	errs = append(errs, oneOf("client.web_version_cache.type", cache.Type, ValidCacheTypes())...)
	switch cache.Type {
	case CacheLocal:
		if cache.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "client.web_version_cache.path",
				Value:   cache.Path,
				Message: "is required for the local cache",
			})
		}
	case CacheRemote:
		if !strings.Contains(cache.RemotePath, "{version}") {
			errs = append(errs, ValidationError{
				Field:   "client.web_version_cache.remote_path",
				Value:   cache.RemotePath,
				Message: "must contain the {version} placeholder",
			})
		}
		if cl.WebVersion == "" {
			errs = append(errs, ValidationError{
				Field:   "client.web_version",
				Value:   cl.WebVersion,
				Message: "is required for the remote cache",
			})
		}
	}
	return errs
}

func (c *Config) validateWebhook() []ValidationError {
	var errs []ValidationError
	w := c.Webhook

	if w.Enabled {
		errs = append(errs, httpURL("webhook.base_url", w.BaseURL)...)
	}
	for id, u := range w.SessionURLs {
		errs = append(errs, httpURL("webhook.session_urls."+id, u)...)
	}
	errs = append(errs, positive("webhook.timeout_seconds", w.TimeoutSeconds)...)
	errs = append(errs, nonNegative("webhook.retry_max", w.RetryMax)...)
	return errs
}

func (c *Config) validateWebSocket() []ValidationError {
	var errs []ValidationError
	errs = append(errs, positive("websocket.send_buffer", c.WebSocket.SendBuffer)...)
	errs = append(errs, positive("websocket.write_timeout_seconds", c.WebSocket.WriteTimeoutSeconds)...)
	return errs
}

func (c *Config) validateEvents() []ValidationError {
	var errs []ValidationError
	for _, name := range c.Events.DisabledCategories() {
		if !client.KnownCategory(name) {
			errs = append(errs, ValidationError{
				Field:   "events.disabled",
				Value:   name,
				Message: "unknown event category",
			})
		}
	}
	errs = append(errs, nonNegative("events.max_attachment_size_mb", c.Events.MaxAttachmentSizeMB)...)
	return errs
}

func (c *Config) validateHealth() []ValidationError {
	if !c.Health.Enabled {
		return nil
	}
	return positive("health.interval_seconds", c.Health.IntervalSeconds)
}

func (c *Config) validateServer() []ValidationError {
	var errs []ValidationError
	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Value: c.Server.Addr, Message: "must not be empty"})
	}
	errs = append(errs, positive("server.shutdown_timeout_seconds", c.Server.ShutdownTimeoutSeconds)...)
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	l := c.Logging

	if l.Level != "" {
		errs = append(errs, oneOf("logging.level", strings.ToLower(l.Level), ValidLogLevels())...)
	}
	if l.Format != "" {
		errs = append(errs, oneOf("logging.format", strings.ToLower(l.Format), ValidLogFormats())...)
	}
	if l.File != "" {
		errs = append(errs, positive("logging.max_size_mb", l.MaxSizeMB)...)
		errs = append(errs, nonNegative("logging.max_backups", l.MaxBackups)...)
	}
	return errs
}
