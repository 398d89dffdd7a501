// Package webhook delivers session events to HTTP endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/logging"
)

// Header names set on every delivery.
const (
	HeaderAPIKey     = "x-api-key"
	HeaderDeliveryID = "x-wamux-delivery"
	HeaderSessionID  = "x-wamux-session"
)

// Payload is the JSON body of a delivery.
type Payload struct {
	SessionID string          `json:"sessionId"`
	DataType  client.Category `json:"dataType"`
	Data      any             `json:"data"`
}

// StatusError reports a non-2xx response after retries were exhausted.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s returned %d", e.URL, e.StatusCode)
}

// Sender posts events to the webhook URL configured for each session.
type Sender struct {
	cfg    config.WebhookConfig
	http   *retryablehttp.Client
	logger *logging.Logger
}

// New creates a Sender from cfg.
func New(cfg config.WebhookConfig, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("webhook")

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.HTTPClient.Timeout = cfg.Timeout()
	hc.Logger = logger
	// keep the last response once retries are exhausted
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Sender{cfg: cfg, http: hc, logger: logger}
}

// Send implements events.Dispatcher. A session without a resolvable URL is
// skipped.
func (s *Sender) Send(ctx context.Context, sessionID string, category client.Category, payload any) error {
	url := s.cfg.URLFor(sessionID)
	if url == "" {
		return nil
	}

	body, err := json.Marshal(Payload{SessionID: sessionID, DataType: category, Data: payload})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeliveryID, uuid.NewString())
	req.Header.Set(HeaderSessionID, sessionID)
	if s.cfg.APIKey != "" {
		req.Header.Set(HeaderAPIKey, s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	s.logger.Debug("webhook delivered", "session_id", sessionID, "category", string(category))
	return nil
}
