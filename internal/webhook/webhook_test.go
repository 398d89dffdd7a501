package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/errors"
)

type captured struct {
	header http.Header
	body   []byte
}

func capture(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func fastRetries(s *Sender) *Sender {
	s.http.RetryWaitMin = time.Millisecond
	s.http.RetryWaitMax = 5 * time.Millisecond
	return s
}

func TestSender_PayloadAndHeaders(t *testing.T) {
	srv, got := capture(t, http.StatusOK)
	s := New(config.WebhookConfig{BaseURL: srv.URL, APIKey: "secret", TimeoutSeconds: 5}, nil)

	err := s.Send(context.Background(), "alice", client.CategoryQR, client.QREvent{Code: "abc"})
	require.NoError(t, err)

	reqs := got()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"sessionId":"alice","dataType":"qr","data":{"qr":"abc"}}`, string(reqs[0].body))
	assert.Equal(t, "secret", reqs[0].header.Get(HeaderAPIKey))
	assert.Equal(t, "alice", reqs[0].header.Get(HeaderSessionID))
	assert.Equal(t, "application/json", reqs[0].header.Get("Content-Type"))
	_, err = uuid.Parse(reqs[0].header.Get(HeaderDeliveryID))
	assert.NoError(t, err)
}

func TestSender_NoAPIKeyHeaderWhenUnset(t *testing.T) {
	srv, got := capture(t, http.StatusNoContent)
	s := New(config.WebhookConfig{BaseURL: srv.URL, TimeoutSeconds: 5}, nil)

	require.NoError(t, s.Send(context.Background(), "alice", client.CategoryReady, struct{}{}))
	assert.Empty(t, got()[0].header.Values(HeaderAPIKey))
}

func TestSender_PerSessionOverride(t *testing.T) {
	base, baseGot := capture(t, http.StatusOK)
	bob, bobGot := capture(t, http.StatusOK)

	s := New(config.WebhookConfig{
		BaseURL:        base.URL,
		TimeoutSeconds: 5,
		SessionURLs:    map[string]string{"bob": bob.URL},
	}, nil)

	require.NoError(t, s.Send(context.Background(), "alice", client.CategoryReady, struct{}{}))
	require.NoError(t, s.Send(context.Background(), "bob", client.CategoryReady, struct{}{}))

	assert.Len(t, baseGot(), 1)
	require.Len(t, bobGot(), 1)

	var p Payload
	require.NoError(t, json.Unmarshal(bobGot()[0].body, &p))
	assert.Equal(t, "bob", p.SessionID)
}

func TestSender_EnvOverride(t *testing.T) {
	base, baseGot := capture(t, http.StatusOK)
	carol, carolGot := capture(t, http.StatusOK)
	t.Setenv("CAROL_WEBHOOK_URL", carol.URL)

	s := New(config.WebhookConfig{BaseURL: base.URL, TimeoutSeconds: 5}, nil)
	require.NoError(t, s.Send(context.Background(), "carol", client.CategoryReady, struct{}{}))

	assert.Empty(t, baseGot())
	assert.Len(t, carolGot(), 1)
}

func TestSender_NoURLSkips(t *testing.T) {
	s := New(config.WebhookConfig{TimeoutSeconds: 5}, nil)
	assert.NoError(t, s.Send(context.Background(), "nobody", client.CategoryReady, struct{}{}))
}

func TestSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := fastRetries(New(config.WebhookConfig{BaseURL: srv.URL, TimeoutSeconds: 5, RetryMax: 2}, nil))
	require.NoError(t, s.Send(context.Background(), "alice", client.CategoryReady, struct{}{}))
	assert.EqualValues(t, 3, calls.Load())
}

func TestSender_StatusError(t *testing.T) {
	srv, got := capture(t, http.StatusServiceUnavailable)
	s := fastRetries(New(config.WebhookConfig{BaseURL: srv.URL, TimeoutSeconds: 5, RetryMax: 1}, nil))

	err := s.Send(context.Background(), "alice", client.CategoryReady, struct{}{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Len(t, got(), 2)
}

func TestSender_ClientErrorNotRetried(t *testing.T) {
	srv, got := capture(t, http.StatusBadRequest)
	s := fastRetries(New(config.WebhookConfig{BaseURL: srv.URL, TimeoutSeconds: 5, RetryMax: 3}, nil))

	err := s.Send(context.Background(), "alice", client.CategoryReady, struct{}{})
	require.Error(t, err)
	assert.Len(t, got(), 1)
}
