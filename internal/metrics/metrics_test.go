package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSetup(t *testing.T) {
	before := testutil.ToFloat64(SessionSetups.WithLabelValues(ResultFailed))
	ObserveSetup(ResultFailed, time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(SessionSetups.WithLabelValues(ResultFailed)))
}

func TestHandler(t *testing.T) {
	EventsDispatched.WithLabelValues("message", "webhook").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.True(t, strings.Contains(string(body), `wamux_events_dispatched_total{category="message",channel="webhook"}`))
}
