package health

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/client/clienttest"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/registry"
	"github.com/Iron-Ham/wamux/internal/sessions"
	"github.com/Iron-Ham/wamux/internal/store"
)

type stubValidator struct {
	mu      sync.Mutex
	reg     *registry.Registry
	results map[string]sessions.Validation
}

func (s *stubValidator) Validate(_ context.Context, id string) sessions.Validation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[id]
}

func (s *stubValidator) Registry() registry.Reader { return s.reg }

func (s *stubValidator) set(id string, v sessions.Validation) {
	s.mu.Lock()
	s.results[id] = v
	s.mu.Unlock()
}

type notices struct {
	mu  sync.Mutex
	got []Notice
}

func (n *notices) Dispatch(_ string, c client.Category, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c == client.CategoryHealth {
		n.got = append(n.got, payload.(Notice))
	}
}

func (n *notices) statuses() []Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Status, len(n.got))
	for i, x := range n.got {
		out[i] = x.Status
	}
	return out
}

type denyAll struct{}

func (denyAll) Enabled(context.Context, client.Category) bool { return false }

var (
	connected = sessions.Validation{Success: true, Message: sessions.ReasonConnected}
	closed    = sessions.Validation{Message: sessions.ReasonClosed}
	unpaired  = sessions.Validation{Message: sessions.ReasonNotConnected}
)

func newMonitor(t *testing.T, cfg config.HealthConfig, ids ...string) (*Monitor, *stubValidator, *notices, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)

	v := &stubValidator{reg: registry.New(), results: map[string]sessions.Validation{}}
	for _, id := range ids {
		require.NoError(t, os.MkdirAll(st.Dir(id), 0o755))
		v.reg.Put(id, client.NewHandle(id, clienttest.NewFake(id, st.Dir(id))))
		v.results[id] = connected
	}
	n := &notices{}
	m := New(Options{Config: cfg, Store: st, Validator: v, Notifier: n})
	return m, v, n, st
}

func TestMonitor_AlertIsEdgeTriggered(t *testing.T) {
	m, v, n, _ := newMonitor(t, config.HealthConfig{}, "alice")
	ctx := context.Background()

	assert.Equal(t, map[string]Status{"alice": StatusHealthy}, m.Check(ctx))
	assert.Empty(t, n.statuses())

	v.set("alice", closed)
	assert.Equal(t, StatusUnhealthy, m.Check(ctx)["alice"])
	assert.Equal(t, StatusUnhealthy, m.Check(ctx)["alice"])
	assert.Equal(t, []Status{StatusUnhealthy}, n.statuses(), "one alert per transition")
	assert.FileExists(t, m.flagPath("alice"))

	v.set("alice", connected)
	assert.Equal(t, StatusRecovered, m.Check(ctx)["alice"])
	assert.Equal(t, StatusHealthy, m.Check(ctx)["alice"])
	assert.Equal(t, []Status{StatusUnhealthy, StatusRecovered}, n.statuses())
	assert.NoFileExists(t, m.flagPath("alice"))
}

func TestMonitor_FlagSurvivesRestart(t *testing.T) {
	m, v, n, st := newMonitor(t, config.HealthConfig{}, "alice")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	v.set("alice", closed)
	m.Check(context.Background())

	since, flagged := Flagged(st.Root(), "alice")
	assert.True(t, flagged)
	assert.Equal(t, fixed, since)

	restarted := New(Options{Store: st, Validator: v, Notifier: n})
	restarted.Check(context.Background())
	assert.Len(t, n.statuses(), 1, "restart must not re-alert")

	v.set("alice", connected)
	restarted.Check(context.Background())
	require.Len(t, n.got, 2)
	assert.Equal(t, fixed, n.got[1].Since)
}

func TestMonitor_Pairing(t *testing.T) {
	t.Run("not alerted by default", func(t *testing.T) {
		m, v, n, _ := newMonitor(t, config.HealthConfig{}, "alice")
		v.set("alice", unpaired)
		assert.Equal(t, StatusPairing, m.Check(context.Background())["alice"])
		assert.Empty(t, n.statuses())
	})

	t.Run("alerted when configured", func(t *testing.T) {
		m, v, n, _ := newMonitor(t, config.HealthConfig{AlertOnUnpaired: true}, "alice")
		v.set("alice", unpaired)
		assert.Equal(t, StatusUnhealthy, m.Check(context.Background())["alice"])
		assert.Equal(t, []Status{StatusUnhealthy}, n.statuses())
	})
}

func TestMonitor_NoticePayload(t *testing.T) {
	m, v, n, _ := newMonitor(t, config.HealthConfig{}, "alice")
	m.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	state := client.StateTimeout
	v.set("alice", sessions.Validation{State: &state, Message: sessions.ReasonClosed})

	m.Check(context.Background())
	require.Len(t, n.got, 1)
	raw, err := json.Marshal(n.got[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"unhealthy","reason":"session_closed","state":"TIMEOUT","since":"2026-05-01T00:00:00Z"}`, string(raw))
}

func TestMonitor_OracleSuppressesDeliveryNotFlags(t *testing.T) {
	m, v, n, _ := newMonitor(t, config.HealthConfig{}, "alice")
	m.opts.Oracle = denyAll{}
	v.set("alice", closed)

	m.Check(context.Background())
	assert.Empty(t, n.statuses())
	assert.FileExists(t, m.flagPath("alice"))
}

func TestMonitor_PrunesFlagsOfDeletedSessions(t *testing.T) {
	m, v, _, st := newMonitor(t, config.HealthConfig{}, "alice")
	v.set("alice", closed)
	m.Check(context.Background())
	require.FileExists(t, m.flagPath("alice"))

	v.reg.Remove("alice")
	require.NoError(t, st.Remove("alice"))
	m.Check(context.Background())
	assert.NoFileExists(t, m.flagPath("alice"))
}

func TestMonitor_Run(t *testing.T) {
	m, v, n, _ := newMonitor(t, config.HealthConfig{IntervalSeconds: 1}, "alice")
	v.set("alice", closed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return len(n.statuses()) == 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestMonitor_RunRejectsZeroInterval(t *testing.T) {
	m, _, _, _ := newMonitor(t, config.HealthConfig{})
	assert.Error(t, m.Run(context.Background()))
}
