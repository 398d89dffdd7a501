package chrome

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/errors"
)

func TestSplitFlag(t *testing.T) {
	tests := []struct {
		arg   string
		name  string
		value any
	}{
		{"--proxy-server=socks5://127.0.0.1:1080", "proxy-server", "socks5://127.0.0.1:1080"},
		{"--mute-audio", "mute-audio", true},
		{"-lang=en", "lang", "en"},
		{"window-size=800,600", "window-size", "800,600"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			name, value := splitFlag(tt.arg)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	base := allocatorOptions(config.ClientConfig{}, "/tmp/p")
	full := allocatorOptions(config.ClientConfig{
		BrowserPath: "/usr/bin/chromium",
		UserAgent:   "agent",
		ExtraArgs:   []string{"--mute-audio"},
	}, "/tmp/p")
	assert.Len(t, full, len(base)+3)
}

func TestNewFactoryReadsInjectScript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "hooks.js")
	require.NoError(t, os.WriteFile(script, []byte("window.__wamux.sendSeen = () => {};"), 0o644))

	factory, err := NewFactory(config.ClientConfig{InjectScript: script}, nil)
	require.NoError(t, err)
	c, err := factory("alice", t.TempDir())
	require.NoError(t, err)

	cc := c.(*Client)
	assert.Contains(t, cc.opts.InjectScript, "sendSeen")
	assert.Nil(t, c.Page())
	assert.Nil(t, c.Browser())
	require.NoError(t, c.Destroy(context.Background()))
}

func TestNewFactoryMissingInjectScript(t *testing.T) {
	_, err := NewFactory(config.ClientConfig{InjectScript: "/nonexistent/hooks.js"}, nil)
	assert.Error(t, err)
}

func TestUnlaunchedClientIsClosed(t *testing.T) {
	c := New("alice", t.TempDir(), Options{})
	defer c.Destroy(context.Background())

	_, err := c.State(context.Background())
	assert.ErrorIs(t, err, errors.ErrClientClosed)
	assert.ErrorIs(t, c.SendSeen(context.Background(), "123@c.us"), errors.ErrClientClosed)
}

func TestDetachEmitsPageCloseWithReason(t *testing.T) {
	c := New("alice", t.TempDir(), Options{})
	defer c.Destroy(context.Background())

	got := make(chan client.Event, 1)
	c.Events().On(client.SignalPageClose, func(ev client.Event) { got <- ev })

	c.onTargetEvent(&inspector.EventDetached{Reason: inspector.DetachReason("target_closed")})

	select {
	case ev := <-got:
		sig, ok := ev.(client.PageSignal)
		require.True(t, ok)
		assert.Equal(t, client.SignalPageClose, sig.Kind)
		assert.Equal(t, "target_closed", sig.Reason)
	case <-time.After(time.Second):
		t.Fatal("page close signal not emitted")
	}
}
