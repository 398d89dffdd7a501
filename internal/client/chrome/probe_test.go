package chrome

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Iron-Ham/wamux/internal/client"
)

func TestPairingIssuesEachNewCode(t *testing.T) {
	p := pairing{}

	out := p.observe(probe{})
	assert.Empty(t, out.events)
	assert.False(t, p.settled())

	out = p.observe(probe{QR: "code-1"})
	assert.Equal(t, []client.Event{client.QREvent{Code: "code-1"}}, out.events)
	assert.True(t, p.settled())

	out = p.observe(probe{QR: "code-1"})
	assert.Empty(t, out.events, "same code is not re-issued")

	out = p.observe(probe{QR: "code-2"})
	assert.Equal(t, []client.Event{client.QREvent{Code: "code-2"}}, out.events)
}

func TestPairingGivesUpAfterMaxCodes(t *testing.T) {
	p := pairing{maxQR: 2}
	p.observe(probe{QR: "a"})
	p.observe(probe{QR: "b"})

	out := p.observe(probe{QR: "c"})
	assert.True(t, out.giveUp)
	assert.Equal(t, []client.Event{client.Disconnected{Reason: ReasonMaxQRRetries}}, out.events)
	assert.True(t, p.settled())

	out = p.observe(probe{QR: "d"})
	assert.Empty(t, out.events)
	assert.False(t, out.giveUp, "gives up once")
}

func TestPairingUnlimitedCodes(t *testing.T) {
	p := pairing{}
	for _, code := range []string{"a", "b", "c", "d", "e"} {
		out := p.observe(probe{QR: code})
		assert.False(t, out.giveUp)
	}
}

func TestPairingPaired(t *testing.T) {
	p := pairing{}
	p.observe(probe{QR: "a"})

	out := p.observe(probe{Paired: true, State: "CONNECTED"})
	assert.True(t, out.ready)
	assert.Equal(t, []client.Event{
		client.StateChanged{State: client.StateConnected},
		client.Authenticated{},
		client.Ready{},
	}, out.events)

	out = p.observe(probe{Paired: true, State: "CONNECTED"})
	assert.Empty(t, out.events)
	assert.False(t, out.ready)
}

func TestPairingLogoutFromPhone(t *testing.T) {
	p := pairing{}
	p.observe(probe{Paired: true})

	out := p.observe(probe{QR: "fresh"})
	assert.Equal(t, []client.Event{
		client.Disconnected{Reason: "LOGOUT"},
		client.QREvent{Code: "fresh"},
	}, out.events)
}

func TestPairingTakeover(t *testing.T) {
	p := pairing{takeover: true}
	out := p.observe(probe{Paired: true, State: "CONFLICT"})
	assert.True(t, out.takeover)

	q := pairing{}
	out = q.observe(probe{Paired: true, State: "CONFLICT"})
	assert.False(t, out.takeover)
}
