package qr

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/client/clienttest"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func newHandle() *client.Handle {
	return client.NewHandle("alice", clienttest.NewFake("alice", "/d"))
}

func TestRender(t *testing.T) {
	img, err := Render("2@abc,def,ghi")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, pngMagic))
}

func TestTracker_IssueCachesCodeAndImage(t *testing.T) {
	tr := New(time.Minute, nil)
	h := newHandle()

	tr.Issue(h, "code-1")
	code, img, ok := h.QR()
	require.True(t, ok)
	assert.Equal(t, "code-1", code)
	assert.True(t, bytes.HasPrefix(img, pngMagic))

	tr.Clear(h)
	_, _, ok = h.QR()
	assert.False(t, ok)
}

func TestTracker_Expiry(t *testing.T) {
	tr := New(30*time.Millisecond, nil)
	h := newHandle()

	tr.Issue(h, "code-1")
	require.Eventually(t, func() bool {
		_, _, ok := h.QR()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_RearmLatestWins(t *testing.T) {
	tr := New(80*time.Millisecond, nil)
	h := newHandle()

	tr.Issue(h, "code-1")
	time.Sleep(50 * time.Millisecond)
	tr.Issue(h, "code-2")

	// the first code's deadline passes; the second must survive it
	time.Sleep(50 * time.Millisecond)
	code, _, ok := h.QR()
	require.True(t, ok)
	assert.Equal(t, "code-2", code)

	require.Eventually(t, func() bool {
		_, _, ok := h.QR()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_StaleTimerDoesNotClearNewerCode(t *testing.T) {
	tr := New(time.Hour, nil)
	h := newHandle()

	tr.Issue(h, "code-1")
	var gen uint64
	h.UpdateQR(func(q *client.QRState) { gen = q.Generation })
	tr.Issue(h, "code-2")

	tr.expire(h, gen)
	code, _, ok := h.QR()
	require.True(t, ok)
	assert.Equal(t, "code-2", code)
	tr.Clear(h)
}

func TestTracker_ExpiryDoesNotDestroySession(t *testing.T) {
	tr := New(10*time.Millisecond, nil)
	fake := clienttest.NewFake("alice", "/d")
	h := client.NewHandle("alice", fake)

	tr.Issue(h, "code-1")
	time.Sleep(40 * time.Millisecond)
	logout, destroy := fake.Counts()
	assert.Zero(t, logout)
	assert.Zero(t, destroy)
}

func TestNew_DefaultExpiry(t *testing.T) {
	assert.Equal(t, DefaultExpiry, New(0, nil).expiry)
}
