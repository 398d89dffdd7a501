// Package qr caches the current pairing code of a session and expires it.
package qr

import (
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/metrics"
)

// DefaultExpiry is how long a pairing code stays cached.
const DefaultExpiry = 60 * time.Second

// ImageSize is the edge length of rendered PNGs in pixels.
const ImageSize = 256

// Tracker renders pairing codes onto handles and arms their expiry.
type Tracker struct {
	expiry time.Duration
	logger *logging.Logger
}

// New creates a Tracker. A non-positive expiry uses DefaultExpiry.
func New(expiry time.Duration, logger *logging.Logger) *Tracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Tracker{expiry: expiry, logger: logger.WithComponent("qr")}
}

// Render encodes code as a PNG.
func Render(code string) ([]byte, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, ImageSize)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// Issue caches code and its image on h, replacing any previous code, and
// arms a timer that clears them after the expiry. A render failure still
// caches the code without an image.
func (t *Tracker) Issue(h *client.Handle, code string) {
	log := t.logger.WithSession(h.ID)
	img, err := Render(code)
	if err != nil {
		log.Warn("failed to render pairing code", "error", err)
	}

	h.UpdateQR(func(q *client.QRState) {
		if q.Timer != nil {
			q.Timer.Stop()
		}
		q.Generation++
		gen := q.Generation
		q.Code, q.Image = code, img
		q.Timer = time.AfterFunc(t.expiry, func() { t.expire(h, gen) })
	})
	metrics.QRIssued.Inc()
	log.Info("pairing code issued")
}

func (t *Tracker) expire(h *client.Handle, gen uint64) {
	expired := false
	h.UpdateQR(func(q *client.QRState) {
		if q.Generation != gen || q.Code == "" {
			return
		}
		q.Reset()
		expired = true
	})
	if expired {
		t.logger.WithSession(h.ID).Info("pairing code expired", "after", t.expiry.String())
	}
}

// Clear drops the cached code and stops its timer.
func (t *Tracker) Clear(h *client.Handle) {
	h.UpdateQR(func(q *client.QRState) {
		q.Generation++
		q.Reset()
	})
}
