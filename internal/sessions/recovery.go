package sessions

import (
	"context"
	"time"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/metrics"
)

// recoveryTimeout bounds one re-setup after a crash.
const recoveryTimeout = 3 * time.Minute

func (m *Manager) attachRecovery(h *client.Handle) {
	stream := h.Client.Events()
	for _, sig := range []client.Category{client.SignalPageClose, client.SignalPageError} {
		id := stream.On(sig, func(ev client.Event) { m.onPageSignal(h, ev) })
		h.TrackRecovery(id)
	}
}

// onPageSignal starts exactly one recovery per handle, however many close
// and error signals arrive.
func (m *Manager) onPageSignal(h *client.Handle, ev client.Event) {
	if m.closing.Load() || !h.BeginRecovery() {
		return
	}
	h.DetachRecovery()

	reason := ""
	if sig, ok := ev.(client.PageSignal); ok {
		reason = sig.Reason
	}
	m.logger.WithSession(h.ID).Warn("browser page lost, recovering session",
		"signal", string(ev.Category()), "reason", reason)

	m.recoveries.Go(func() { m.recover(h) })
}

func (m *Manager) recover(h *client.Handle) {
	log := m.logger.WithSession(h.ID)
	unlock := m.reg.Lock(h.ID)
	defer unlock()

	if m.closing.Load() {
		return
	}
	if cur, ok := m.reg.Get(h.ID); !ok || cur != h {
		log.Debug("session replaced before recovery, skipping")
		return
	}

	m.unregister(h)
	m.release(h)

	ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancel()
	if err := m.adapter.Teardown(ctx, h, false); err != nil {
		log.Debug("destroy crashed client", "error", err)
	}

	metrics.SessionRecoveries.Inc()
	_, err := m.setupLocked(ctx, h.ID)
	if err != nil && errors.IsRetryable(err) && !m.closing.Load() && ctx.Err() == nil {
		log.Warn("session recovery failed, retrying once", "error", err)
		_, err = m.setupLocked(ctx, h.ID)
	}
	if err != nil {
		log.LogError("session recovery failed", err)
		return
	}
	log.Info("session recovered")
}
