package sessions

import (
	"context"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/metrics"
)

// Reload closes the browser of session id and sets it up again from its
// directory. The directory is kept.
func (m *Manager) Reload(ctx context.Context, id string) (*client.Handle, error) {
	unlock := m.reg.Lock(id)
	defer unlock()

	h, ok := m.reg.Get(id)
	if !ok {
		return nil, errors.NewNotFoundError("session", id)
	}
	log := m.logger.WithSession(id)

	h.DetachRecovery()
	if err := m.adapter.CloseBrowser(ctx, h, m.cfg.CloseGrace()); err != nil {
		log.Warn("browser close during reload", "error", err)
	}
	m.unregister(h)
	m.release(h)

	log.Info("reloading session")
	return m.setupLocked(ctx, id)
}

// Delete tears down session id and removes its directory. The teardown
// follows the supplied validation: a connected session signs out, a session
// waiting for pairing is destroyed, anything else is left to die with its
// directory. The registry entry and directory are removed even when the
// teardown fails; teardown and removal errors are returned joined. An
// unregistered identity is a no-op.
func (m *Manager) Delete(ctx context.Context, id string, validation Validation) error {
	unlock := m.reg.Lock(id)
	defer unlock()

	h, ok := m.reg.Get(id)
	if !ok {
		return nil
	}
	return m.deleteLocked(ctx, h, validation)
}

func (m *Manager) deleteLocked(ctx context.Context, h *client.Handle, validation Validation) error {
	id := h.ID
	log := m.logger.WithSession(id)
	var errs []error

	h.DetachRecovery()
	if m.channels != nil {
		m.channels.Close(id)
	}

	switch {
	case validation.Success:
		if err := m.adapter.Teardown(ctx, h, true); err != nil {
			log.LogError("logout failed", err)
			errs = append(errs, err)
		}
	case validation.Message == ReasonNotConnected:
		if err := m.adapter.Teardown(ctx, h, false); err != nil {
			log.LogError("destroy failed", err)
			errs = append(errs, err)
		}
	}

	if err := m.adapter.WaitDisconnected(ctx, h, m.cfg.DisconnectWait()); err != nil {
		log.Warn("browser still connected, closing it", "error", err)
		if err := m.adapter.CloseBrowser(ctx, h, m.cfg.CloseGrace()); err != nil && !errors.IsSoft(err) {
			log.Error("browser close failed", "error", err)
			errs = append(errs, err)
		}
	}

	m.unregister(h)
	m.release(h)

	if err := m.store.Remove(id); err != nil {
		log.Error("session directory removal failed", "error", err)
		errs = append(errs, err)
	}
	metrics.SessionDeletes.Inc()
	log.Info("session deleted", "validation", string(validation.Message))

	if len(errs) > 0 {
		return errors.NewSessionError("delete incomplete", errors.Join(errs...)).WithSessionID(id)
	}
	return nil
}

// Flush validates every session on disk and deletes all of them, or only
// the inactive ones when deleteOnlyInactive is set. Each identity is
// validated and deleted under its lock, so a session that a concurrent setup
// or recovery brings back is judged by its new state. Directories without a
// registry entry are removed only when flushing everything; otherwise they
// stay for the next restore. Failures do not stop the flush; they are
// returned joined.
func (m *Manager) Flush(ctx context.Context, deleteOnlyInactive bool) error {
	ids, err := m.store.List()
	if err != nil {
		return errors.Wrapf(err, "list sessions")
	}

	var errs []error
	flushed := 0
	for _, id := range ids {
		ok, err := m.flushOne(ctx, id, deleteOnlyInactive)
		if err != nil {
			m.logger.WithSession(id).Warn("flush failed for session", "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			flushed++
		}
	}
	m.logger.Info("sessions flushed", "found", len(ids), "flushed", flushed,
		"only_inactive", deleteOnlyInactive, "failed", len(errs))
	return errors.Join(errs...)
}

// flushOne reports whether id was removed.
func (m *Manager) flushOne(ctx context.Context, id string, onlyInactive bool) (bool, error) {
	unlock := m.reg.Lock(id)
	defer unlock()

	h, ok := m.reg.Get(id)
	if !ok {
		if onlyInactive {
			return false, nil
		}
		if err := m.store.Remove(id); err != nil {
			return false, errors.NewSessionError("remove orphaned directory", err).WithSessionID(id)
		}
		m.logger.WithSession(id).Info("orphaned session directory removed")
		return true, nil
	}

	v := m.Validate(ctx, id)
	if onlyInactive && v.Success {
		return false, nil
	}
	return true, m.deleteLocked(ctx, h, v)
}
