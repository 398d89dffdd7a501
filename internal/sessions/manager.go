// Package sessions owns the lifecycle of every messaging session in the
// process: setup, restore at startup, liveness validation, crash recovery,
// reload, deletion and shutdown. Operations on the same identity are
// serialized; different identities proceed concurrently.
package sessions

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/events"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/metrics"
	"github.com/Iron-Ham/wamux/internal/registry"
	"github.com/Iron-Ham/wamux/internal/store"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID checks that id is a usable session identity.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return errors.NewValidationError("session id may only contain letters, digits, '_' and '-'").
			WithField("session_id").WithValue(id)
	}
	return nil
}

// Options configures a Manager.
type Options struct {
	Config  config.SessionsConfig
	Store   *store.Store
	Adapter *client.Adapter
	Gate    *events.Gate
	// Registry defaults to a new empty registry.
	Registry *registry.Registry
	// Channels, when set, is opened on setup and closed on delete.
	Channels events.Channels
	Logger   *logging.Logger
}

// Manager orchestrates session lifecycles.
type Manager struct {
	cfg      config.SessionsConfig
	store    *store.Store
	adapter  *client.Adapter
	gate     *events.Gate
	reg      *registry.Registry
	channels events.Channels
	logger   *logging.Logger

	// recoveries tracks in-flight crash recoveries.
	recoveries conc.WaitGroup
	closing    atomic.Bool
}

// New creates a Manager.
func New(opts Options) *Manager {
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		cfg:      opts.Config,
		store:    opts.Store,
		adapter:  opts.Adapter,
		gate:     opts.Gate,
		reg:      reg,
		channels: opts.Channels,
		logger:   logger.WithComponent("sessions"),
	}
}

// Registry returns a read-only view of the live sessions.
func (m *Manager) Registry() registry.Reader { return m.reg }

// QR returns the cached pairing code and PNG of session id.
func (m *Manager) QR(id string) (code string, png []byte, ok bool) {
	h, found := m.reg.Get(id)
	if !found {
		return "", nil, false
	}
	return h.QR()
}

// Setup creates and registers session id. If it already exists the live
// handle is returned together with an AlreadyExistsError.
func (m *Manager) Setup(ctx context.Context, id string) (*client.Handle, error) {
	if err := ValidateID(id); err != nil {
		metrics.ObserveSetup(metrics.ResultFailed, time.Now())
		return nil, err
	}
	unlock := m.reg.Lock(id)
	defer unlock()
	return m.setupLocked(ctx, id)
}

func (m *Manager) setupLocked(ctx context.Context, id string) (*client.Handle, error) {
	started := time.Now()
	log := m.logger.WithSession(id)

	if h, ok := m.reg.Get(id); ok {
		metrics.ObserveSetup(metrics.ResultExists, started)
		return h, errors.NewAlreadyExistsError("session", id)
	}

	if err := m.store.EnsureRoot(); err != nil {
		metrics.ObserveSetup(metrics.ResultFailed, started)
		return nil, errors.NewSessionError("setup failed", err).WithSessionID(id)
	}
	if m.cfg.ReleaseBrowserLock {
		if err := m.store.ReleaseBrowserLock(id); err != nil {
			log.Warn("could not release browser lock", "error", err)
		}
	}
	if m.channels != nil {
		m.channels.Open(id)
	}

	h, err := m.adapter.Initialize(ctx, id, m.store.Dir(id), func(h *client.Handle) error {
		m.gate.Attach(ctx, h)
		if m.cfg.AutoRecover {
			m.attachRecovery(h)
		}
		return nil
	})
	if err != nil {
		if h != nil {
			m.release(h)
		}
		if m.channels != nil {
			m.channels.Close(id)
		}
		metrics.ObserveSetup(metrics.ResultFailed, started)
		log.LogError("session setup failed", err)
		return nil, errors.NewSessionError("setup failed", err).WithSessionID(id).
			WithSeverity(errors.GetSeverity(err)).WithRetryable(errors.IsRetryable(err))
	}

	m.reg.Put(id, h)
	metrics.SessionsActive.Set(float64(m.reg.Len()))
	metrics.ObserveSetup(metrics.ResultOK, started)
	log.Info("session initialized", "duration", time.Since(started).String())
	return h, nil
}

// release detaches every listener and drops cached QR state.
func (m *Manager) release(h *client.Handle) {
	h.DetachAll()
	m.gate.QR().Clear(h)
}

// unregister removes h from the registry if it is still the live handle.
func (m *Manager) unregister(h *client.Handle) {
	m.reg.RemoveIf(h.ID, h)
	metrics.SessionsActive.Set(float64(m.reg.Len()))
}

// RestoreSummary reports the outcome of a restore pass.
type RestoreSummary struct {
	Restored int
	Existing int
	Failed   map[string]error
}

// Restore sets up every session found on disk. Failures are logged and
// counted; they never abort the pass.
func (m *Manager) Restore(ctx context.Context) (RestoreSummary, error) {
	summary := RestoreSummary{Failed: make(map[string]error)}
	ids, err := m.store.List()
	if err != nil {
		return summary, errors.Wrapf(err, "list sessions")
	}

	limit := m.cfg.RestoreConcurrency
	if limit <= 0 {
		limit = 1
	}
	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(limit)
	for _, id := range ids {
		id := id
		p.Go(func() {
			_, err := m.Setup(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Restored++
			case errors.Is(err, errors.ErrSessionExists):
				summary.Existing++
			default:
				summary.Failed[id] = err
				m.logger.WithSession(id).Warn("session restore failed", "error", err)
			}
		})
	}
	p.Wait()

	m.logger.Info("sessions restored",
		"found", len(ids), "restored", summary.Restored,
		"existing", summary.Existing, "failed", len(summary.Failed))
	return summary, nil
}

// Shutdown closes every live browser without signing out or removing
// directories, so the sessions are restored on the next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Store(true)
	m.waitRecoveries()

	var mu sync.Mutex
	var errs []error
	p := pool.New().WithMaxGoroutines(8)
	for id, h := range m.reg.Snapshot() {
		id, h := id, h
		p.Go(func() {
			unlock := m.reg.Lock(id)
			defer unlock()

			m.release(h)
			err := m.adapter.CloseBrowser(ctx, h, m.cfg.CloseGrace())
			m.unregister(h)
			if m.channels != nil {
				m.channels.Close(id)
			}
			if err != nil && !errors.IsSoft(err) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				m.logger.WithSession(id).Warn("browser close failed during shutdown", "error", err)
			}
		})
	}
	p.Wait()

	m.gate.Wait()
	m.logger.Info("session manager stopped")
	return errors.Join(errs...)
}

func (m *Manager) waitRecoveries() {
	if r := m.recoveries.WaitAndRecover(); r != nil {
		m.logger.Error("session recovery panicked", "panic", r.String())
	}
}
