// Package health periodically validates every live session and notifies
// the delivery channels when a session becomes unhealthy or recovers.
// Alert state is kept as flag files next to the session directories so a
// restart does not repeat an alert that was already sent.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/events"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/metrics"
	"github.com/Iron-Ham/wamux/internal/registry"
	"github.com/Iron-Ham/wamux/internal/sessions"
	"github.com/Iron-Ham/wamux/internal/store"
)

// FlagDir is the directory under the sessions root holding alert flags.
const FlagDir = ".health"

const flagSuffix = ".unhealthy"

// Status is the health of one session.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusRecovered Status = "recovered"
	StatusPairing   Status = "pairing"
)

// Notice is the payload of a health event.
type Notice struct {
	Status Status          `json:"status"`
	Reason sessions.Reason `json:"reason"`
	State  *client.State   `json:"state"`
	Since  time.Time       `json:"since"`
}

// Validator is the part of the session manager the monitor needs.
type Validator interface {
	Validate(ctx context.Context, id string) sessions.Validation
	Registry() registry.Reader
}

// Notifier delivers health events.
type Notifier interface {
	Dispatch(sessionID string, category client.Category, payload any)
}

// Options configures a Monitor.
type Options struct {
	Config    config.HealthConfig
	Store     *store.Store
	Validator Validator
	Notifier  Notifier
	// Oracle, when set, gates delivery of health events. Flags are kept
	// either way.
	Oracle events.Oracle
	Logger *logging.Logger
}

// Monitor runs the health checks.
type Monitor struct {
	opts   Options
	dir    string
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{
		opts:   opts,
		dir:    filepath.Join(opts.Store.Root(), FlagDir),
		logger: logger.WithComponent("health"),
		now:    time.Now,
	}
}

// Run checks every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.opts.Config.Interval()
	if interval <= 0 {
		return fmt.Errorf("health interval must be positive, got %s", interval)
	}
	m.logger.Info("health monitor started", "interval", interval.String())

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return nil
		case <-tick.C:
			m.Check(ctx)
		}
	}
}

// Check validates every registered session once and returns their status.
func (m *Monitor) Check(ctx context.Context) map[string]Status {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		m.logger.Error("cannot create health flag directory", "error", err)
	}

	ids := m.opts.Validator.Registry().IDs()
	report := make(map[string]Status, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		report[id] = m.checkOne(ctx, id)
	}
	m.pruneFlags()
	return report
}

func (m *Monitor) checkOne(ctx context.Context, id string) Status {
	log := m.logger.WithSession(id)
	v := m.opts.Validator.Validate(ctx, id)
	since, flagged := m.readFlag(id)

	switch {
	case v.Success:
		if !flagged {
			return StatusHealthy
		}
		log.Info("session recovered", "unhealthy_since", since)
		m.notify(ctx, id, Notice{Status: StatusRecovered, Reason: v.Message, State: v.State, Since: since})
		m.removeFlag(id)
		return StatusRecovered

	case v.Message == sessions.ReasonNotConnected && !m.opts.Config.AlertOnUnpaired:
		log.Debug("session waiting for pairing")
		return StatusPairing

	default:
		if flagged {
			return StatusUnhealthy
		}
		now := m.now()
		log.Warn("session unhealthy", "reason", string(v.Message))
		m.notify(ctx, id, Notice{Status: StatusUnhealthy, Reason: v.Message, State: v.State, Since: now})
		m.writeFlag(id, now)
		return StatusUnhealthy
	}
}

func (m *Monitor) notify(ctx context.Context, id string, n Notice) {
	metrics.HealthAlerts.WithLabelValues(string(n.Status)).Inc()
	if m.opts.Notifier == nil {
		return
	}
	if m.opts.Oracle != nil && !m.opts.Oracle.Enabled(ctx, client.CategoryHealth) {
		return
	}
	m.opts.Notifier.Dispatch(id, client.CategoryHealth, n)
}

func (m *Monitor) flagPath(id string) string {
	return filepath.Join(m.dir, id+flagSuffix)
}

func (m *Monitor) readFlag(id string) (time.Time, bool) {
	return readFlagFile(m.flagPath(id))
}

// Flagged reports whether session id under root is flagged unhealthy and
// since when. The time is zero when the flag is unreadable.
func Flagged(root, id string) (time.Time, bool) {
	return readFlagFile(filepath.Join(root, FlagDir, id+flagSuffix))
}

func readFlagFile(path string) (time.Time, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	since, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, true
	}
	return since, true
}

// writeFlag records the alert. A failed write is logged; the alert was
// already sent.
func (m *Monitor) writeFlag(id string, since time.Time) {
	if err := os.WriteFile(m.flagPath(id), []byte(since.UTC().Format(time.RFC3339)), 0o644); err != nil {
		m.logger.WithSession(id).Error("cannot write health flag", "error", err)
	}
}

func (m *Monitor) removeFlag(id string) {
	if err := os.Remove(m.flagPath(id)); err != nil && !os.IsNotExist(err) {
		m.logger.WithSession(id).Error("cannot remove health flag", "error", err)
	}
}

// pruneFlags drops flags of sessions whose directory is gone.
func (m *Monitor) pruneFlags() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), flagSuffix)
		if !ok || e.IsDir() {
			continue
		}
		if !m.opts.Store.Exists(id) {
			m.removeFlag(id)
		}
	}
}
