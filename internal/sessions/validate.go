package sessions

import (
	"context"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/metrics"
)

// Reason explains a Validation outcome. Unexpected failures carry the error
// text instead of one of the constants.
type Reason string

const (
	ReasonNotFound     Reason = "session_not_found"
	ReasonTabClosed    Reason = "browser_tab_closed"
	ReasonClosed       Reason = "session_closed"
	ReasonNotConnected Reason = "session_not_connected"
	ReasonConnected    Reason = "session_connected"
)

// Validation is the liveness verdict for one session.
type Validation struct {
	Success bool          `json:"success"`
	State   *client.State `json:"state"`
	Message Reason        `json:"message"`
}

// livenessProbe is evaluated in the page to prove it still executes script.
const livenessProbe = "1"

// Validate probes session id. It never fails; every outcome is a
// Validation.
func (m *Manager) Validate(ctx context.Context, id string) Validation {
	v := m.validate(ctx, id)
	label := string(v.Message)
	switch v.Message {
	case ReasonNotFound, ReasonTabClosed, ReasonClosed, ReasonNotConnected, ReasonConnected:
	default:
		label = "error"
	}
	metrics.SessionValidations.WithLabelValues(label).Inc()
	return v
}

func (m *Manager) validate(ctx context.Context, id string) Validation {
	h, ok := m.reg.Get(id)
	if !ok {
		return Validation{Message: ReasonNotFound}
	}

	page, err := m.adapter.WaitPage(ctx, h, m.cfg.PageWait())
	if err != nil || page.IsClosed() {
		return Validation{Message: ReasonTabClosed}
	}

	if !m.evaluate(ctx, id, page) {
		return Validation{Message: ReasonClosed}
	}

	state, err := m.adapter.State(ctx, h)
	if err != nil {
		m.logger.WithSession(id).Warn("state query failed", "error", err)
		return Validation{Message: Reason(err.Error())}
	}
	if state != client.StateConnected {
		return Validation{State: &state, Message: ReasonNotConnected}
	}
	return Validation{Success: true, State: &state, Message: ReasonConnected}
}

// evaluate runs the liveness probe up to 1+EvalRetries times. A timed-out
// attempt counts as a failure.
func (m *Manager) evaluate(ctx context.Context, id string, page client.Page) bool {
	attempts := 1 + max(m.cfg.EvalRetries, 0)
	for i := 0; i < attempts; i++ {
		evalCtx, cancel := context.WithTimeout(ctx, m.cfg.EvalTimeout())
		var out int
		err := page.Evaluate(evalCtx, livenessProbe, &out)
		cancel()
		if err == nil {
			return true
		}
		m.logger.WithSession(id).Debug("liveness probe failed", "attempt", i+1, "error", err)
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}
