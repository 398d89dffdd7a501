package chrome

import (
	"github.com/Iron-Ham/wamux/internal/client"
)

// probeScript reads what the page shows: the pairing code, whether the
// chat list is visible, the application state and its version.
const probeScript = `(() => {
  const ref = document.querySelector('div[data-ref]');
  const appState = window.Store && window.Store.AppState ? window.Store.AppState.state : '';
  const version = window.Debug && window.Debug.VERSION ? String(window.Debug.VERSION) : '';
  return {
    qr: ref ? ref.getAttribute('data-ref') || '' : '',
    paired: !!document.querySelector('#pane-side'),
    state: appState || '',
    version: version,
  };
})()`

// stateScript returns the application state, inferring it from the DOM
// when the application store is not reachable.
const stateScript = `(() => {
  if (window.Store && window.Store.AppState && window.Store.AppState.state) return window.Store.AppState.state;
  if (document.querySelector('#pane-side')) return 'CONNECTED';
  if (document.querySelector('div[data-ref]')) return 'UNPAIRED';
  return 'OPENING';
})()`

const takeoverScript = `(() => {
  const s = window.Store && window.Store.AppState;
  if (s && s.state === 'CONFLICT' && typeof s.takeover === 'function') { s.takeover(); return true; }
  return false;
})()`

const logoutScript = `(async () => {
  const s = window.Store && window.Store.AppState;
  if (s && typeof s.logout === 'function') { await s.logout(); return true; }
  return false;
})()`

// ReasonMaxQRRetries is the disconnect reason once pairing gives up.
const ReasonMaxQRRetries = "max qrcode retries reached"

// probe is one probeScript result.
type probe struct {
	QR      string `json:"qr"`
	Paired  bool   `json:"paired"`
	State   string `json:"state"`
	Version string `json:"version"`
}

// outcome is what the watcher must do after observing a probe.
type outcome struct {
	events   []client.Event
	giveUp   bool
	takeover bool
	// ready is set on the observation that first saw the session paired.
	ready bool
}

// pairing turns successive probes into lifecycle events.
type pairing struct {
	maxQR    int
	takeover bool

	lastQR string
	issued int
	paired bool
	state  string
	gaveUp bool
}

func (p *pairing) observe(pr probe) outcome {
	var out outcome
	if p.gaveUp {
		return out
	}

	if pr.State != "" && pr.State != p.state {
		p.state = pr.State
		out.events = append(out.events, client.StateChanged{State: client.State(pr.State)})
		if p.takeover && client.State(pr.State) == client.StateConflict {
			out.takeover = true
		}
	}

	switch {
	case pr.Paired && !p.paired:
		p.paired = true
		p.lastQR = ""
		out.events = append(out.events, client.Authenticated{}, client.Ready{})
		out.ready = true

	case !pr.Paired && pr.QR != "":
		if p.paired {
			// the phone unlinked the device
			p.paired = false
			out.events = append(out.events, client.Disconnected{Reason: "LOGOUT"})
		}
		if pr.QR == p.lastQR {
			break
		}
		p.lastQR = pr.QR
		p.issued++
		if p.maxQR > 0 && p.issued > p.maxQR {
			p.gaveUp = true
			out.giveUp = true
			out.events = append(out.events, client.Disconnected{Reason: ReasonMaxQRRetries})
			break
		}
		out.events = append(out.events, client.QREvent{Code: pr.QR})
	}
	return out
}

// settled reports whether startup can return: a code is shown or the
// session is paired.
func (p *pairing) settled() bool {
	return p.paired || p.lastQR != "" || p.gaveUp
}
