package client

import (
	"context"
	"time"

	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/logging"
)

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// StartupTimeout bounds Initialize. Zero means no bound beyond ctx.
	StartupTimeout time.Duration
	// PollInterval is the probe period used by WaitPage and
	// WaitDisconnected (default: 1s).
	PollInterval time.Duration
	Logger       *logging.Logger
}

// Adapter builds clients through a Factory and exposes the lifecycle
// operations the session manager needs.
type Adapter struct {
	factory Factory
	opts    AdapterOptions
	logger  *logging.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(factory Factory, opts AdapterOptions) *Adapter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Adapter{factory: factory, opts: opts, logger: logger.WithComponent("client")}
}

// Initialize constructs the client for id, runs prepare so listeners are in
// place before the first event, then launches it. On failure the client is
// destroyed best-effort and the handle is still returned so the caller can
// release whatever prepare attached.
func (a *Adapter) Initialize(ctx context.Context, id, dir string, prepare func(*Handle) error) (*Handle, error) {
	c, err := a.factory(id, dir)
	if err != nil {
		return nil, errors.NewClientError("construct client", errors.Join(errors.ErrInitialization, err)).
			WithSessionID(id).WithOperation("initialize")
	}
	h := NewHandle(id, c)

	if prepare != nil {
		if err := prepare(h); err != nil {
			a.destroyQuietly(h)
			return h, errors.NewClientError("prepare client", errors.Join(errors.ErrInitialization, err)).
				WithSessionID(id).WithOperation("initialize")
		}
	}

	initCtx := ctx
	if a.opts.StartupTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, a.opts.StartupTimeout)
		defer cancel()
	}

	if err := c.Initialize(initCtx); err != nil {
		timedOut := initCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		if timedOut {
			err = errors.Join(err, errors.NewTimeoutError("client startup", a.opts.StartupTimeout))
		}
		a.destroyQuietly(h)
		ce := errors.NewClientError("initialize client", errors.Join(errors.ErrInitialization, err)).
			WithSessionID(id).WithOperation("initialize")
		if timedOut {
			// a slow start may succeed on a second attempt
			ce = ce.WithRetryable(true).WithSeverity(errors.SeverityWarning)
		}
		return h, ce
	}
	return h, nil
}

func (a *Adapter) destroyQuietly(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Client.Destroy(ctx); err != nil {
		a.logger.WithSession(h.ID).Debug("destroy after failed initialization", "error", err)
	}
}

// State queries the connection state.
func (a *Adapter) State(ctx context.Context, h *Handle) (State, error) {
	s, err := h.Client.State(ctx)
	if err != nil {
		return "", errors.NewClientError("query state", errors.Join(errors.ErrEvaluation, err)).
			WithSessionID(h.ID).WithOperation("state")
	}
	return s, nil
}

// WaitPage waits up to max for the client's page to exist.
func (a *Adapter) WaitPage(ctx context.Context, h *Handle, max time.Duration) (Page, error) {
	if p := h.Client.Page(); p != nil {
		return p, nil
	}
	ctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	tick := time.NewTicker(min(a.opts.PollInterval, 100*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, errors.NewTimeoutError("page wait", max)
		case <-tick.C:
			if p := h.Client.Page(); p != nil {
				return p, nil
			}
		}
	}
}

// Teardown signs out (graceful) or closes the browser (forced). A client
// whose page or process is already gone counts as torn down.
func (a *Adapter) Teardown(ctx context.Context, h *Handle, graceful bool) error {
	op := "destroy"
	var err error
	if graceful {
		op = "logout"
		err = h.Client.Logout(ctx)
	} else {
		err = h.Client.Destroy(ctx)
	}
	if err == nil || errors.Is(err, errors.ErrClientClosed) {
		return nil
	}
	return errors.NewClientError(op+" failed", errors.Join(errors.ErrTeardown, err)).
		WithSessionID(h.ID).WithOperation(op)
}

// CloseBrowser closes every page and the browser, allowing grace for the
// close to finish. If it fails or hangs the browser process tree is killed.
// A timed-out close that was followed by a successful kill reports a soft
// TimeoutError.
func (a *Adapter) CloseBrowser(ctx context.Context, h *Handle, grace time.Duration) error {
	b := h.Client.Browser()
	if b == nil {
		return nil
	}
	log := a.logger.WithSession(h.ID)
	pid := b.PID()

	closeCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if pages, err := b.Pages(closeCtx); err == nil {
			for _, p := range pages {
				if err := p.Close(closeCtx); err != nil {
					log.Debug("close page", "error", err)
				}
			}
		}
		done <- b.Close(closeCtx)
	}()

	var closeErr error
	select {
	case closeErr = <-done:
	case <-closeCtx.Done():
	}
	switch {
	case closeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		closeErr = errors.NewTimeoutError("browser close", grace).AsSoft()
		log.Warn("browser close timed out, killing process", "grace", grace.String(), "pid", pid)
	case closeErr == nil && closeCtx.Err() == nil:
		return nil
	default:
		if closeErr == nil {
			closeErr = closeCtx.Err()
		}
		log.Warn("browser close failed, killing process", "error", closeErr, "pid", pid)
	}

	if err := KillTree(context.WithoutCancel(ctx), pid); err != nil {
		return errors.NewClientError("kill browser", errors.Join(errors.ErrTeardown, closeErr, err)).
			WithSessionID(h.ID).WithOperation("close")
	}
	if errors.IsSoft(closeErr) {
		return closeErr
	}
	return nil
}

// WaitDisconnected polls until the browser reports disconnected, up to max.
// Expiry returns a soft TimeoutError.
func (a *Adapter) WaitDisconnected(ctx context.Context, h *Handle, max time.Duration) error {
	b := h.Client.Browser()
	if b == nil || !b.IsConnected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	tick := time.NewTicker(a.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.NewTimeoutError("browser disconnect", max).AsSoft()
		case <-tick.C:
			if !b.IsConnected() {
				return nil
			}
		}
	}
}
