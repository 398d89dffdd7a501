// Package chrome drives the messaging web application in a Chrome browser
// through the DevTools protocol. Each client owns one browser process whose
// profile lives in the session directory, so credentials survive restarts.
package chrome

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/logging"
)

// Options configures the clients built by a Factory.
type Options struct {
	Config config.ClientConfig
	// InjectScript is evaluated on every document after the bridge.
	InjectScript string
	Cache        WebCache
	// PollInterval is the page probe period (default: 1s).
	PollInterval time.Duration
	Logger       *logging.Logger
}

// NewFactory returns a client.Factory building Chrome clients. The inject
// script and web version cache are loaded once here.
func NewFactory(cfg config.ClientConfig, logger *logging.Logger) (client.Factory, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	opts := Options{Config: cfg, Logger: logger}
	if cfg.InjectScript != "" {
		data, err := os.ReadFile(cfg.InjectScript)
		if err != nil {
			return nil, fmt.Errorf("read inject script: %w", err)
		}
		opts.InjectScript = string(data)
	}
	cache, err := NewWebCache(cfg.WebVersionCache, logger.WithComponent("webcache"))
	if err != nil {
		return nil, err
	}
	opts.Cache = cache

	return func(sessionID, dir string) (client.Client, error) {
		return New(sessionID, dir, opts), nil
	}, nil
}

// allocatorOptions returns the browser command line for a profile dir.
func allocatorOptions(cfg config.ClientConfig, dir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserDataDir(dir),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BrowserPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.ExtraArgs {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// splitFlag turns "--name=value" into ("name", "value") and "--name" into
// ("name", true).
func splitFlag(arg string) (string, any) {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:]
		}
	}
	return arg, true
}

// Client is a client.Client backed by one Chrome process.
type Client struct {
	id   string
	dir  string
	opts Options

	events *client.Emitter
	queue  chan client.Event
	logger *logging.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tabCtx      context.Context
	page        *Page
	browser     *Browser
	pairing     pairing
	cachedHTML  []byte
	capturedDoc []byte

	// closing suppresses page signals for closes we asked for.
	closing  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an unlaunched client for session id with its profile in dir.
func New(id, dir string, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Cache == nil {
		opts.Cache = noCache{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("chrome").WithSession(id)
	c := &Client{
		id:     id,
		dir:    dir,
		opts:   opts,
		events: client.NewEmitter(logger),
		queue:  make(chan client.Event, 256),
		logger: logger,
		done:   make(chan struct{}),
		pairing: pairing{
			maxQR:    opts.Config.QRMaxRetries,
			takeover: opts.Config.Takeover,
		},
	}
	go c.deliver()
	return c
}

// deliver publishes queued events in order, off the DevTools reader.
func (c *Client) deliver() {
	for {
		select {
		case ev := <-c.queue:
			c.events.Emit(ev)
		case <-c.done:
			return
		}
	}
}

func (c *Client) emit(ev client.Event) {
	select {
	case c.queue <- ev:
	case <-c.done:
	}
}

func (c *Client) Events() *client.Emitter { return c.events }

func (c *Client) Page() client.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil
	}
	return c.page
}

func (c *Client) Browser() client.Browser {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	return c.browser
}

// Initialize launches Chrome, installs the event bridge, loads the web
// application and returns once it shows a pairing code or the chat list.
func (c *Client) Initialize(ctx context.Context) error {
	version := c.opts.Config.WebVersion
	if version != "" {
		html, err := c.opts.Cache.Resolve(ctx, version)
		if err != nil {
			c.logger.Warn("web version cache unavailable, loading live version", "version", version, "error", err)
		}
		c.cachedHTML = html
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(c.opts.Config, c.dir)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(f string, a ...any) { c.logger.Debug(fmt.Sprintf(f, a...)) }),
		chromedp.WithErrorf(func(f string, a ...any) { c.logger.Debug(fmt.Sprintf(f, a...)) }),
	)

	c.mu.Lock()
	c.allocCancel, c.tabCancel, c.tabCtx = allocCancel, tabCancel, tabCtx
	c.mu.Unlock()

	chromedp.ListenTarget(tabCtx, c.onTargetEvent)

	if err := c.launch(ctx, tabCtx); err != nil {
		c.shutdown()
		return fmt.Errorf("launch browser: %w", err)
	}

	c.mu.Lock()
	c.browser = &Browser{c: c}
	c.page = &Page{c: c}
	c.mu.Unlock()
	go c.watchExit(tabCtx)

	actions := []chromedp.Action{
		runtime.AddBinding(BindingName),
		addScript(bridgeScript),
	}
	if c.opts.InjectScript != "" {
		actions = append(actions, addScript(c.opts.InjectScript))
	}
	if patterns := c.interceptPatterns(); len(patterns) > 0 {
		actions = append(actions, fetch.Enable().WithPatterns(patterns))
	}
	actions = append(actions, chromedp.Navigate(c.opts.Config.WebURL))

	if err := c.run(ctx, actions...); err != nil {
		return fmt.Errorf("load web application: %w", err)
	}
	return c.awaitSettled(ctx)
}

// launch starts the browser. The first Run must use the tab context itself:
// a derived context would bound the browser's lifetime.
func (c *Client) launch(ctx context.Context, tabCtx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func addScript(source string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	})
}

func (c *Client) interceptPatterns() []*fetch.RequestPattern {
	url := c.opts.Config.WebURL + "*"
	switch {
	case c.cachedHTML != nil:
		return []*fetch.RequestPattern{{URLPattern: url, ResourceType: network.ResourceTypeDocument, RequestStage: fetch.RequestStageRequest}}
	case isPersistent(c.opts.Cache):
		return []*fetch.RequestPattern{{URLPattern: url, ResourceType: network.ResourceTypeDocument, RequestStage: fetch.RequestStageResponse}}
	}
	return nil
}

func isPersistent(cache WebCache) bool {
	_, ok := cache.(*LocalCache)
	return ok
}

// awaitSettled probes the page until it shows a pairing code or the chat
// list, then hands probing to the background watcher.
func (c *Client) awaitSettled(ctx context.Context) error {
	tick := time.NewTicker(c.opts.PollInterval)
	defer tick.Stop()
	for {
		if c.probeOnce(ctx) {
			go c.watch()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// probeOnce evaluates the probe and applies its outcome. It reports whether
// startup has settled.
func (c *Client) probeOnce(ctx context.Context) bool {
	var pr probe
	if err := c.run(ctx, chromedp.Evaluate(probeScript, &pr)); err != nil {
		c.logger.Debug("page probe failed", "error", err)
		return false
	}

	c.mu.Lock()
	out := c.pairing.observe(pr)
	settled := c.pairing.settled()
	c.mu.Unlock()

	for _, ev := range out.events {
		c.emit(ev)
	}
	if out.takeover {
		var ok bool
		if err := c.run(ctx, chromedp.Evaluate(takeoverScript, &ok)); err != nil {
			c.logger.Warn("takeover failed", "error", err)
		} else if ok {
			c.logger.Info("took over session open elsewhere")
		}
	}
	if out.ready && pr.Version != "" {
		c.persistDocument(pr.Version)
	}
	if out.giveUp {
		c.logger.Warn("pairing abandoned", "reason", ReasonMaxQRRetries)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = c.Destroy(ctx)
		}()
	}
	return settled
}

// watch keeps probing until the browser goes away.
func (c *Client) watch() {
	c.mu.Lock()
	tabCtx := c.tabCtx
	c.mu.Unlock()

	tick := time.NewTicker(c.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-tabCtx.Done():
			return
		case <-tick.C:
			ctx, cancel := context.WithTimeout(tabCtx, 10*time.Second)
			c.probeOnce(ctx)
			cancel()
		}
	}
}

func (c *Client) persistDocument(version string) {
	c.mu.Lock()
	doc := c.capturedDoc
	c.capturedDoc = nil
	c.mu.Unlock()
	if doc == nil {
		return
	}
	if err := c.opts.Cache.Persist(version, doc); err != nil {
		c.logger.Warn("could not cache web version", "version", version, "error", err)
	}
}

// watchExit reports the browser going away without being asked to.
func (c *Client) watchExit(tabCtx context.Context) {
	<-tabCtx.Done()
	c.mu.Lock()
	p, b := c.page, c.browser
	c.mu.Unlock()
	if p != nil {
		p.closed.Store(true)
	}
	if b != nil {
		b.disconnected.Store(true)
	}
	if !c.closing.Load() {
		c.emit(client.PageSignal{Kind: client.SignalPageClose, Reason: "browser exited", At: time.Now()})
	}
}

func (c *Client) onTargetEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != BindingName {
			return
		}
		decoded, err := decodeBinding(e.Payload)
		if err != nil {
			c.logger.Warn("dropping bridge event", "error", err)
			return
		}
		c.emit(decoded)

	case *inspector.EventTargetCrashed:
		c.markPageClosed()
		c.emit(client.PageSignal{Kind: client.SignalPageError, Reason: "target crashed", At: time.Now()})

	case *inspector.EventDetached:
		c.markPageClosed()
		if !c.closing.Load() {
			c.emit(client.PageSignal{Kind: client.SignalPageClose, Reason: string(e.Reason), At: time.Now()})
		}

	case *fetch.EventRequestPaused:
		go c.onRequestPaused(e)
	}
}

func (c *Client) markPageClosed() {
	c.mu.Lock()
	p := c.page
	c.mu.Unlock()
	if p != nil {
		p.closed.Store(true)
	}
}

// onRequestPaused serves the pinned document from the cache, or captures
// the live document for the local cache.
func (c *Client) onRequestPaused(e *fetch.EventRequestPaused) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c.mu.Lock()
	cached := c.cachedHTML
	c.mu.Unlock()

	var action chromedp.Action
	switch {
	case e.ResponseStatusCode == 0 && cached != nil:
		action = fetch.FulfillRequest(e.RequestID, 200).
			WithResponseHeaders([]*fetch.HeaderEntry{{Name: "Content-Type", Value: "text/html; charset=utf-8"}}).
			WithBody(base64.StdEncoding.EncodeToString(cached))
	case e.ResponseStatusCode == 200:
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			body, err := fetch.GetResponseBody(e.RequestID).Do(ctx)
			if err == nil {
				c.mu.Lock()
				c.capturedDoc = body
				c.mu.Unlock()
			}
			return fetch.ContinueRequest(e.RequestID).Do(ctx)
		})
	default:
		action = fetch.ContinueRequest(e.RequestID)
	}
	if err := c.run(ctx, action); err != nil {
		c.logger.Debug("intercepted request not resumed", "url", e.Request.URL, "error", err)
	}
}

// run executes actions on the tab, bounded by ctx.
func (c *Client) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	tabCtx := c.tabCtx
	c.mu.Unlock()
	if tabCtx == nil {
		return errors.ErrClientClosed
	}
	if tabCtx.Err() != nil {
		return errors.Join(errors.ErrClientClosed, tabCtx.Err())
	}

	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tabCtx.Err() != nil {
			return errors.Join(errors.ErrClientClosed, err)
		}
		return err
	}
	return nil
}

// State evaluates the application state.
func (c *Client) State(ctx context.Context) (client.State, error) {
	var s string
	if err := c.run(ctx, chromedp.Evaluate(stateScript, &s)); err != nil {
		return "", err
	}
	return client.State(s), nil
}

// Logout signs the device out, then closes the browser. The profile
// directory is left alone.
func (c *Client) Logout(ctx context.Context) error {
	var ok bool
	err := c.run(ctx, chromedp.Evaluate(logoutScript, &ok, awaitPromise))
	if err == nil && !ok {
		err = fmt.Errorf("web application does not expose logout")
	}
	if destroyErr := c.Destroy(ctx); destroyErr != nil {
		return errors.Join(err, destroyErr)
	}
	return err
}

// Destroy closes the browser without signing out.
func (c *Client) Destroy(ctx context.Context) error {
	c.closing.Store(true)
	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		c.shutdown()
		return nil
	}
	return b.Close(ctx)
}

// shutdown releases every context and stops event delivery.
func (c *Client) shutdown() {
	c.closing.Store(true)
	c.stopOnce.Do(func() {
		c.mu.Lock()
		tabCancel, allocCancel := c.tabCancel, c.allocCancel
		c.mu.Unlock()
		if tabCancel != nil {
			tabCancel()
		}
		if allocCancel != nil {
			allocCancel()
		}
		close(c.done)
	})
}

// SendSeen marks chatID as read through the injected hooks.
func (c *Client) SendSeen(ctx context.Context, chatID string) error {
	var ok bool
	expr := fmt.Sprintf(`(async () => { const w = window.__wamux; if (!w || !w.sendSeen) return false; await w.sendSeen(%s); return true; })()`, quote(chatID))
	if err := c.run(ctx, chromedp.Evaluate(expr, &ok, awaitPromise)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("inject script does not provide sendSeen")
	}
	return nil
}

// DownloadMedia fetches an attachment through the injected hooks.
func (c *Client) DownloadMedia(ctx context.Context, messageID string) (*client.Media, error) {
	var raw json.RawMessage
	expr := fmt.Sprintf(`(async () => { const w = window.__wamux; if (!w || !w.downloadMedia) return null; return await w.downloadMedia(%s); })()`, quote(messageID))
	if err := c.run(ctx, chromedp.Evaluate(expr, &raw, awaitPromise)); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("media of message %s unavailable", messageID)
	}
	var m client.Media
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return &m, nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Page is the application tab.
type Page struct {
	c      *Client
	closed atomic.Bool
}

func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	if p.closed.Load() {
		return errors.ErrClientClosed
	}
	return p.c.run(ctx, chromedp.Evaluate(expression, out))
}

func (p *Page) IsClosed() bool { return p.closed.Load() }

func (p *Page) Close(ctx context.Context) error {
	if p.closed.Load() {
		return nil
	}
	p.c.closing.Store(true)
	err := p.c.run(ctx, page.Close())
	p.closed.Store(true)
	return err
}

// Browser is the Chrome process.
type Browser struct {
	c            *Client
	disconnected atomic.Bool
}

func (b *Browser) Pages(context.Context) ([]client.Page, error) {
	p := b.c.Page()
	if p == nil || p.IsClosed() {
		return nil, nil
	}
	return []client.Page{p}, nil
}

// Close asks Chrome to exit, bounded by ctx, then releases the driver.
func (b *Browser) Close(ctx context.Context) error {
	b.c.closing.Store(true)
	b.c.mu.Lock()
	tabCtx := b.c.tabCtx
	b.c.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(tabCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil || errors.Is(err, context.Canceled) {
		err = nil
		b.disconnected.Store(true)
	}
	b.c.shutdown()
	return err
}

func (b *Browser) IsConnected() bool {
	if b.disconnected.Load() {
		return false
	}
	b.c.mu.Lock()
	tabCtx := b.c.tabCtx
	b.c.mu.Unlock()
	return tabCtx != nil && tabCtx.Err() == nil
}

// PID returns the Chrome process id, or 0 before launch.
func (b *Browser) PID() int {
	b.c.mu.Lock()
	tabCtx := b.c.tabCtx
	b.c.mu.Unlock()
	if tabCtx == nil {
		return 0
	}
	cc := chromedp.FromContext(tabCtx)
	if cc == nil || cc.Browser == nil {
		return 0
	}
	if proc := cc.Browser.Process(); proc != nil {
		return proc.Pid
	}
	return 0
}
