// Package clienttest provides an in-memory client.Client for tests.
package clienttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Iron-Ham/wamux/internal/client"
)

// Fake is a scriptable client.Client. Zero-value fields mean success.
// Fields may be set before Initialize; after that use the methods.
type Fake struct {
	SessionID string
	Dir       string

	mu sync.Mutex

	InitErr    error
	StateValue client.State
	StateErr   error
	LogoutErr  error
	DestroyErr error
	SeenErr    error
	Media      *client.Media
	MediaErr   error
	MediaDelay time.Duration
	NoPage     bool
	// OnInitialize runs inside Initialize, after the page exists, so tests
	// can emit events during startup.
	OnInitialize func(*Fake)

	events  *client.Emitter
	page    *FakePage
	browser *FakeBrowser

	InitCalls    int
	LogoutCalls  int
	DestroyCalls int
	SeenChats    []string
	Downloads    []string
}

// NewFake returns a Fake reporting CONNECTED once initialized.
func NewFake(id, dir string) *Fake {
	return &Fake{
		SessionID:  id,
		Dir:        dir,
		StateValue: client.StateConnected,
		events:     client.NewEmitter(nil),
		browser:    &FakeBrowser{connected: false},
	}
}

func (f *Fake) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.InitCalls++
	err := f.InitErr
	hook := f.OnInitialize
	if err == nil && !f.NoPage {
		f.page = &FakePage{}
		f.browser.attach(f.page)
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(f)
	}
	return ctx.Err()
}

func (f *Fake) State(ctx context.Context) (client.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StateErr != nil {
		return "", f.StateErr
	}
	return f.StateValue, nil
}

// SetState changes the reported state.
func (f *Fake) SetState(s client.State) {
	f.mu.Lock()
	f.StateValue = s
	f.mu.Unlock()
}

func (f *Fake) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.LogoutCalls++
	err := f.LogoutErr
	f.mu.Unlock()
	f.shutdown()
	return err
}

func (f *Fake) Destroy(ctx context.Context) error {
	f.mu.Lock()
	f.DestroyCalls++
	err := f.DestroyErr
	f.mu.Unlock()
	f.shutdown()
	return err
}

func (f *Fake) shutdown() {
	f.mu.Lock()
	p := f.page
	f.mu.Unlock()
	if p != nil {
		p.markClosed()
	}
	f.browser.setConnected(false)
}

func (f *Fake) Events() *client.Emitter { return f.events }

func (f *Fake) Page() client.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.page == nil {
		return nil
	}
	return f.page
}

// FakePage returns the concrete page, or nil before Initialize.
func (f *Fake) FakePage() *FakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}

func (f *Fake) Browser() client.Browser {
	return f.browser
}

// FakeBrowser returns the concrete browser.
func (f *Fake) FakeBrowser() *FakeBrowser { return f.browser }

func (f *Fake) SendSeen(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SeenChats = append(f.SeenChats, chatID)
	return f.SeenErr
}

func (f *Fake) DownloadMedia(ctx context.Context, messageID string) (*client.Media, error) {
	f.mu.Lock()
	f.Downloads = append(f.Downloads, messageID)
	media, err, delay := f.Media, f.MediaErr, f.MediaDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if media == nil {
		return nil, errors.New("no media")
	}
	return media, nil
}

// Seen returns the chats marked as seen.
func (f *Fake) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.SeenChats...)
}

// Counts returns the logout and destroy call counts.
func (f *Fake) Counts() (logout, destroy int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LogoutCalls, f.DestroyCalls
}

// Emit publishes ev on the client's event stream.
func (f *Fake) Emit(ev client.Event) { f.events.Emit(ev) }

// Crash closes the page and emits the page-close signal.
func (f *Fake) Crash() {
	if p := f.FakePage(); p != nil {
		p.markClosed()
	}
	f.events.Emit(client.PageSignal{Kind: client.SignalPageClose, Reason: "crash", At: time.Now()})
}

// PageError emits the page-error signal without closing the page.
func (f *Fake) PageError(reason string) {
	f.events.Emit(client.PageSignal{Kind: client.SignalPageError, Reason: reason, At: time.Now()})
}

// FakePage is a scriptable client.Page.
type FakePage struct {
	mu        sync.Mutex
	closed    bool
	failEvals int
	hang      bool
	evals     int
}

func (p *FakePage) Evaluate(ctx context.Context, expression string, out any) error {
	p.mu.Lock()
	p.evals++
	hang := p.hang
	fail := p.failEvals > 0
	if fail {
		p.failEvals--
	}
	closed := p.closed
	p.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if closed {
		return errors.New("target closed")
	}
	if fail {
		return errors.New("execution context was destroyed")
	}
	if n, ok := out.(*int); ok {
		*n = 1
	}
	return nil
}

func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePage) Close(ctx context.Context) error {
	p.markClosed()
	return nil
}

func (p *FakePage) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// FailEvaluations makes the next n evaluations fail.
func (p *FakePage) FailEvaluations(n int) {
	p.mu.Lock()
	p.failEvals = n
	p.mu.Unlock()
}

// Hang makes every evaluation block until its context ends.
func (p *FakePage) Hang() {
	p.mu.Lock()
	p.hang = true
	p.mu.Unlock()
}

// Evaluations returns the number of Evaluate calls.
func (p *FakePage) Evaluations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evals
}

// FakeBrowser is a scriptable client.Browser.
type FakeBrowser struct {
	mu        sync.Mutex
	connected bool
	page      *FakePage
	// stayConnected keeps IsConnected true after shutdown.
	stayConnected bool
	hangClose     bool
	closeCalls    int
}

func (b *FakeBrowser) Pages(ctx context.Context) ([]client.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil, nil
	}
	return []client.Page{b.page}, nil
}

func (b *FakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closeCalls++
	hang := b.hangClose
	b.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	b.setConnected(false)
	return nil
}

func (b *FakeBrowser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// PID is always 0: fakes have no process to kill.
func (b *FakeBrowser) PID() int { return 0 }

func (b *FakeBrowser) attach(p *FakePage) {
	b.mu.Lock()
	b.page = p
	b.connected = true
	b.mu.Unlock()
}

func (b *FakeBrowser) setConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !v && b.stayConnected {
		return
	}
	b.connected = v
}

// StayConnected makes the browser ignore shutdown, for disconnect timeouts.
func (b *FakeBrowser) StayConnected() {
	b.mu.Lock()
	b.stayConnected = true
	b.mu.Unlock()
}

// HangOnClose makes Close block until its context ends.
func (b *FakeBrowser) HangOnClose() {
	b.mu.Lock()
	b.hangClose = true
	b.mu.Unlock()
}

// CloseCalls returns the number of Close calls.
func (b *FakeBrowser) CloseCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

// Factory builds Fakes and remembers them per session.
type Factory struct {
	mu   sync.Mutex
	made map[string][]*Fake
	// Configure, when set, adjusts each new Fake before it is returned.
	Configure func(*Fake)
	// Err, when set, makes construction fail.
	Err error
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{made: make(map[string][]*Fake)}
}

// New implements client.Factory.
func (f *Factory) New(id, dir string) (client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	fake := NewFake(id, dir)
	if f.Configure != nil {
		f.Configure(fake)
	}
	f.made[id] = append(f.made[id], fake)
	return fake, nil
}

// Made returns every Fake built for id, oldest first.
func (f *Factory) Made(id string) []*Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fake(nil), f.made[id]...)
}

// Latest returns the newest Fake built for id, or nil.
func (f *Factory) Latest(id string) *Fake {
	made := f.Made(id)
	if len(made) == 0 {
		return nil
	}
	return made[len(made)-1]
}
