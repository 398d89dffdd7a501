// Package events routes client events to the delivery channels under the
// per-category enablement policy.
package events

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/metrics"
	"github.com/Iron-Ham/wamux/internal/qr"
)

// Oracle decides whether a category is delivered.
type Oracle interface {
	Enabled(ctx context.Context, category client.Category) bool
}

// Dispatcher delivers one event for one session.
type Dispatcher interface {
	Send(ctx context.Context, sessionID string, category client.Category, payload any) error
}

// Channels manages per-session delivery channels.
type Channels interface {
	Open(sessionID string)
	Close(sessionID string)
}

// Target is a named Dispatcher. The name labels logs and metrics.
type Target struct {
	Name       string
	Dispatcher Dispatcher
}

// MediaPayload is the payload of the nested media event.
type MediaPayload struct {
	Media   *client.Media  `json:"messageMedia"`
	Message client.Message `json:"message"`
}

// Options configures a Gate.
type Options struct {
	Oracle  Oracle
	Targets []Target
	QR      *qr.Tracker
	// MarkSeen marks the chat of every incoming message as read.
	MarkSeen bool
	// MaxAttachmentBytes is the size below which attachments are downloaded.
	MaxAttachmentBytes int64
	// DownloadTimeout bounds one attachment download (default: 2m).
	DownloadTimeout time.Duration
	Logger          *logging.Logger
}

// Gate subscribes a session's client events and fans them out.
type Gate struct {
	opts   Options
	logger *logging.Logger
	tasks  conc.WaitGroup
}

type allEnabled struct{}

func (allEnabled) Enabled(context.Context, client.Category) bool { return true }

// New creates a Gate. A nil Oracle enables every category.
func New(opts Options) *Gate {
	if opts.Oracle == nil {
		opts.Oracle = allEnabled{}
	}
	if opts.QR == nil {
		opts.QR = qr.New(0, opts.Logger)
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Gate{opts: opts, logger: logger.WithComponent("events")}
}

// QR returns the tracker the gate caches pairing codes with.
func (g *Gate) QR() *qr.Tracker { return g.opts.QR }

// row is one subscribable category.
type row struct {
	category client.Category
	// always rows are subscribed regardless of enablement because they
	// maintain handle state.
	always bool
	// perOccurrence rows consult the oracle on every event instead of once.
	perOccurrence bool
	// carriesMessage rows trigger media download and mark-seen.
	carriesMessage bool
}

var rows = buildRows()

func buildRows() []row {
	out := make([]row, 0, len(client.Subscribable()))
	for _, c := range client.Subscribable() {
		r := row{category: c}
		switch c {
		case client.CategoryQR:
			r.always, r.perOccurrence = true, true
		case client.CategoryAuthenticated:
			r.always = true
		case client.CategoryMessage, client.CategoryMessageAck, client.CategoryMessageCreate:
			r.carriesMessage = true
		}
		out = append(out, r)
	}
	return out
}

// Attach registers the gate's listeners on h's client and records them on
// the handle. Enablement is resolved now, except for qr.
func (g *Gate) Attach(ctx context.Context, h *client.Handle) {
	stream := h.Client.Events()
	mediaEnabled := g.opts.Oracle.Enabled(ctx, client.CategoryMedia)

	for _, r := range rows {
		enabled := r.perOccurrence || g.opts.Oracle.Enabled(ctx, r.category)
		if !enabled && !r.always {
			continue
		}
		r := r
		id := stream.On(r.category, func(ev client.Event) {
			g.handle(h, r, enabled, mediaEnabled, ev)
		})
		h.TrackListener(id)
	}
}

func (g *Gate) handle(h *client.Handle, r row, enabled, mediaEnabled bool, ev client.Event) {
	switch e := ev.(type) {
	case client.QREvent:
		g.opts.QR.Issue(h, e.Code)
		enabled = g.opts.Oracle.Enabled(context.Background(), client.CategoryQR)
	case client.Authenticated:
		g.opts.QR.Clear(h)
	}
	if !enabled {
		return
	}

	if r.carriesMessage {
		if msg := messageOf(ev); msg != nil {
			if mediaEnabled {
				g.fetchMedia(h, *msg)
			}
			if g.opts.MarkSeen {
				g.markSeen(h, *msg)
			}
		}
	}
	g.Dispatch(h.ID, r.category, Shape(ev))
}

// Shape returns the delivery payload for ev. Event structs carry their
// payload shape in their JSON tags; signal-only events deliver an empty
// object.
func Shape(ev client.Event) any {
	switch ev.(type) {
	case client.Ready, client.Authenticated:
		return struct{}{}
	default:
		return ev
	}
}

func messageOf(ev client.Event) *client.Message {
	switch e := ev.(type) {
	case client.MessageEvent:
		return &e.Message
	case client.MessageAck:
		return &e.Message
	}
	return nil
}

// Dispatch hands payload to every target on its own task.
func (g *Gate) Dispatch(sessionID string, category client.Category, payload any) {
	for _, t := range g.opts.Targets {
		t := t
		g.tasks.Go(func() {
			metrics.EventsDispatched.WithLabelValues(string(category), t.Name).Inc()
			if err := t.Dispatcher.Send(context.Background(), sessionID, category, payload); err != nil {
				metrics.DeliveryFailures.WithLabelValues(t.Name).Inc()
				g.logger.WithSession(sessionID).WithCategory(string(category)).
					Warn("event delivery failed", "channel", t.Name, "error", err)
			}
		})
	}
}

func (g *Gate) fetchMedia(h *client.Handle, msg client.Message) {
	if !msg.HasMedia || msg.MediaSize <= 0 || msg.MediaSize >= g.opts.MaxAttachmentBytes {
		return
	}
	g.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.opts.DownloadTimeout)
		defer cancel()
		media, err := h.Client.DownloadMedia(ctx, msg.ID)
		if err != nil {
			g.logger.WithSession(h.ID).Warn("media download failed", "message_id", msg.ID, "error", err)
			return
		}
		g.Dispatch(h.ID, client.CategoryMedia, MediaPayload{Media: media, Message: msg})
	})
}

func (g *Gate) markSeen(h *client.Handle, msg client.Message) {
	chat := msg.ChatID
	if chat == "" {
		chat = msg.From
	}
	if chat == "" {
		return
	}
	g.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.Client.SendSeen(ctx, chat); err != nil {
			g.logger.WithSession(h.ID).Warn("mark seen failed", "chat_id", chat, "error", err)
		}
	})
}

// Wait blocks until every spawned delivery task finished. A panicking task
// is logged, not propagated.
func (g *Gate) Wait() {
	if r := g.tasks.WaitAndRecover(); r != nil {
		g.logger.Error("event task panicked", "panic", r.String())
	}
}
