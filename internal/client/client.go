// Package client wraps a browser-backed messaging client behind a uniform
// Handle and drives its lifecycle: construction, liveness probing, teardown
// and browser shutdown. Concrete drivers live in subpackages.
package client

import (
	"context"
)

// Client is a messaging client bound to one session directory.
type Client interface {
	// Initialize launches the browser and loads the web application. Events
	// may be emitted before it returns.
	Initialize(ctx context.Context) error
	// State queries the current connection state.
	State(ctx context.Context) (State, error)
	// Destroy closes the browser without signing out.
	Destroy(ctx context.Context) error
	// Logout signs out, then closes the browser. The session directory is
	// left in place.
	Logout(ctx context.Context) error
	// Events returns the client's event stream.
	Events() *Emitter
	// Page returns the application page, or nil before it exists.
	Page() Page
	// Browser returns the browser, or nil before launch.
	Browser() Browser
	// SendSeen marks a chat as read.
	SendSeen(ctx context.Context, chatID string) error
	// DownloadMedia fetches the attachment of a message.
	DownloadMedia(ctx context.Context, messageID string) (*Media, error)
}

// Page is the browser tab hosting the web application.
type Page interface {
	Evaluate(ctx context.Context, expression string, out any) error
	IsClosed() bool
	Close(ctx context.Context) error
}

// Browser is the browser process owning the pages.
type Browser interface {
	Pages(ctx context.Context) ([]Page, error)
	Close(ctx context.Context) error
	IsConnected() bool
	// PID returns the browser process id, or 0 when unknown.
	PID() int
}

// Factory constructs an uninitialized client for a session directory.
type Factory func(sessionID, dir string) (Client, error)
