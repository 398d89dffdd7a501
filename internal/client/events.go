package client

import (
	"encoding/json"
	"time"
)

// Event is implemented by every value published on an Emitter.
type Event interface {
	Category() Category
}

// Message is the subset of a chat message wamux inspects. The full object
// as produced by the client is kept in Raw and is what gets forwarded.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	HasMedia  bool   `json:"hasMedia"`
	MediaSize int64  `json:"mediaSize,omitempty"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"`

	Raw json.RawMessage `json:"-"`
}

// MarshalJSON forwards the client's original object when it is available.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type plain Message
	return json.Marshal(plain(m))
}

// UnmarshalJSON decodes the inspected fields and keeps the original bytes.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Media is a downloaded attachment.
type Media struct {
	Mimetype string `json:"mimetype"`
	Data     string `json:"data"` // base64
	Filename string `json:"filename,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`
}

// QREvent carries a new pairing code.
type QREvent struct {
	Code string `json:"qr"`
}

func (QREvent) Category() Category { return CategoryQR }

// Ready is emitted once the client is connected and synced.
type Ready struct{}

func (Ready) Category() Category { return CategoryReady }

// Authenticated is emitted after pairing or credential restore succeeds.
type Authenticated struct{}

func (Authenticated) Category() Category { return CategoryAuthenticated }

// AuthFailure is emitted when stored credentials are rejected.
type AuthFailure struct {
	Message string `json:"msg"`
}

func (AuthFailure) Category() Category { return CategoryAuthFailure }

// StateChanged reports a new connection state.
type StateChanged struct {
	State State `json:"state"`
}

func (StateChanged) Category() Category { return CategoryChangeState }

// Disconnected is emitted when the client loses its session.
type Disconnected struct {
	Reason string `json:"reason"`
}

func (Disconnected) Category() Category { return CategoryDisconnected }

// LoadingScreen reports web app load progress.
type LoadingScreen struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

func (LoadingScreen) Category() Category { return CategoryLoadingScreen }

// MessageEvent is any event whose payload is a single message: message,
// message_create, message_ciphertext, message_revoke_me and media_uploaded.
type MessageEvent struct {
	Kind    Category `json:"-"`
	Message Message  `json:"message"`
}

func (e MessageEvent) Category() Category { return e.Kind }

// MessageAck reports a delivery acknowledgement level change.
type MessageAck struct {
	Message Message `json:"message"`
	Ack     int     `json:"ack"`
}

func (MessageAck) Category() Category { return CategoryMessageAck }

// MessageEdit reports an edited message.
type MessageEdit struct {
	Message  Message `json:"message"`
	NewBody  string  `json:"newBody"`
	PrevBody string  `json:"prevBody"`
}

func (MessageEdit) Category() Category { return CategoryMessageEdit }

// MessageRevoked reports a message deleted for everyone.
type MessageRevoked struct {
	Message Message  `json:"message"`
	Revoked *Message `json:"revoked_msg"`
}

func (MessageRevoked) Category() Category { return CategoryMessageRevokeEveryone }

// Reaction reports a message reaction.
type Reaction struct {
	Reaction json.RawMessage `json:"reaction"`
}

func (Reaction) Category() Category { return CategoryMessageReaction }

// GroupEvent is any group notification: join, leave, admin change,
// membership request or update.
type GroupEvent struct {
	Kind         Category        `json:"-"`
	Notification json.RawMessage `json:"notification"`
}

func (e GroupEvent) Category() Category { return e.Kind }

// Call reports an incoming call.
type Call struct {
	Call json.RawMessage `json:"call"`
}

func (Call) Category() Category { return CategoryCall }

// ContactChanged reports a contact switching numbers.
type ContactChanged struct {
	Message   Message `json:"message"`
	OldID     string  `json:"oldId"`
	NewID     string  `json:"newId"`
	IsContact bool    `json:"isContact"`
}

func (ContactChanged) Category() Category { return CategoryContactChanged }

// ChatEvent is any event whose payload is a single chat: chat_removed and
// unread_count.
type ChatEvent struct {
	Kind Category        `json:"-"`
	Chat json.RawMessage `json:"chat"`
}

func (e ChatEvent) Category() Category { return e.Kind }

// ChatArchived reports a chat archive state change.
type ChatArchived struct {
	Chat      json.RawMessage `json:"chat"`
	CurrState bool            `json:"currState"`
	PrevState bool            `json:"prevState"`
}

func (ChatArchived) Category() Category { return CategoryChatArchived }

// VoteUpdate reports a poll vote.
type VoteUpdate struct {
	Vote json.RawMessage `json:"vote"`
}

func (VoteUpdate) Category() Category { return CategoryVoteUpdate }

// PageSignal reports that the client's page closed or crashed.
type PageSignal struct {
	Kind   Category
	Reason string
	At     time.Time
}

func (e PageSignal) Category() Category { return e.Kind }
