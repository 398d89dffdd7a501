package chrome

import (
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/wamux/internal/client"
)

// BindingName is the page function scripts call to publish an event:
//
//	window.__wamuxEmit(JSON.stringify({event: "message", data: {message: m}}))
const BindingName = "__wamuxEmit"

// bridgeScript runs before any page script. It gives injected hooks a
// stable helper namespace on top of the raw binding.
const bridgeScript = `(() => {
  if (window.__wamux) return;
  const emit = (event, data) => {
    try { window.` + BindingName + `(JSON.stringify({ event, data: data || {} })); } catch (e) {}
  };
  window.__wamux = { emit };
})();`

// envelope is the binding payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// decodeBinding parses a binding payload into a typed event.
func decodeBinding(payload string) (client.Event, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("decode bridge payload: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = json.RawMessage("{}")
	}
	return decodeEvent(client.Category(env.Event), env.Data)
}

// decodeEvent maps a category and its JSON data onto the event struct of
// that category.
func decodeEvent(category client.Category, data json.RawMessage) (client.Event, error) {
	var (
		ev  client.Event
		err error
	)
	switch category {
	case client.CategoryQR:
		ev, err = into[client.QREvent](data)
	case client.CategoryReady:
		ev = client.Ready{}
	case client.CategoryAuthenticated:
		ev = client.Authenticated{}
	case client.CategoryAuthFailure:
		ev, err = into[client.AuthFailure](data)
	case client.CategoryChangeState:
		ev, err = into[client.StateChanged](data)
	case client.CategoryDisconnected:
		ev, err = into[client.Disconnected](data)
	case client.CategoryLoadingScreen:
		ev, err = into[client.LoadingScreen](data)
	case client.CategoryMessage, client.CategoryMessageCreate, client.CategoryMessageCiphertext,
		client.CategoryMessageRevokeMe, client.CategoryMediaUploaded:
		var e client.MessageEvent
		e, err = into[client.MessageEvent](data)
		e.Kind = category
		ev = e
	case client.CategoryMessageAck:
		ev, err = into[client.MessageAck](data)
	case client.CategoryMessageEdit:
		ev, err = into[client.MessageEdit](data)
	case client.CategoryMessageRevokeEveryone:
		ev, err = into[client.MessageRevoked](data)
	case client.CategoryMessageReaction:
		ev, err = into[client.Reaction](data)
	case client.CategoryGroupJoin, client.CategoryGroupLeave, client.CategoryGroupAdminChanged,
		client.CategoryGroupMembershipRequest, client.CategoryGroupUpdate:
		var e client.GroupEvent
		e, err = into[client.GroupEvent](data)
		e.Kind = category
		ev = e
	case client.CategoryCall:
		ev, err = into[client.Call](data)
	case client.CategoryContactChanged:
		ev, err = into[client.ContactChanged](data)
	case client.CategoryChatRemoved, client.CategoryUnreadCount:
		var e client.ChatEvent
		e, err = into[client.ChatEvent](data)
		e.Kind = category
		ev = e
	case client.CategoryChatArchived:
		ev, err = into[client.ChatArchived](data)
	case client.CategoryVoteUpdate:
		ev, err = into[client.VoteUpdate](data)
	default:
		return nil, fmt.Errorf("unknown bridge event %q", category)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", category, err)
	}
	return ev, nil
}

func into[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
