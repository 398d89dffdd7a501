package chrome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/wamux/internal/client"
)

func TestDecodeBinding(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    client.Event
	}{
		{
			name:    "qr",
			payload: `{"event":"qr","data":{"qr":"2@abc"}}`,
			want:    client.QREvent{Code: "2@abc"},
		},
		{
			name:    "ready without data",
			payload: `{"event":"ready"}`,
			want:    client.Ready{},
		},
		{
			name:    "null data",
			payload: `{"event":"disconnected","data":null}`,
			want:    client.Disconnected{},
		},
		{
			name:    "state change",
			payload: `{"event":"change_state","data":{"state":"CONFLICT"}}`,
			want:    client.StateChanged{State: client.StateConflict},
		},
		{
			name:    "auth failure",
			payload: `{"event":"auth_failure","data":{"msg":"bad creds"}}`,
			want:    client.AuthFailure{Message: "bad creds"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBinding(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBindingMessageKinds(t *testing.T) {
	for _, cat := range []client.Category{
		client.CategoryMessage,
		client.CategoryMessageCreate,
		client.CategoryMessageCiphertext,
		client.CategoryMessageRevokeMe,
		client.CategoryMediaUploaded,
	} {
		t.Run(string(cat), func(t *testing.T) {
			ev, err := decodeBinding(`{"event":"` + string(cat) + `","data":{"message":{"id":"m1","from":"123@c.us","hasMedia":true,"mediaSize":42}}}`)
			require.NoError(t, err)
			assert.Equal(t, cat, ev.Category())

			msg, ok := ev.(client.MessageEvent)
			require.True(t, ok)
			assert.Equal(t, "m1", msg.Message.ID)
			assert.Equal(t, "123@c.us", msg.Message.From)
			assert.True(t, msg.Message.HasMedia)
			assert.EqualValues(t, 42, msg.Message.MediaSize)
		})
	}
}

func TestDecodeBindingGroupAndChatKinds(t *testing.T) {
	ev, err := decodeBinding(`{"event":"group_leave","data":{"notification":{"id":"n1"}}}`)
	require.NoError(t, err)
	assert.Equal(t, client.CategoryGroupLeave, ev.Category())
	assert.JSONEq(t, `{"id":"n1"}`, string(ev.(client.GroupEvent).Notification))

	ev, err = decodeBinding(`{"event":"unread_count","data":{"chat":{"id":"c1"}}}`)
	require.NoError(t, err)
	assert.Equal(t, client.CategoryUnreadCount, ev.Category())
}

func TestDecodeBindingRevoked(t *testing.T) {
	ev, err := decodeBinding(`{"event":"message_revoke_everyone","data":{"message":{"id":"m2"},"revoked_msg":{"id":"m1"}}}`)
	require.NoError(t, err)
	rev := ev.(client.MessageRevoked)
	assert.Equal(t, "m2", rev.Message.ID)
	require.NotNil(t, rev.Revoked)
	assert.Equal(t, "m1", rev.Revoked.ID)
}

func TestDecodeBindingErrors(t *testing.T) {
	_, err := decodeBinding(`not json`)
	assert.Error(t, err)

	_, err = decodeBinding(`{"event":"teleport","data":{}}`)
	assert.ErrorContains(t, err, "unknown bridge event")

	_, err = decodeBinding(`{"event":"message_ack","data":{"ack":"high"}}`)
	assert.ErrorContains(t, err, "decode message_ack event")
}
