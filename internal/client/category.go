package client

// Category names a kind of client event. The set is fixed at compile time.
type Category string

// Subscribable categories, emitted by the client.
const (
	CategoryAuthFailure            Category = "auth_failure"
	CategoryAuthenticated          Category = "authenticated"
	CategoryCall                   Category = "call"
	CategoryChangeState            Category = "change_state"
	CategoryDisconnected           Category = "disconnected"
	CategoryGroupJoin              Category = "group_join"
	CategoryGroupLeave             Category = "group_leave"
	CategoryGroupAdminChanged      Category = "group_admin_changed"
	CategoryGroupMembershipRequest Category = "group_membership_request"
	CategoryGroupUpdate            Category = "group_update"
	CategoryLoadingScreen          Category = "loading_screen"
	CategoryMediaUploaded          Category = "media_uploaded"
	CategoryMessage                Category = "message"
	CategoryMessageAck             Category = "message_ack"
	CategoryMessageCreate          Category = "message_create"
	CategoryMessageReaction        Category = "message_reaction"
	CategoryMessageEdit            Category = "message_edit"
	CategoryMessageCiphertext      Category = "message_ciphertext"
	CategoryMessageRevokeEveryone  Category = "message_revoke_everyone"
	CategoryMessageRevokeMe        Category = "message_revoke_me"
	CategoryQR                     Category = "qr"
	CategoryReady                  Category = "ready"
	CategoryContactChanged         Category = "contact_changed"
	CategoryChatRemoved            Category = "chat_removed"
	CategoryChatArchived           Category = "chat_archived"
	CategoryUnreadCount            Category = "unread_count"
	CategoryVoteUpdate             Category = "vote_update"
)

// Dispatch-only categories. They are produced by wamux itself, never by the
// client, and only ever reach the delivery channels.
const (
	CategoryMedia  Category = "media"
	CategoryHealth Category = "health"
)

// Page lifecycle signals. They drive crash recovery and are never forwarded.
const (
	SignalPageClose Category = "page_close"
	SignalPageError Category = "page_error"
)

var subscribable = []Category{
	CategoryAuthFailure,
	CategoryAuthenticated,
	CategoryCall,
	CategoryChangeState,
	CategoryDisconnected,
	CategoryGroupJoin,
	CategoryGroupLeave,
	CategoryGroupAdminChanged,
	CategoryGroupMembershipRequest,
	CategoryGroupUpdate,
	CategoryLoadingScreen,
	CategoryMediaUploaded,
	CategoryMessage,
	CategoryMessageAck,
	CategoryMessageCreate,
	CategoryMessageReaction,
	CategoryMessageEdit,
	CategoryMessageCiphertext,
	CategoryMessageRevokeEveryone,
	CategoryMessageRevokeMe,
	CategoryQR,
	CategoryReady,
	CategoryContactChanged,
	CategoryChatRemoved,
	CategoryChatArchived,
	CategoryUnreadCount,
	CategoryVoteUpdate,
}

// Subscribable returns the categories a client emits, in a stable order.
func Subscribable() []Category {
	out := make([]Category, len(subscribable))
	copy(out, subscribable)
	return out
}

// KnownCategory reports whether name is a subscribable or dispatch-only
// category. Page signals are not categories callers can configure.
func KnownCategory(name string) bool {
	c := Category(name)
	if c == CategoryMedia || c == CategoryHealth {
		return true
	}
	for _, s := range subscribable {
		if s == c {
			return true
		}
	}
	return false
}

// String returns the category name.
func (c Category) String() string { return string(c) }

// State is the connection state reported by the messaging client.
type State string

const (
	StateConflict          State = "CONFLICT"
	StateConnected         State = "CONNECTED"
	StateDeprecatedVersion State = "DEPRECATED_VERSION"
	StateOpening           State = "OPENING"
	StatePairing           State = "PAIRING"
	StateProxyBlock        State = "PROXYBLOCK"
	StateSMBTosBlock       State = "SMB_TOS_BLOCK"
	StateTimeout           State = "TIMEOUT"
	StateTOSBlock          State = "TOS_BLOCK"
	StateUnlaunched        State = "UNLAUNCHED"
	StateUnpaired          State = "UNPAIRED"
	StateUnpairedIdle      State = "UNPAIRED_IDLE"
)
