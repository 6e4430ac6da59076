package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Inbound push-channel events live under "push."; events
// derived by the sync engine for the UI layer live under their own
// namespaces so a view can subscribe to exactly what it renders.
const (
	KindPushMessage      = "push.message"
	KindPushConversation = "push.conversation"
	KindPushTypingStart  = "push.typing_start"
	KindPushTypingStop   = "push.typing_stop"
	KindPushPresence     = "push.presence"
	KindPushConnected    = "push.connected"
	KindPushDisconnected = "push.disconnected"

	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindConversationUpdated = "conversation.updated"
	KindPresenceChanged     = "presence.changed"
	KindTypingChanged       = "typing.changed"
	KindStatusChanged       = "session.status_changed"

	KindHistoryLoaded     = "history.loaded"
	KindHistoryLoadFailed = "history.load_failed"
)
