package push

import (
	"encoding/json"
	"time"

	"github.com/lfarroco/claimchat/internal/bus"
	"github.com/lfarroco/claimchat/internal/model"
	"go.uber.org/zap"
)

// Wire event names of the push-channel contract.
const (
	EventNewMessage          = "new_message"
	EventConversationUpdated = "conversation_updated"
	EventTypingStart         = "typing_start"
	EventTypingStop          = "typing_stop"
	EventUserStatusChange    = "user_status_change"

	// Outbound commands.
	EventJoinConversation = "join_conversation"
)

// Envelope is the wire format for all push-channel frames, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type command struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// TypingPayload is the payload of typing_start / typing_stop events.
type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	UserName       string `json:"userName,omitempty"`
}

// StatusChangePayload is the payload of user_status_change events.
type StatusChangePayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// ConversationPatch is the partial conversation update carried by
// conversation_updated events. Absent fields stay nil and are not merged.
type ConversationPatch struct {
	ID          string             `json:"id"`
	ContactID   *string            `json:"contactId,omitempty"`
	Name        *string            `json:"name,omitempty"`
	Role        *model.Role        `json:"role,omitempty"`
	Online      *bool              `json:"isOnline,omitempty"`
	LastMessage *model.LastMessage `json:"lastMessage,omitempty"`
	UnreadCount *int               `json:"unreadCount,omitempty"`
	UpdatedAt   *int64             `json:"updatedAt,omitempty"`
}

// dispatch decodes one inbound envelope and publishes the typed bus event.
// Unknown event names and malformed payloads are logged and skipped; the
// read loop must survive anything the server sends.
func (c *Channel) dispatch(env Envelope) {
	switch env.Event {
	case EventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.logger.Warn("bad new_message payload", zap.Error(err))
			return
		}
		c.publish(bus.KindPushMessage, msg)
	case EventConversationUpdated:
		var patch ConversationPatch
		if err := json.Unmarshal(env.Data, &patch); err != nil {
			c.logger.Warn("bad conversation_updated payload", zap.Error(err))
			return
		}
		c.publish(bus.KindPushConversation, patch)
	case EventTypingStart:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.logger.Warn("bad typing_start payload", zap.Error(err))
			return
		}
		c.publish(bus.KindPushTypingStart, p)
	case EventTypingStop:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.logger.Warn("bad typing_stop payload", zap.Error(err))
			return
		}
		c.publish(bus.KindPushTypingStop, p)
	case EventUserStatusChange:
		var p StatusChangePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.logger.Warn("bad user_status_change payload", zap.Error(err))
			return
		}
		c.publish(bus.KindPushPresence, p)
	default:
		c.logger.Debug("unknown push event", zap.String("event", env.Event))
	}
}

func (c *Channel) publish(kind string, payload any) {
	c.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
