package model

// Role is an operator role in the claims suite.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// Message delivery statuses.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Contact represents another operator reachable through messaging.
type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Online bool   `json:"isOnline"`
}

// LastMessage is the denormalized summary shown in the conversation list.
type LastMessage struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	SenderID  string `json:"senderId"`
}

// Conversation is a single logical thread between two participants.
// Exactly one conversation exists per participant pair.
type Conversation struct {
	ID          string       `json:"id"`
	ContactID   string       `json:"contactId"`
	Name        string       `json:"name"`
	Role        Role         `json:"role"`
	Online      bool         `json:"isOnline"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
	UpdatedAt   int64        `json:"updatedAt"`
}

// LastActivity returns the sort key for recency ordering:
// the last message timestamp, falling back to the conversation's
// own last-updated field when no message exists yet.
func (c *Conversation) LastActivity() int64 {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.UpdatedAt
}

// Message is a single message row. A temporary message carries a
// client-generated ID ("temp-<uuid>") until the server echo replaces it;
// the ClientID correlation id survives the round trip when the transport
// supports it.
type Message struct {
	ID             string `json:"id"`
	ClientID       string `json:"clientId,omitempty"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName,omitempty"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	Status         string `json:"status"`
	Temporary      bool   `json:"-"`
}
