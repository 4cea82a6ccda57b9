package types

import (
	"time"
)

// SenderRole identifies which side of a quote-request conversation a
// participant is on.
type SenderRole string

const (
	SenderRoleCustomer SenderRole = "customer"
	SenderRoleExpert   SenderRole = "expert"
)

// Counterpart returns the opposite role in a two-party room.
func (r SenderRole) Counterpart() SenderRole {
	if r == SenderRoleCustomer {
		return SenderRoleExpert
	}
	return SenderRoleCustomer
}

// MessageID is a chat message identifier. Negative values are
// local-temporary ids issued by the client for optimistic echo; positive
// values are assigned by the backend. Promotion from temporary to
// confirmed is one-way.
type MessageID int64

// IsTemp reports whether the id is a client-issued temporary id.
func (id MessageID) IsTemp() bool {
	return id < 0
}

// Message is one entry in a room's message log.
// Body is empty for file-only messages; AttachmentRef is empty for
// plain text.
type Message struct {
	ID            MessageID  `json:"messageId"`
	RoomID        string     `json:"roomId,omitempty"`
	SenderRole    SenderRole `json:"senderType"`
	SenderID      string     `json:"senderId"`
	Body          string     `json:"message"`
	AttachmentRef string     `json:"filePath,omitempty"`
	IsRead        bool       `json:"isRead"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ChatRoom pairs one customer and one expert around a single quote
// request. Rooms are created lazily on first chat attempt and are never
// deleted by the engine.
type ChatRoom struct {
	RoomID             string    `json:"roomId"`
	RequestID          string    `json:"requestId"`
	CustomerID         string    `json:"customerId"`
	ExpertID           string    `json:"expertId"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
	LastMessageAt      time.Time `json:"lastMessageAt,omitzero"`
	UnreadCount        int       `json:"unreadCount"`
}

// ParticipantID returns the member with the given role.
func (r ChatRoom) ParticipantID(role SenderRole) string {
	if role == SenderRoleCustomer {
		return r.CustomerID
	}
	return r.ExpertID
}

// ConnectionState tracks the websocket lifecycle for the open room.
// Exactly one socket is live per session at any time.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// SentConfirmation is the reconciliation payload extracted from a
// message_sent frame: the canonical id the backend assigned to a
// locally-sent message, plus the fields used to locate the matching
// temporary entry.
type SentConfirmation struct {
	ID            MessageID
	SenderRole    SenderRole
	SenderID      string
	Body          string
	AttachmentRef string
	IsRead        bool
	CreatedAt     time.Time
	Success       bool
}

// HasContent reports whether the confirmation carries anything that
// could be displayed. A content-less confirmation with no matching
// temporary message is a no-op, never a visible empty bubble.
func (c SentConfirmation) HasContent() bool {
	return c.Body != "" || c.AttachmentRef != ""
}
