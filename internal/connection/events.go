package connection

import (
	"chatwire/pkg/types"
)

// Event is a typed notification from the socket boundary. Every frame
// the manager accepts is translated into exactly one Event; unknown or
// malformed frames are dropped before this point.
type Event interface {
	isEvent()
}

// StateChanged reports a connection state transition. Err is non-nil
// only for terminal failures (reconnect attempts exhausted).
type StateChanged struct {
	State types.ConnectionState
	Err   error
}

// ConnectionAck is the server's post-open handshake result.
type ConnectionAck struct {
	Success bool
	Reason  string
}

// MessageReceived carries an inbound chat message.
type MessageReceived struct {
	Message types.Message
}

// MessageConfirmed carries the delivery confirmation for a
// locally-sent message.
type MessageConfirmed struct {
	Confirmation types.SentConfirmation
}

// TypingChanged carries a counterpart typing status update.
type TypingChanged struct {
	UserID   string
	Role     types.SenderRole
	IsTyping bool
}

// MessageRead reports that the counterpart has read a message.
type MessageRead struct {
	ID types.MessageID
}

// UserJoined reports a participant joining the room.
type UserJoined struct {
	UserID string
}

// UserLeft reports a participant leaving the room.
type UserLeft struct {
	UserID string
}

func (StateChanged) isEvent()     {}
func (ConnectionAck) isEvent()    {}
func (MessageReceived) isEvent()  {}
func (MessageConfirmed) isEvent() {}
func (TypingChanged) isEvent()    {}
func (MessageRead) isEvent()      {}
func (UserJoined) isEvent()       {}
func (UserLeft) isEvent()         {}
