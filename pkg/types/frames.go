package types

import (
	"encoding/json"
	"time"
)

// Frame type tags for the websocket envelope. The envelope is a closed
// discriminated union: anything outside the expected set for a
// direction is dropped at the socket boundary.
const (
	FrameTypeMessage     = "message"
	FrameTypeMessageSent = "message_sent"
	FrameTypeTyping      = "typing_status"
	FrameTypeReadUpdate  = "message_read_update"
	FrameTypeUserJoined  = "user_joined"
	FrameTypeUserLeft    = "user_left"
	FrameTypePing        = "ping"
	FrameTypePong        = "pong"
	FrameTypeConnection  = "connection"

	// FrameTypeTypingCmd is the client→server typing broadcast. Chat
	// sends carry no type tag at all: a client frame with an empty type
	// and a room id is a message send.
	FrameTypeTypingCmd = "typing"
)

// Frame is the JSON envelope exchanged over a room-scoped websocket,
// discriminated by Type. Field presence depends on the variant.
type Frame struct {
	Type string `json:"type,omitempty"`

	// message / message_sent
	MessageID  MessageID  `json:"messageId,omitempty"`
	SenderRole SenderRole `json:"senderType,omitempty"`
	SenderID   string     `json:"senderId,omitempty"`
	Message    string     `json:"message,omitempty"`
	FilePath   string     `json:"filePath,omitempty"`
	IsRead     bool       `json:"isRead,omitempty"`
	CreatedAt  time.Time  `json:"createdAt,omitzero"`

	// message_sent / connection
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	// typing_status / typing
	IsTyping bool   `json:"isTyping,omitempty"`
	UserID   string `json:"userId,omitempty"`
	UserType string `json:"userType,omitempty"`

	// user_joined / user_left
	JoinedUserID string `json:"joinedUserId,omitempty"`
	LeftUserID   string `json:"leftUserId,omitempty"`

	// client→server frames
	RoomID string `json:"roomId,omitempty"`
}

// DecodeServerFrame parses a server→client payload, rejecting anything
// outside the server-side union. A malformed or unknown frame is the
// caller's cue to drop it, not to tear down the connection.
func DecodeServerFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, ErrMalformedFrame
	}
	switch f.Type {
	case FrameTypeMessage, FrameTypeMessageSent, FrameTypeTyping,
		FrameTypeReadUpdate, FrameTypeUserJoined, FrameTypeUserLeft,
		FrameTypePing, FrameTypePong, FrameTypeConnection:
		return f, nil
	default:
		return Frame{}, ErrUnknownFrameType
	}
}

// DecodeClientFrame parses a client→server payload. An empty type tag
// with a room id is a chat send; otherwise only typing and heartbeat
// frames are accepted.
func DecodeClientFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, ErrMalformedFrame
	}
	switch f.Type {
	case "":
		if f.RoomID == "" {
			return Frame{}, ErrMalformedFrame
		}
		return f, nil
	case FrameTypeTypingCmd, FrameTypePing, FrameTypePong:
		return f, nil
	default:
		return Frame{}, ErrUnknownFrameType
	}
}

// AsMessage converts a message frame into a Message.
func (f Frame) AsMessage(roomID string) Message {
	return Message{
		ID:            f.MessageID,
		RoomID:        roomID,
		SenderRole:    f.SenderRole,
		SenderID:      f.SenderID,
		Body:          f.Message,
		AttachmentRef: f.FilePath,
		IsRead:        f.IsRead,
		CreatedAt:     f.CreatedAt,
	}
}

// AsConfirmation converts a message_sent frame into its reconciliation
// payload.
func (f Frame) AsConfirmation() SentConfirmation {
	return SentConfirmation{
		ID:            f.MessageID,
		SenderRole:    f.SenderRole,
		SenderID:      f.SenderID,
		Body:          f.Message,
		AttachmentRef: f.FilePath,
		IsRead:        f.IsRead,
		CreatedAt:     f.CreatedAt,
		Success:       f.Success == nil || *f.Success,
	}
}

// MessageFrame builds the server→client frame for a delivered message.
func MessageFrame(msg Message) Frame {
	return Frame{
		Type:       FrameTypeMessage,
		MessageID:  msg.ID,
		SenderRole: msg.SenderRole,
		SenderID:   msg.SenderID,
		Message:    msg.Body,
		FilePath:   msg.AttachmentRef,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt,
	}
}

// SentFrame builds the server→client delivery confirmation for a
// locally-sent message.
func SentFrame(msg Message, success bool) Frame {
	f := MessageFrame(msg)
	f.Type = FrameTypeMessageSent
	f.Success = &success
	return f
}

// TextFrame builds the client→server frame for a plain text message.
func TextFrame(roomID string, role SenderRole, senderID, body string) Frame {
	return Frame{
		RoomID:     roomID,
		SenderRole: role,
		SenderID:   senderID,
		Message:    body,
	}
}

// FileFrame builds the client→server frame for a file message. The path
// comes from the upload collaborator, never from local disk.
func FileFrame(roomID string, role SenderRole, senderID, filePath string) Frame {
	return Frame{
		RoomID:     roomID,
		SenderRole: role,
		SenderID:   senderID,
		FilePath:   filePath,
	}
}

// TypingFrame builds the client→server typing broadcast.
func TypingFrame(roomID string, role SenderRole, userID string, isTyping bool) Frame {
	return Frame{
		Type:     FrameTypeTypingCmd,
		RoomID:   roomID,
		UserID:   userID,
		UserType: string(role),
		IsTyping: isTyping,
	}
}

// TypingStatusFrame builds the server→client typing relay.
func TypingStatusFrame(userID string, role SenderRole, isTyping bool) Frame {
	return Frame{
		Type:     FrameTypeTyping,
		UserID:   userID,
		UserType: string(role),
		IsTyping: isTyping,
	}
}

// ReadUpdateFrame notifies that the counterpart has read a message.
func ReadUpdateFrame(id MessageID) Frame {
	return Frame{Type: FrameTypeReadUpdate, MessageID: id}
}

// UserJoinedFrame announces a participant entering the room.
func UserJoinedFrame(userID string) Frame {
	return Frame{Type: FrameTypeUserJoined, JoinedUserID: userID}
}

// UserLeftFrame announces a participant leaving the room.
func UserLeftFrame(userID string) Frame {
	return Frame{Type: FrameTypeUserLeft, LeftUserID: userID}
}

// ConnectionFrame is the server's post-upgrade handshake result.
func ConnectionFrame(success bool, reason string) Frame {
	return Frame{Type: FrameTypeConnection, Success: &success, Error: reason}
}

// PingFrame is a heartbeat probe.
func PingFrame() Frame {
	return Frame{Type: FrameTypePing}
}

// PongFrame answers a ping.
func PongFrame() Frame {
	return Frame{Type: FrameTypePong}
}
