package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageID_IsTemp(t *testing.T) {
	if !MessageID(-1).IsTemp() {
		t.Error("negative ids should be temporary")
	}
	if MessageID(42).IsTemp() {
		t.Error("positive ids should be server-confirmed")
	}
	if MessageID(0).IsTemp() {
		t.Error("zero is not a temporary id")
	}
}

func TestSenderRole_Counterpart(t *testing.T) {
	if SenderRoleCustomer.Counterpart() != SenderRoleExpert {
		t.Error("customer counterpart should be expert")
	}
	if SenderRoleExpert.Counterpart() != SenderRoleCustomer {
		t.Error("expert counterpart should be customer")
	}
}

func TestChatRoom_ParticipantID(t *testing.T) {
	room := ChatRoom{CustomerID: "cust1", ExpertID: "exp1"}
	if got := room.ParticipantID(SenderRoleCustomer); got != "cust1" {
		t.Errorf("expected cust1, got %s", got)
	}
	if got := room.ParticipantID(SenderRoleExpert); got != "exp1" {
		t.Errorf("expected exp1, got %s", got)
	}
}

func TestConnectionState_String(t *testing.T) {
	states := map[ConnectionState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestDecodeServerFrame_Message(t *testing.T) {
	raw := `{"type":"message","messageId":7,"senderType":"expert","senderId":"exp1","message":"hello","isRead":false,"createdAt":"2026-08-30T10:00:00Z"}`

	frame, err := DecodeServerFrame([]byte(raw))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if frame.Type != FrameTypeMessage {
		t.Errorf("expected message type, got %s", frame.Type)
	}

	msg := frame.AsMessage("room1")
	if msg.ID != 7 || msg.RoomID != "room1" || msg.SenderID != "exp1" || msg.Body != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("createdAt should be parsed")
	}
}

func TestDecodeServerFrame_Malformed(t *testing.T) {
	if _, err := DecodeServerFrame([]byte(`{not json`)); err != ErrMalformedFrame {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeServerFrame_UnknownType(t *testing.T) {
	if _, err := DecodeServerFrame([]byte(`{"type":"surprise"}`)); err != ErrUnknownFrameType {
		t.Errorf("expected ErrUnknownFrameType, got %v", err)
	}
	// The client→server typing tag is not part of the server union.
	if _, err := DecodeServerFrame([]byte(`{"type":"typing"}`)); err != ErrUnknownFrameType {
		t.Errorf("expected ErrUnknownFrameType for client tag, got %v", err)
	}
}

func TestDecodeClientFrame_Send(t *testing.T) {
	raw := `{"roomId":"room1","senderType":"customer","senderId":"cust1","message":"hi"}`
	frame, err := DecodeClientFrame([]byte(raw))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if frame.Type != "" || frame.RoomID != "room1" || frame.Message != "hi" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestDecodeClientFrame_MissingRoom(t *testing.T) {
	if _, err := DecodeClientFrame([]byte(`{"message":"hi"}`)); err != ErrMalformedFrame {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeClientFrame_Typing(t *testing.T) {
	raw := `{"type":"typing","roomId":"room1","userId":"cust1","userType":"customer","isTyping":true}`
	frame, err := DecodeClientFrame([]byte(raw))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !frame.IsTyping || frame.UserID != "cust1" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestFrame_AsConfirmation(t *testing.T) {
	ok := true
	frame := Frame{
		Type:       FrameTypeMessageSent,
		MessageID:  101,
		SenderRole: SenderRoleCustomer,
		SenderID:   "cust1",
		Message:    "Hello",
		Success:    &ok,
	}

	conf := frame.AsConfirmation()
	if conf.ID != 101 || !conf.Success {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
	if !conf.HasContent() {
		t.Error("confirmation with body should have content")
	}

	empty := Frame{Type: FrameTypeMessageSent, MessageID: 102}.AsConfirmation()
	if empty.HasContent() {
		t.Error("confirmation without body or file should have no content")
	}
	if !empty.Success {
		t.Error("missing success flag should default to true")
	}
}

func TestOutboundFrames(t *testing.T) {
	data, err := json.Marshal(TextFrame("room1", SenderRoleCustomer, "cust1", "hi"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), `"type"`) {
		t.Errorf("text send should carry no type tag: %s", data)
	}

	data, err = json.Marshal(TypingFrame("room1", SenderRoleExpert, "exp1", true))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"typing"`) {
		t.Errorf("typing frame should carry the typing tag: %s", data)
	}

	data, err = json.Marshal(PongFrame())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("unexpected pong payload: %s", data)
	}
}

func TestMessage_Validate(t *testing.T) {
	valid := Message{
		RoomID:     "room1",
		SenderRole: SenderRoleCustomer,
		SenderID:   "cust1",
		Body:       "hello",
		CreatedAt:  time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid message, got %v", err)
	}

	fileOnly := valid
	fileOnly.Body = ""
	fileOnly.AttachmentRef = "uploads/plan.pdf"
	if err := fileOnly.Validate(); err != nil {
		t.Errorf("file-only message should be valid, got %v", err)
	}

	empty := valid
	empty.Body = ""
	if err := empty.Validate(); err != ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}

	badRole := valid
	badRole.SenderRole = "admin"
	if err := badRole.Validate(); err != ErrInvalidRole {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}

	badRoom := valid
	badRoom.RoomID = "bad room!"
	if err := badRoom.Validate(); err != ErrInvalidRoomID {
		t.Errorf("expected ErrInvalidRoomID, got %v", err)
	}

	huge := valid
	huge.Body = strings.Repeat("x", maxBodyBytes+1)
	if err := huge.Validate(); err != ErrMessageTooLarge {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestIsValidUserID(t *testing.T) {
	if !IsValidUserID("cust_1-a") {
		t.Error("expected valid user id")
	}
	if IsValidUserID("") {
		t.Error("empty user id should be invalid")
	}
	if IsValidUserID("bad id") {
		t.Error("spaces should be invalid")
	}
	if IsValidUserID(strings.Repeat("a", 51)) {
		t.Error("over-length user id should be invalid")
	}
}
