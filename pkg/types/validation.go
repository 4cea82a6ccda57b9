package types

import "regexp"

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// maxBodyBytes bounds a single message body on the wire.
const maxBodyBytes = 8192

// IsValidUserID checks participant id format. The 1-50 character limit
// matches what the quote-request backend issues.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks chat room id format.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidRole checks that a sender role is one of the two room parties.
func IsValidRole(role SenderRole) bool {
	return role == SenderRoleCustomer || role == SenderRoleExpert
}

// Validate ensures an outbound message meets wire requirements. A
// message must carry text or an attachment reference; both empty is the
// empty-bubble case the store also refuses to display.
func (m *Message) Validate() error {
	if !IsValidRoomID(m.RoomID) {
		return ErrInvalidRoomID
	}
	if !IsValidRole(m.SenderRole) {
		return ErrInvalidRole
	}
	if !IsValidUserID(m.SenderID) {
		return ErrInvalidUserID
	}
	if m.Body == "" && m.AttachmentRef == "" {
		return ErrEmptyMessage
	}
	if len(m.Body) > maxBodyBytes {
		return ErrMessageTooLarge
	}
	return nil
}
