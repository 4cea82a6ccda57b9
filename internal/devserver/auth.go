package devserver

import (
	"strings"

	"chatwire/pkg/types"
)

// Identity is the authenticated participant behind a request.
type Identity struct {
	UserID string
	Role   types.SenderRole
}

// ParseToken validates a development token of the form
// "role:userId:secret" against the configured shared secret. The
// marketplace issues opaque tokens in production; this scheme keeps
// the reference backend self-contained.
func ParseToken(raw, secret string) (Identity, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return Identity{}, ErrInvalidToken
	}
	role := types.SenderRole(parts[0])
	if !types.IsValidRole(role) || !types.IsValidUserID(parts[1]) {
		return Identity{}, ErrInvalidToken
	}
	if parts[2] != secret {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: parts[1], Role: role}, nil
}

// FormatToken builds the development token for a participant.
func FormatToken(role types.SenderRole, userID, secret string) string {
	return string(role) + ":" + userID + ":" + secret
}
