package types

import "errors"

// Frame decoding errors
var (
	ErrMalformedFrame   = errors.New("malformed frame payload")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Validation errors
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID   = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole     = errors.New("sender role must be customer or expert")
	ErrEmptyMessage    = errors.New("message must have text or an attachment")
	ErrMessageTooLarge = errors.New("message body exceeds 8KB limit")
)
