package rooms

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomResolution   = errors.New("room lookup and create both failed")
	ErrRequestFailed    = errors.New("chat backend request failed")
	ErrTokenUnavailable = errors.New("auth token unavailable")
)
