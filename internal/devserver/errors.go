package devserver

import "errors"

var (
	// ErrRoomNotFound indicates no room exists for the lookup key.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomExists indicates a create collided with an existing
	// (request, expert) pair.
	ErrRoomExists = errors.New("room already exists")

	// ErrStoreClosed indicates a write arrived after shutdown.
	ErrStoreClosed = errors.New("store is closed")

	// ErrWriteTimeout indicates the write queue stalled.
	ErrWriteTimeout = errors.New("write operation timed out")

	// ErrInvalidToken indicates a malformed or unauthorized token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotParticipant indicates the authenticated user holds
	// neither seat of the room.
	ErrNotParticipant = errors.New("user is not a room participant")
)
