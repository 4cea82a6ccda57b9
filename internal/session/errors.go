package session

import "errors"

var (
	// ErrSessionNotClosed is returned by Open when a session is
	// already opening or open. Close must complete first.
	ErrSessionNotClosed = errors.New("session is not closed")

	// ErrSessionClosed is returned when Close raced an Open and won.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotConnected is returned for operations that need a live
	// socket while the session is closed or the link is down.
	ErrNotConnected = errors.New("session is not connected")

	// ErrOpenFailed wraps failures during room resolution, dialing,
	// or history hydration.
	ErrOpenFailed = errors.New("failed to open session")

	// ErrSendFailed wraps a transport write failure. The optimistic
	// echo has already been withdrawn when this is returned, so the
	// caller keeps the draft.
	ErrSendFailed = errors.New("failed to send message")

	// ErrUploadFailed wraps an attachment upload failure. Nothing was
	// echoed locally and nothing went over the socket.
	ErrUploadFailed = errors.New("failed to upload file")
)
