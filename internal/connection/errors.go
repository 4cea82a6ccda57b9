package connection

import "errors"

var (
	ErrConnectInProgress   = errors.New("connection attempt already in progress")
	ErrAlreadyConnected    = errors.New("already connected")
	ErrNotConnected        = errors.New("not connected")
	ErrWriteTimeout        = errors.New("write timeout")
	ErrReconnectExhausted  = errors.New("reconnect attempts exhausted")
	ErrConnectionSuperseded = errors.New("connection superseded")
)
