package socket

import "errors"

// Domain errors for the socket package.
var (
	// ErrInvalidEndpoint is returned by Start when the endpoint is empty.
	ErrInvalidEndpoint = errors.New("socket: invalid endpoint")

	// ErrNoMessageHandler is returned by Start when OnMessage is nil.
	ErrNoMessageHandler = errors.New("socket: no message handler")

	// ErrSendFailed wraps a transport write failure in Send.
	ErrSendFailed = errors.New("socket: send failed")

	// ErrInvalidCommand is returned when a command verb or sensor ID is not
	// acceptable.
	ErrInvalidCommand = errors.New("socket: invalid command")
)
