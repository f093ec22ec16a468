package stream

import "errors"

// Domain errors for the stream package.
var (
	// ErrNotConnected is returned when an operation requires a live
	// connection but the client is not connected.
	ErrNotConnected = errors.New("stream: not connected")

	// ErrHandshakeFailed is returned when the open/login/subscribe
	// sequence does not complete.
	ErrHandshakeFailed = errors.New("stream: handshake failed")

	// ErrAuthRejected is returned when the server answers the login frame
	// with an exception.
	ErrAuthRejected = errors.New("stream: login rejected")

	// ErrServerDisconnect is returned when the server sends an explicit
	// disconnect frame.
	ErrServerDisconnect = errors.New("stream: server requested disconnect")

	// ErrStaleConnection is returned when no frame arrived within the
	// staleness window and the connection was closed proactively.
	ErrStaleConnection = errors.New("stream: connection went stale")

	// ErrFatalServerError is returned when the server sends a fatal
	// exception frame.
	ErrFatalServerError = errors.New("stream: fatal server error")
)
