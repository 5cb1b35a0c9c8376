package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by SendRequest on a client that is not
	// connected. No I/O is attempted.
	ErrNotConnected = errors.New("not connected to daemon")

	// ErrAlreadyConnected is returned by Connect on an already-connected
	// client.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrPeerClosed signals that the peer closed the channel at a message
	// boundary or mid-frame. It marks normal connection teardown and is
	// distinct from ProtocolError.
	ErrPeerClosed = errors.New("peer closed connection")
)

// ConnectionError is a connect-time failure: missing socket file, pipe open
// failure, or a failed HTTP health check.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a malformed length prefix or invalid JSON payload inside
// a frame. It is never produced for a clean or mid-frame peer close.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnsupportedTransportError is returned by the factory for an unrecognized
// transport tag or a backend that is not available on the current platform.
type UnsupportedTransportError struct {
	Type   Type
	Reason string
}

func (e *UnsupportedTransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported transport type %q: %s", string(e.Type), e.Reason)
	}
	return fmt.Sprintf("unsupported transport type %q", string(e.Type))
}
