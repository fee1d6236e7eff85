package collab

import (
	"errors"
	"fmt"
)

// errors.go provides the error taxonomy for the collab package
//
// error type checking:
//   sentinel errors are checked with errors.Is(err, ErrX)
//   transport and protocol failures are checked with errors.As(err, &TransportError{}) etc.
//
// transport and protocol errors are fatal to one connection only.
// session errors are reported to the joining participant as a `JoinOutcome`.
// application errors (a delta that no longer fits the document) are logged and dropped.

// used for connections
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrTimeout          = errors.New("round trip timeout")
	ErrSendQueueFull    = errors.New("send queue full")
)

// used for framing and the message catalog
var (
	ErrMessageTooLarge    = errors.New("message too large")
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrTruncatedMessage   = errors.New("truncated message")
	ErrTrailingBytes      = errors.New("trailing bytes after message")
	ErrMalformedMessage   = errors.New("malformed message")
)

// used for sessions
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrNotJoined       = errors.New("not joined to a session")
	ErrHostClosed      = errors.New("host closed")
)

// used for deltas that cannot be applied
var (
	ErrOutOfRange = errors.New("document element out of range")
)

// socket closed or reset
type TransportError struct {
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport: %s", self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

// malformed header, decompression failure, unknown message tag
type ProtocolError struct {
	Err error
}

func (self *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s", self.Err)
}

func (self *ProtocolError) Unwrap() error {
	return self.Err
}

func IsProtocolError(err error) bool {
	var protocolErr *ProtocolError
	return errors.As(err, &protocolErr)
}

func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
