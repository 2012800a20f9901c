package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

var (
	// ErrTruncatedStream indicates the peer closed the stream before a
	// complete message arrived.
	ErrTruncatedStream = errors.New("truncated stream")
	// ErrNoFrame indicates the peer closed the stream cleanly where a frame
	// was expected, without sending any of it.
	ErrNoFrame = errors.New("stream closed before a frame")
	// ErrProtocol indicates an out-of-range class id or an unexpected message shape.
	ErrProtocol = errors.New("protocol error")
	// ErrDeserialization indicates a payload that could not be decoded.
	ErrDeserialization = errors.New("deserialization error")
	// ErrTimeout indicates no data arrived before the read deadline.
	ErrTimeout = errors.New("timeout")
)

// SessionError records the session and protocol state in which an error occurred.
type SessionError struct {
	Session string
	State   string
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.Session, e.State, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a deadline expiry from the network layer.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify maps low-level I/O errors onto the protocol error taxonomy.
func classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case IsTimeout(err):
		return fmt.Errorf("%w: reading %s: %v", ErrTimeout, what, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: reading %s: %v", ErrTruncatedStream, what, err)
	default:
		return fmt.Errorf("reading %s: %w", what, err)
	}
}
