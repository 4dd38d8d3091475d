package recognize

import (
	"errors"
	"fmt"
)

var (
	// ErrAudioBacklog is returned by SendAudio when the audio queue is
	// full. It is the backpressure signal: the producer is outrunning the
	// network and should slow down or drop.
	ErrAudioBacklog = errors.New("recognize: audio queue full")

	// ErrSessionClosed is returned by SendAudio after the sink was closed
	// or the session terminated.
	ErrSessionClosed = errors.New("recognize: session closed")
)

// ConnectError reports a failed stream handshake. The session never started;
// the caller may retry StartSession.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("recognize: connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// StreamError reports a mid-session network failure. It ends the session:
// queued unsent frames are dropped and the session becomes terminal.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("recognize: stream: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a malformed or unexpected message from the service.
// It ends the session the same way a StreamError does.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "recognize: protocol: " + e.Msg
}

// terminalError keeps already-typed errors intact and wraps anything else as
// a StreamError.
func terminalError(err error) error {
	var pe *ProtocolError
	var se *StreamError
	if errors.As(err, &pe) || errors.As(err, &se) {
		return err
	}
	return &StreamError{Err: err}
}
