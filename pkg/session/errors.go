package session

import (
	"errors"
	"fmt"
)

var ErrAlreadyRunning = errors.New("session already running")

// ErrorKind classifies failures surfaced to the host.
type ErrorKind int

const (
	// KindConnectivity is a lost or unreachable server. Recovered
	// automatically until the reconnect ceiling is reached.
	KindConnectivity ErrorKind = iota
	// KindPermission means the microphone could not be opened. Capture
	// stays disabled for the rest of the session.
	KindPermission
	// KindProtocol is a malformed inbound frame. Logged and dropped.
	KindProtocol
	// KindPlayback is a clip that could not be decoded or played.
	KindPlayback
	// KindServer is an error reported by the server, shown verbatim.
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindPermission:
		return "permission"
	case KindProtocol:
		return "protocol"
	case KindPlayback:
		return "playback"
	case KindServer:
		return "server"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error wraps an underlying failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError classifies err.
func NewError(kind ErrorKind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the classification of err, if it carries one.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
