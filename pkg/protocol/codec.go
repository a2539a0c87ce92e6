package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameKind distinguishes text frames from binary frames.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one message on the duplex channel.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// TextFrame wraps an encoded control message.
func TextFrame(data []byte) Frame { return Frame{Kind: FrameText, Data: data} }

// BinaryFrame wraps raw audio bytes.
func BinaryFrame(data []byte) Frame { return Frame{Kind: FrameBinary, Data: data} }

var ErrEmptyFrame = errors.New("empty frame")

// Error is returned when an inbound frame cannot be decoded.
type Error struct {
	Type    string // "type" tag, if it could be read
	Payload string // truncated payload for logging
	Err     error
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol: decode %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("protocol: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

const maxPayloadInError = 128

func newError(typ string, payload []byte, err error) *Error {
	p := string(payload)
	if len(p) > maxPayloadInError {
		p = p[:maxPayloadInError] + "..."
	}
	return &Error{Type: typ, Payload: p, Err: err}
}

// Decode turns an inbound frame into an Event. Binary frames always
// decode to AudioEvent. Text frames are dispatched on their "type" tag;
// unknown tags decode to UnknownEvent rather than failing.
func Decode(f Frame) (Event, error) {
	if f.Kind == FrameBinary {
		if len(f.Data) == 0 {
			return nil, newError("", nil, ErrEmptyFrame)
		}
		return AudioEvent{Clip: f.Data}, nil
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(f.Data, &envelope); err != nil {
		return nil, newError("", f.Data, err)
	}
	if envelope.Type == "" {
		return nil, newError("", f.Data, errors.New("missing type"))
	}

	var (
		ev  Event
		err error
	)
	switch MessageType(envelope.Type) {
	case TypeState:
		var e StateEvent
		err = json.Unmarshal(f.Data, &e)
		if err == nil && e.State == "" {
			err = errors.New("missing state")
		}
		ev = e
	case TypeResponse:
		var e ResponseEvent
		err = json.Unmarshal(f.Data, &e)
		ev = e
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(f.Data, &e)
		ev = e
	case TypeNotification:
		var e NotificationEvent
		err = json.Unmarshal(f.Data, &e)
		ev = e
	case TypeKeepalive:
		var e KeepaliveEvent
		err = json.Unmarshal(f.Data, &e)
		ev = e
	case TypePong:
		ev = PongEvent{}
	default:
		raw := make(json.RawMessage, len(f.Data))
		copy(raw, f.Data)
		ev = UnknownEvent{Type: envelope.Type, Raw: raw}
	}
	if err != nil {
		return nil, newError(envelope.Type, f.Data, err)
	}
	return ev, nil
}
