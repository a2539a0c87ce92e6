package protocol

import "encoding/json"

// Event is a decoded server event. The concrete types are:
// StateEvent, ResponseEvent, ErrorEvent, NotificationEvent,
// KeepaliveEvent, PongEvent, AudioEvent and UnknownEvent.
type Event interface {
	isEvent()
}

// StateEvent reports the server's view of the interaction state.
type StateEvent struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// ResponseEvent carries the text of a completed exchange.
type ResponseEvent struct {
	ReyText    string `json:"rey_text"`
	UserText   string `json:"user_text,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// ErrorEvent is a server side failure meant for the user.
type ErrorEvent struct {
	Message string `json:"message"`
}

// NotificationEvent is an unsolicited message pushed by the server.
type NotificationEvent struct {
	Message  string `json:"message"`
	Title    string `json:"title,omitempty"`
	Priority string `json:"priority,omitempty"`
	Speak    bool   `json:"speak,omitempty"`
}

// Urgent reports whether the notification should draw attention.
func (n NotificationEvent) Urgent() bool {
	return n.Priority == "urgent"
}

// KeepaliveEvent is sent by the server during long running work.
type KeepaliveEvent struct {
	Status string `json:"status,omitempty"`
}

// PongEvent answers a ping.
type PongEvent struct{}

// AudioEvent is a complete synthesized clip received as a binary frame.
type AudioEvent struct {
	Clip []byte
}

// UnknownEvent is a well formed JSON frame with a type this client does
// not understand.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (StateEvent) isEvent()        {}
func (ResponseEvent) isEvent()     {}
func (ErrorEvent) isEvent()        {}
func (NotificationEvent) isEvent() {}
func (KeepaliveEvent) isEvent()    {}
func (PongEvent) isEvent()         {}
func (AudioEvent) isEvent()        {}
func (UnknownEvent) isEvent()      {}
