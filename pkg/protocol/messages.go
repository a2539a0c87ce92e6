// Package protocol encodes and decodes the messages exchanged with the Rey
// voice server. Control messages and server events travel as JSON text
// frames tagged by "type"; audio travels as raw binary frames in both
// directions.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the "type" tag of a JSON frame.
type MessageType string

// Outbound control messages.
const (
	TypePushToTalk      MessageType = "push_to_talk"
	TypePushToTalkStart MessageType = "push_to_talk_start"
	TypePushToTalkStop  MessageType = "push_to_talk_stop"
	TypePushToWake      MessageType = "push_to_wake"
	TypePing            MessageType = "ping"
	TypeConfig          MessageType = "config"
	TypeReplayLast      MessageType = "replay_last"
)

// Inbound server events.
const (
	TypeState        MessageType = "state"
	TypeResponse     MessageType = "response"
	TypeError        MessageType = "error"
	TypeNotification MessageType = "notification"
	TypeKeepalive    MessageType = "keepalive"
	TypePong         MessageType = "pong"
)

var ErrEmptyReplayText = errors.New("replay_last requires text")

// ControlMessage is a client to server JSON message.
type ControlMessage struct {
	Type            MessageType `json:"type"`
	WakeWordEnabled *bool       `json:"wakeWordEnabled,omitempty"`
	Text            string      `json:"text,omitempty"`
}

func PushToTalk() ControlMessage      { return ControlMessage{Type: TypePushToTalk} }
func PushToTalkStart() ControlMessage { return ControlMessage{Type: TypePushToTalkStart} }
func PushToTalkStop() ControlMessage  { return ControlMessage{Type: TypePushToTalkStop} }
func PushToWake() ControlMessage      { return ControlMessage{Type: TypePushToWake} }
func Ping() ControlMessage            { return ControlMessage{Type: TypePing} }

// Config tells the server whether it should listen for the wake word.
func Config(wakeWordEnabled bool) ControlMessage {
	return ControlMessage{Type: TypeConfig, WakeWordEnabled: &wakeWordEnabled}
}

// ReplayLast asks the server to synthesize text again.
func ReplayLast(text string) ControlMessage {
	return ControlMessage{Type: TypeReplayLast, Text: text}
}

// EncodeControl serializes a control message into a text frame payload.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	switch msg.Type {
	case TypePushToTalk, TypePushToTalkStart, TypePushToTalkStop, TypePushToWake, TypePing:
		if msg.WakeWordEnabled != nil || msg.Text != "" {
			return nil, fmt.Errorf("encode %s: unexpected payload fields", msg.Type)
		}
	case TypeConfig:
		if msg.WakeWordEnabled == nil {
			return nil, fmt.Errorf("encode %s: wakeWordEnabled is required", msg.Type)
		}
	case TypeReplayLast:
		if msg.Text == "" {
			return nil, ErrEmptyReplayText
		}
	default:
		return nil, fmt.Errorf("encode control message: unknown type %q", msg.Type)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return data, nil
}
