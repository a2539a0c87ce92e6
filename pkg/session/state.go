package session

import "fmt"

// ClientState is the interaction state shown to the user.
type ClientState int32

const (
	StateWaiting ClientState = iota
	StateListening
	StateProcessing
	StateSpeaking
)

func (s ClientState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ParseClientState maps a server state name onto a ClientState.
func ParseClientState(name string) (ClientState, bool) {
	switch name {
	case "waiting":
		return StateWaiting, true
	case "listening":
		return StateListening, true
	case "processing":
		return StateProcessing, true
	case "speaking":
		return StateSpeaking, true
	default:
		return StateWaiting, false
	}
}

// Machine is the immutable interaction state record.
type Machine struct {
	State  ClientState
	Locked bool // playback lock held
}

// EventKind enumerates inputs to Transition.
type EventKind int

const (
	EventServerState EventKind = iota
	EventServerError
	EventDisconnected
	EventPlaybackStarted
	EventPlaybackFinished
	EventPlaybackFailed
)

// Event is an input to Transition.
type Event struct {
	Kind    EventKind
	State   ClientState // EventServerState only
	Message string      // optional status text from the server
}

func ServerState(state ClientState, message string) Event {
	return Event{Kind: EventServerState, State: state, Message: message}
}

func ServerError() Event      { return Event{Kind: EventServerError} }
func Disconnected() Event     { return Event{Kind: EventDisconnected} }
func PlaybackStarted() Event  { return Event{Kind: EventPlaybackStarted} }
func PlaybackFinished() Event { return Event{Kind: EventPlaybackFinished} }
func PlaybackFailed() Event   { return Event{Kind: EventPlaybackFailed} }

// EffectKind enumerates outputs of Transition.
type EffectKind int

const (
	// EffectStateChanged is emitted whenever State actually changes.
	EffectStateChanged EffectKind = iota
	// EffectStatus asks the host to render the current state and text.
	EffectStatus
	// EffectNotifyWaiting is emitted once per transition into waiting.
	EffectNotifyWaiting
	// EffectDropped reports an event ignored because playback holds the lock.
	EffectDropped
)

// Effect is a side effect requested by Transition.
type Effect struct {
	Kind    EffectKind
	From    ClientState
	To      ClientState
	Message string
}

// Transition computes the next Machine for ev. It has no side effects.
//
// While the playback lock is held only playback events apply; server
// state, server errors and disconnects are reported as EffectDropped.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	switch ev.Kind {
	case EventServerState:
		if m.Locked {
			return m, []Effect{{Kind: EffectDropped, From: m.State, To: ev.State}}
		}
		return moveTo(m, ev.State, ev.Message)

	case EventServerError, EventDisconnected:
		if m.Locked {
			return m, []Effect{{Kind: EffectDropped, From: m.State, To: StateWaiting}}
		}
		return moveTo(m, StateWaiting, ev.Message)

	case EventPlaybackStarted:
		if m.Locked {
			return m, nil
		}
		m.Locked = true
		return moveTo(m, StateSpeaking, ev.Message)

	case EventPlaybackFinished, EventPlaybackFailed:
		if !m.Locked {
			return m, nil
		}
		m.Locked = false
		return moveTo(m, StateWaiting, ev.Message)
	}
	return m, nil
}

func moveTo(m Machine, to ClientState, message string) (Machine, []Effect) {
	from := m.State
	m.State = to

	var effects []Effect
	if from != to {
		effects = append(effects, Effect{Kind: EffectStateChanged, From: from, To: to})
	}
	effects = append(effects, Effect{Kind: EffectStatus, From: from, To: to, Message: message})
	if to == StateWaiting && from != StateWaiting {
		effects = append(effects, Effect{Kind: EffectNotifyWaiting, From: from, To: to})
	}
	return m, effects
}

// StatusText returns message, or a default caption for state.
func StatusText(state ClientState, message string) string {
	if message != "" {
		return message
	}
	switch state {
	case StateListening:
		return "Listening..."
	case StateProcessing:
		return "Thinking..."
	case StateSpeaking:
		return "Speaking..."
	default:
		return "Ready"
	}
}
