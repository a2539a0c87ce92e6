package session

import (
	"testing"

	"github.com/matryer/is"
)

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name        string
		from        Machine
		event       Event
		want        Machine
		wantEffects []EffectKind
	}{
		{
			name:        "server moves waiting to listening",
			from:        Machine{State: StateWaiting},
			event:       ServerState(StateListening, ""),
			want:        Machine{State: StateListening},
			wantEffects: []EffectKind{EffectStateChanged, EffectStatus},
		},
		{
			name:        "server returns to waiting",
			from:        Machine{State: StateProcessing},
			event:       ServerState(StateWaiting, "Didn't catch that"),
			want:        Machine{State: StateWaiting},
			wantEffects: []EffectKind{EffectStateChanged, EffectStatus, EffectNotifyWaiting},
		},
		{
			name:        "waiting to waiting does not notify",
			from:        Machine{State: StateWaiting},
			event:       ServerState(StateWaiting, ""),
			want:        Machine{State: StateWaiting},
			wantEffects: []EffectKind{EffectStatus},
		},
		{
			name:        "state dropped while locked",
			from:        Machine{State: StateSpeaking, Locked: true},
			event:       ServerState(StateListening, ""),
			want:        Machine{State: StateSpeaking, Locked: true},
			wantEffects: []EffectKind{EffectDropped},
		},
		{
			name:        "error forces waiting",
			from:        Machine{State: StateListening},
			event:       ServerError(),
			want:        Machine{State: StateWaiting},
			wantEffects: []EffectKind{EffectStateChanged, EffectStatus, EffectNotifyWaiting},
		},
		{
			name:        "error while locked keeps speaking",
			from:        Machine{State: StateSpeaking, Locked: true},
			event:       ServerError(),
			want:        Machine{State: StateSpeaking, Locked: true},
			wantEffects: []EffectKind{EffectDropped},
		},
		{
			name:        "disconnect forces waiting",
			from:        Machine{State: StateProcessing},
			event:       Disconnected(),
			want:        Machine{State: StateWaiting},
			wantEffects: []EffectKind{EffectStateChanged, EffectStatus, EffectNotifyWaiting},
		},
		{
			name:        "playback takes the lock",
			from:        Machine{State: StateWaiting},
			event:       PlaybackStarted(),
			want:        Machine{State: StateSpeaking, Locked: true},
			wantEffects: []EffectKind{EffectStateChanged, EffectStatus},
		},
		{
			name:        "playback after server speaking",
			from:        Machine{State: StateSpeaking},
			event:       PlaybackStarted(),
			want:        Machine{State: StateSpeaking, Locked: true},
			wantEffects: []EffectKind{EffectStatus},
		},
		{
			name:        "second playback start ignored",
			from:        Machine{State: StateSpeaking, Locked: true},
			event:       PlaybackStarted(),
			want:        Machine{State: StateSpeaking, Locked: true},
			wantEffects: []EffectKind{},
		},
		{
			name:        "playback finished releases",
			from:        Machine{State: StateSpeaking, Locked: true},
			event:       PlaybackFinished(),
			want:        Machine{State: StateWaiting},
			wantEffects: []EffectKind{EffectStateChanged, EffectStatus, EffectNotifyWaiting},
		},
		{
			name:        "playback failed releases",
			from:        Machine{State: StateSpeaking, Locked: true},
			event:       PlaybackFailed(),
			want:        Machine{State: StateWaiting},
			wantEffects: []EffectKind{EffectStateChanged, EffectStatus, EffectNotifyWaiting},
		},
		{
			name:        "finish without lock ignored",
			from:        Machine{State: StateListening},
			event:       PlaybackFinished(),
			want:        Machine{State: StateListening},
			wantEffects: []EffectKind{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			got, effects := Transition(tt.from, tt.event)
			is.Equal(got, tt.want)
			is.Equal(kinds(effects), tt.wantEffects)
		})
	}
}

func TestRoundTripNotifiesWaitingOnce(t *testing.T) {
	is := is.New(t)

	m := Machine{}
	var notified int
	for _, ev := range []Event{PlaybackStarted(), ServerState(StateListening, ""), PlaybackFinished(), ServerState(StateWaiting, "")} {
		var effects []Effect
		m, effects = Transition(m, ev)
		for _, e := range effects {
			if e.Kind == EffectNotifyWaiting {
				notified++
			}
		}
	}

	is.Equal(m, Machine{State: StateWaiting})
	is.Equal(notified, 1)
}

func TestParseClientState(t *testing.T) {
	for _, s := range []ClientState{StateWaiting, StateListening, StateProcessing, StateSpeaking} {
		got, ok := ParseClientState(s.String())
		if !ok || got != s {
			t.Errorf("ParseClientState(%q) = %v, %v", s.String(), got, ok)
		}
	}
	if _, ok := ParseClientState("dancing"); ok {
		t.Error("ParseClientState accepted an unknown state")
	}
}

func TestStatusText(t *testing.T) {
	is := is.New(t)
	is.Equal(StatusText(StateWaiting, ""), "Ready")
	is.Equal(StatusText(StateListening, ""), "Listening...")
	is.Equal(StatusText(StateProcessing, "Transcribing"), "Transcribing")
}
