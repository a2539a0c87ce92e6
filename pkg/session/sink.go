package session

import (
	"github.com/chriscow/rey-go/pkg/transcript"
)

// Sink receives everything the host UI renders. All methods are called
// from the session loop and must not block or call back into the Session
// synchronously.
type Sink interface {
	StatusChanged(state ClientState, text string)
	// WaitingEntered fires once each time the state returns to waiting.
	WaitingEntered()
	Expression(name string)
	TranscriptUpdated(entries []transcript.Entry)
	ConnectivityChanged(connected bool, banner string)
	// ErrorRaised carries a message meant to be shown to the user as is.
	ErrorRaised(kind ErrorKind, message string)
	// AudioLevel carries the amplitude envelope of each captured frame.
	AudioLevel(envelope []float64)
}

// NopSink ignores every signal. Embed it to implement a subset.
type NopSink struct{}

func (NopSink) StatusChanged(ClientState, string) {}
func (NopSink) WaitingEntered() {}
func (NopSink) Expression(string) {}
func (NopSink) TranscriptUpdated([]transcript.Entry) {}
func (NopSink) ConnectivityChanged(bool, string) {}
func (NopSink) ErrorRaised(ErrorKind, string) {}
func (NopSink) AudioLevel([]float64) {}
