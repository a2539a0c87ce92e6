// Package audio implements the client side audio pipeline: microphone
// capture with light processing and amplitude metering, and playback of
// synthesized clips received from the server.
package audio

import (
	"context"
	"errors"

	"github.com/chriscow/rey-go/pkg/rtc"
)

var (
	// ErrDeviceUnavailable wraps failures to open an input or output device,
	// including the OS refusing microphone access.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrUnsupportedClip is returned for clips that are neither MP3 nor WAV.
	ErrUnsupportedClip = errors.New("unsupported clip format")
)

// InputStream is an open microphone stream.
type InputStream interface {
	// Read blocks until len(buf) samples have been captured.
	Read(buf []int16) error
	Close() error
}

// InputDevice opens microphone streams.
type InputDevice interface {
	OpenInput(sampleRate, channels, framesPerBuffer int) (InputStream, error)
}

// OutputDevice plays decoded clips. Play blocks until the clip finishes.
type OutputDevice interface {
	Play(ctx context.Context, pcm rtc.PCM) error
}
