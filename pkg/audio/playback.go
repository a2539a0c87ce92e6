package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/chriscow/rey-go/pkg/audio/mp3"
	"github.com/chriscow/rey-go/pkg/audio/wav"
	"github.com/chriscow/rey-go/pkg/rtc"
)

// DecodeClip sniffs the container of a synthesized clip and decodes it.
func DecodeClip(clip []byte) (rtc.PCM, error) {
	switch {
	case len(clip) >= 12 && string(clip[0:4]) == "RIFF" && string(clip[8:12]) == "WAVE":
		return wav.Decode(bytes.NewReader(clip))
	case mp3.Sniff(clip):
		return mp3.Decode(clip)
	default:
		return rtc.PCM{}, ErrUnsupportedClip
	}
}

// Player decodes clips and plays them to completion.
type Player struct {
	out    OutputDevice
	logger *slog.Logger
}

func NewPlayer(out OutputDevice, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{out: out, logger: logger.With(slog.String("component", "playback"))}
}

// Play blocks until clip has finished playing.
func (p *Player) Play(ctx context.Context, clip []byte) error {
	if p.out == nil {
		return fmt.Errorf("%w: no output device configured", ErrDeviceUnavailable)
	}

	pcm, err := DecodeClip(clip)
	if err != nil {
		return fmt.Errorf("decode clip: %w", err)
	}
	if len(pcm.Samples) == 0 {
		return fmt.Errorf("decode clip: %w: no samples", ErrUnsupportedClip)
	}

	p.logger.Debug("Playing clip",
		slog.Int("bytes", len(clip)),
		slog.Int("sample_rate", pcm.SampleRate),
		slog.Duration("duration", pcm.Duration()))

	if err := p.out.Play(ctx, pcm); err != nil {
		return fmt.Errorf("play clip: %w", err)
	}
	return nil
}
