// Package device binds the audio pipeline to the host's default
// microphone and speakers through PortAudio.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/chriscow/rey-go/pkg/audio"
	"github.com/chriscow/rey-go/pkg/rtc"
)

const playbackFramesPerBuffer = 1024

// PortAudio opens default input and output devices. Init must succeed
// before any stream is opened and Terminate must be called on exit.
type PortAudio struct {
	logger *slog.Logger
	mu     sync.Mutex // serializes playback streams
}

// Init initializes the PortAudio library.
func Init(logger *slog.Logger) (*PortAudio, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	logger.Debug("PortAudio initialized", slog.String("version", portaudio.VersionText()))
	return &PortAudio{logger: logger.With(slog.String("component", "portaudio"))}, nil
}

// Terminate releases the PortAudio library.
func (p *PortAudio) Terminate() error {
	return portaudio.Terminate()
}

// OpenInput opens and starts the default input device.
func (p *PortAudio) OpenInput(sampleRate, channels, framesPerBuffer int) (audio.InputStream, error) {
	buffer := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, buffer)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	p.logger.Info("Microphone opened", slog.Int("sample_rate", sampleRate), slog.Int("frames_per_buffer", framesPerBuffer))
	return &inputStream{stream: stream, buffer: buffer}, nil
}

type inputStream struct {
	stream *portaudio.Stream
	buffer []int16
}

func (s *inputStream) Read(buf []int16) error {
	if err := s.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return err
	}
	copy(buf, s.buffer)
	return nil
}

func (s *inputStream) Close() error {
	_ = s.stream.Stop()
	return s.stream.Close()
}

// Play writes pcm to the default output device and returns once the last
// buffer has been queued. Only one clip plays at a time.
func (p *PortAudio) Play(ctx context.Context, pcm rtc.PCM) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	buffer := make([]int16, playbackFramesPerBuffer*pcm.Channels)
	stream, err := portaudio.OpenDefaultStream(0, pcm.Channels, float64(pcm.SampleRate), playbackFramesPerBuffer, buffer)
	if err != nil {
		return fmt.Errorf("%w: open output stream: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start output stream: %v", audio.ErrDeviceUnavailable, err)
	}
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
	}()

	for offset := 0; offset < len(pcm.Samples); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buffer, pcm.Samples[offset:])
		clear(buffer[n:])
		offset += n
		if err := stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}
