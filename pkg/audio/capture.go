package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chriscow/rey-go/pkg/audio/wav"
	"github.com/chriscow/rey-go/pkg/rtc"
)

var ErrCaptureRunning = errors.New("capture already running")

// CaptureConfig configures microphone capture.
type CaptureConfig struct {
	Device       InputDevice
	SampleRate   int    // defaults to rtc.SampleRate
	ChunkSamples int    // defaults to rtc.ChunkSamples
	DumpPath     string // optional WAV copy of everything captured
	Logger       *slog.Logger
}

// Capture reads fixed size mono chunks from an input device on its own
// goroutine and hands each one to a callback.
type Capture struct {
	cfg    CaptureConfig
	logger *slog.Logger

	mu     sync.Mutex
	stream InputStream
	dump   *wav.Writer
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = rtc.SampleRate
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = rtc.ChunkSamples
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capture{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "capture")),
	}
}

// Start opens the device and begins delivering frames. The device is
// opened synchronously so permission failures surface here. onError is
// called once if the stream fails after starting.
func (c *Capture) Start(ctx context.Context, onFrame func(*rtc.AudioFrame), onError func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return ErrCaptureRunning
	}
	if c.cfg.Device == nil {
		return fmt.Errorf("%w: no input device configured", ErrDeviceUnavailable)
	}

	stream, err := c.cfg.Device.OpenInput(c.cfg.SampleRate, rtc.NumChannels, c.cfg.ChunkSamples)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if c.cfg.DumpPath != "" {
		dump, err := wav.NewWriter(c.cfg.DumpPath, uint32(c.cfg.SampleRate), rtc.NumChannels)
		if err != nil {
			c.logger.Warn("Capture dump disabled", slog.String("path", c.cfg.DumpPath), slog.String("error", err.Error()))
		} else {
			c.dump = dump
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})

	c.logger.Info("Capture started",
		slog.Int("sample_rate", c.cfg.SampleRate),
		slog.Int("chunk_samples", c.cfg.ChunkSamples))

	go c.readLoop(ctx, stream, c.dump, onFrame, onError)
	return nil
}

func (c *Capture) readLoop(ctx context.Context, stream InputStream, dump *wav.Writer, onFrame func(*rtc.AudioFrame), onError func(error)) {
	defer close(c.done)

	buf := make([]int16, c.cfg.ChunkSamples)
	chunk := time.Duration(c.cfg.ChunkSamples) * time.Second / time.Duration(c.cfg.SampleRate)
	var ts time.Duration

	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(buf); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Capture read failed", slog.String("error", err.Error()))
			if onError != nil {
				onError(err)
			}
			return
		}

		if dump != nil {
			if err := dump.WriteSamples(buf); err != nil {
				c.logger.Warn("Capture dump write failed", slog.String("error", err.Error()))
				dump = nil
			}
		}

		onFrame(rtc.FrameFromSamples(buf, c.cfg.SampleRate, ts))
		ts += chunk
	}
}

// Stop ends capture and releases the device. It is safe to call when
// capture never started.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}
	c.cancel()
	<-c.done

	err := c.stream.Close()
	c.stream = nil
	if c.dump != nil {
		if derr := c.dump.Close(); derr != nil {
			c.logger.Warn("Failed to finalize capture dump", slog.String("error", derr.Error()))
		}
		c.dump = nil
	}
	c.logger.Info("Capture stopped")
	return err
}
