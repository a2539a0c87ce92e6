package audio

import (
	"math"

	"github.com/chriscow/rey-go/pkg/rtc"
	"github.com/chriscow/rey-go/pkg/voice"
)

// DefaultNoiseFloor is the RMS level below which a frame is treated as
// background noise (about -44 dBFS).
const DefaultNoiseFloor = 200

// ProcessorConfig toggles the capture-side processing stages.
type ProcessorConfig struct {
	EchoCancellation bool
	NoiseSuppression bool
	HighPassFilter   bool
	NoiseFloor       float64 // RMS threshold for NoiseSuppression; 0 means DefaultNoiseFloor
}

// NewProcessorConfig creates a new ProcessorConfig with every stage enabled.
func NewProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		EchoCancellation: true,
		NoiseSuppression: true,
		HighPassFilter:   true,
	}
}

// NewProcessorConfigDisabled creates a new ProcessorConfig with all stages disabled.
func NewProcessorConfigDisabled() ProcessorConfig {
	return ProcessorConfig{}
}

// WithEchoCancellation returns a copy of the config with echo cancellation toggled.
func (c ProcessorConfig) WithEchoCancellation(enabled bool) ProcessorConfig {
	c.EchoCancellation = enabled
	return c
}

// WithNoiseSuppression returns a copy of the config with noise suppression toggled.
func (c ProcessorConfig) WithNoiseSuppression(enabled bool) ProcessorConfig {
	c.NoiseSuppression = enabled
	return c
}

// WithHighPassFilter returns a copy of the config with high pass filter toggled.
func (c ProcessorConfig) WithHighPassFilter(enabled bool) ProcessorConfig {
	c.HighPassFilter = enabled
	return c
}

// Processor conditions microphone frames before they are sent.
//
// Echo cancellation here is half duplex: frames captured while the
// playback lock is held are discarded so the assistant never hears itself.
type Processor struct {
	cfg  ProcessorConfig
	lock voice.PlaybackLock

	// DC blocker state
	prevIn  float64
	prevOut float64
}

// NewProcessor creates a Processor. lock may be nil when echo
// cancellation is disabled.
func NewProcessor(cfg ProcessorConfig, lock voice.PlaybackLock) *Processor {
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = DefaultNoiseFloor
	}
	return &Processor{cfg: cfg, lock: lock}
}

// Process conditions frame in place and reports whether it should be sent.
func (p *Processor) Process(frame *rtc.AudioFrame) bool {
	if p.cfg.EchoCancellation && p.lock != nil && p.lock.Held() {
		return false
	}
	if !p.cfg.HighPassFilter && !p.cfg.NoiseSuppression {
		return true
	}

	samples := frame.Samples()
	if p.cfg.HighPassFilter {
		p.highPass(samples)
	}
	if p.cfg.NoiseSuppression && RMS(samples) < p.cfg.NoiseFloor {
		clear(samples)
	}
	copy(frame.Data, rtc.Int16ToBytes(samples))
	return true
}

// highPass removes DC offset with a one pole filter.
func (p *Processor) highPass(samples []int16) {
	const r = 0.995
	for i, s := range samples {
		x := float64(s)
		y := x - p.prevIn + r*p.prevOut
		p.prevIn, p.prevOut = x, y
		samples[i] = clamp16(y)
	}
}

// RMS returns the root mean square of samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}
