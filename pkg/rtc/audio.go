package rtc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Capture format sent upstream to the voice server.
const (
	SampleRate   = 16000
	NumChannels  = 1
	ChunkSamples = 512 // 32 ms at 16 kHz
	ChunkBytes   = ChunkSamples * 2
)

var ErrEmptyFrame = errors.New("audio frame is empty")

// AudioFrame is one chunk of PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// Timestamp is the offset of the first sample from the start of capture.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // Hz
	SamplesPerChannel int           // samples per channel in Data
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // offset from capture start
}

// NewAudioFrame wraps data as a frame, validating that it holds a whole
// number of 16-bit samples for every channel.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	if sampleRate <= 0 || numChannels <= 0 {
		return nil, fmt.Errorf("invalid audio format: %d Hz, %d channels", sampleRate, numChannels)
	}

	blockAlign := numChannels * 2
	if len(data)%blockAlign != 0 {
		return nil, fmt.Errorf("AudioFrame data length mismatch: %d bytes is not a multiple of %d for %d-channel PCM16",
			len(data), blockAlign, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: len(data) / blockAlign,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// FrameFromSamples encodes mono samples captured at sampleRate.
func FrameFromSamples(samples []int16, sampleRate int, timestamp time.Duration) *AudioFrame {
	return &AudioFrame{
		Data:              Int16ToBytes(samples),
		SampleRate:        sampleRate,
		SamplesPerChannel: len(samples),
		NumChannels:       1,
		Timestamp:         timestamp,
	}
}

// Samples decodes the frame payload into interleaved int16 samples.
func (f *AudioFrame) Samples() []int16 {
	return BytesToInt16(f.Data)
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the playing time of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// PCM is a fully decoded clip ready for an output device.
type PCM struct {
	Samples    []int16 // interleaved
	SampleRate int
	Channels   int
}

// Duration returns the playing time of the clip.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// Int16ToBytes encodes samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
