// Package mp3 decodes MP3 clips into PCM.
package mp3

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/chriscow/rey-go/pkg/rtc"
)

var ErrNotMP3 = errors.New("not an MP3 stream")

// Sniff reports whether data starts like an MP3 stream: an ID3v2 tag or an
// MPEG audio frame sync.
func Sniff(data []byte) bool {
	if len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")) {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// Decode decodes a complete clip. go-mp3 always yields interleaved
// 16-bit stereo at the stream's native rate.
func Decode(data []byte) (rtc.PCM, error) {
	if !Sniff(data) {
		return rtc.PCM{}, ErrNotMP3
	}

	d, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return rtc.PCM{}, fmt.Errorf("decode mp3: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return rtc.PCM{}, fmt.Errorf("decode mp3: %w", err)
	}
	raw = raw[:len(raw)-len(raw)%4]

	return rtc.PCM{
		Samples:    rtc.BytesToInt16(raw),
		SampleRate: d.SampleRate(),
		Channels:   2,
	}, nil
}
