// Package wav reads and writes 16-bit PCM RIFF/WAVE data.
package wav

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chriscow/rey-go/pkg/rtc"
)

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// Header represents a WAV file header
type Header struct {
	ChunkSize     uint32
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Reader decodes a WAV stream. The header is parsed on construction and
// the reader is left positioned at the first sample.
type Reader struct {
	r      io.Reader
	closer io.Closer
	header Header
}

// Open opens a WAV file for reading.
func Open(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader, err := NewReader(bufio.NewReader(file))
	if err != nil {
		file.Close()
		return nil, err
	}
	reader.closer = file
	return reader, nil
}

// NewReader parses the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	reader := &Reader{r: r}
	if err := reader.readHeader(); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return reader, nil
}

// Decode reads a complete WAV clip into memory.
func Decode(r io.Reader) (rtc.PCM, error) {
	reader, err := NewReader(r)
	if err != nil {
		return rtc.PCM{}, err
	}
	return reader.ReadPCM()
}

// Header returns the WAV file header information
func (r *Reader) Header() Header {
	return r.header
}

// ReadPCM reads the remainder of the data chunk. A data chunk that ends
// early (common for streamed WAVs with a placeholder size) is accepted.
func (r *Reader) ReadPCM() (rtc.PCM, error) {
	var src io.Reader = r.r
	if r.header.DataSize != 0 && r.header.DataSize != 0xFFFFFFFF {
		src = io.LimitReader(r.r, int64(r.header.DataSize))
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return rtc.PCM{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	// drop a trailing partial frame
	blockAlign := int(r.header.NumChannels) * 2
	data = data[:len(data)-len(data)%blockAlign]

	return rtc.PCM{
		Samples:    rtc.BytesToInt16(data),
		SampleRate: int(r.header.SampleRate),
		Channels:   int(r.header.NumChannels),
	}, nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// readHeader reads and validates the RIFF header, the fmt chunk and the
// data chunk header, skipping any other chunks in between.
func (r *Reader) readHeader() error {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r.r, riffHeader[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return ErrNotWAV
	}
	r.header.ChunkSize = binary.LittleEndian.Uint32(riffHeader[4:8])

	sawFmt := false
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.r, chunkHeader[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			if err := r.readFmtChunk(chunkSize); err != nil {
				return err
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return errors.New("data chunk before fmt chunk")
			}
			r.header.DataSize = chunkSize
			return nil
		default:
			if err := r.skip(int64(chunkSize) + int64(chunkSize&1)); err != nil {
				return fmt.Errorf("failed to skip %q chunk: %w", chunkID, err)
			}
		}
	}
}

// readFmtChunk reads the format chunk
func (r *Reader) readFmtChunk(chunkSize uint32) error {
	if chunkSize < 16 {
		return fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
	}

	var fmtData [16]byte
	if _, err := io.ReadFull(r.r, fmtData[:]); err != nil {
		return fmt.Errorf("failed to read fmt data: %w", err)
	}

	audioFormat := binary.LittleEndian.Uint16(fmtData[0:2])
	if audioFormat != 1 {
		return fmt.Errorf("only PCM format is supported, got format %d", audioFormat)
	}

	r.header.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
	r.header.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
	r.header.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])

	if r.header.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d-bit", r.header.BitsPerSample)
	}
	if r.header.NumChannels != 1 && r.header.NumChannels != 2 {
		return fmt.Errorf("only mono and stereo are supported, got %d channels", r.header.NumChannels)
	}
	if r.header.SampleRate == 0 {
		return errors.New("sample rate is zero")
	}

	// Skip any remaining fmt data
	rest := int64(chunkSize-16) + int64(chunkSize&1)
	if rest > 0 {
		if err := r.skip(rest); err != nil {
			return fmt.Errorf("failed to skip fmt data: %w", err)
		}
	}
	return nil
}

func (r *Reader) skip(n int64) error {
	_, err := io.CopyN(io.Discard, r.r, n)
	return err
}
