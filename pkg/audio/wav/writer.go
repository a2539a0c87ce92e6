package wav

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Writer writes WAV files
type Writer struct {
	file           *os.File
	buf            *bufio.Writer
	sampleRate     uint32
	numChannels    uint16
	bitsPerSample  uint16
	samplesWritten uint32
}

// NewWriter creates a new 16-bit PCM WAV file writer
func NewWriter(filename string, sampleRate uint32, numChannels uint16) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	writer := &Writer{
		file:          file,
		buf:           bufio.NewWriter(file),
		sampleRate:    sampleRate,
		numChannels:   numChannels,
		bitsPerSample: 16,
	}

	// Write header (we'll update it when we close)
	if err := writer.writeHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return writer, nil
}

// WriteSamples appends interleaved samples.
func (w *Writer) WriteSamples(samples []int16) error {
	if w.file == nil {
		return os.ErrClosed
	}
	if err := binary.Write(w.buf, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.samplesWritten += uint32(len(samples))
	return nil
}

// Close finalizes the WAV file by updating the header with correct sizes
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	defer func() { w.file = nil }()

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush samples: %w", err)
	}

	dataSize := w.samplesWritten * uint32(w.bitsPerSample) / 8
	chunkSize := dataSize + 36

	// Seek to chunk size position and update
	if _, err := w.file.Seek(4, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek to chunk size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, chunkSize); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to write chunk size: %w", err)
	}

	// Seek to data size position and update
	if _, err := w.file.Seek(40, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, dataSize); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to write data size: %w", err)
	}

	return w.file.Close()
}

// Encode writes a complete 16-bit PCM WAV stream to out.
func Encode(out io.Writer, samples []int16, sampleRate uint32, numChannels uint16) error {
	dataSize := uint32(len(samples) * 2)
	h := header(sampleRate, numChannels, 16, dataSize)
	if _, err := out.Write(h); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return nil
}

// writeHeader writes the initial WAV header with zero sizes
func (w *Writer) writeHeader() error {
	_, err := w.buf.Write(header(w.sampleRate, w.numChannels, w.bitsPerSample, 0))
	return err
}

// header builds the canonical 44-byte header.
func header(sampleRate uint32, numChannels, bitsPerSample uint16, dataSize uint32) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataSize+36)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], sampleRate)
	byteRate := sampleRate * uint32(numChannels) * uint32(bitsPerSample) / 8
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], numChannels*bitsPerSample/8) // block align
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}
