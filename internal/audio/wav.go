package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV wraps mono PCM16 samples in a WAV container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(samples)*2)
	_ = WriteWAV(&buf, samples, sampleRate)
	return buf.Bytes()
}

// WriteWAV writes mono PCM16 samples to out as a WAV stream.
func WriteWAV(out io.Writer, samples []int16, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataSize := uint32(len(samples) * 2)
	w := bufio.NewWriter(out)

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36) + dataSize,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(audioFormat),
		uint16(numChannels),
		uint32(sampleRate),
		uint32(sampleRate * numChannels * bitsPerSample / 8),
		uint16(numChannels * bitsPerSample / 8),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if _, err := w.Write(Int16ToBytes(samples)); err != nil {
		return err
	}
	return w.Flush()
}

// ParseWAV decodes a PCM16 WAV file, downmixing multi-channel audio to mono.
func ParseWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, ErrInvalidWAV
	}

	var (
		channels   int
		sampleRate int
		bits       int
		format     int
		haveFmt    bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Streams written before their length was known report a bogus size.
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format = int(binary.LittleEndian.Uint16(data[body:]))
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			if format != 1 || bits != 16 {
				return PCM{}, fmt.Errorf("%w: unsupported format %d/%d-bit", ErrInvalidWAV, format, bits)
			}
			if channels <= 0 {
				return PCM{}, fmt.Errorf("%w: zero channels", ErrInvalidWAV)
			}
			samples := BytesToInt16(data[body : body+size])
			return PCM{Samples: Downmix(samples, channels), SampleRate: sampleRate}, nil
		}
		pos = body + size + size%2
	}
	return PCM{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
