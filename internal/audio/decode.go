package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DecodeMP3 decodes an MP3 stream into mono PCM at its native rate.
func DecodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("mp3 decoder: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("mp3 decode: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	stereo := BytesToInt16(raw)
	return PCM{Samples: Downmix(stereo, 2), SampleRate: dec.SampleRate()}, nil
}

// Decode turns an encoded clip into mono PCM. MIME types that only name raw
// PCM ("audio/pcm;rate=16000", "audio/L16") are read as little-endian int16.
func Decode(data []byte, mimeType string) (PCM, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	base := mt
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		base = strings.TrimSpace(mt[:i])
	}

	switch {
	case base == "audio/wav" || base == "audio/x-wav" || base == "audio/wave":
		return ParseWAV(data)
	case base == "audio/mpeg" || base == "audio/mp3":
		return DecodeMP3(data)
	case base == "audio/pcm" || base == "audio/l16":
		return PCM{Samples: BytesToInt16(data), SampleRate: rateParam(mt)}, nil
	case base == "" && len(data) >= 12 && string(data[0:4]) == "RIFF":
		return ParseWAV(data)
	default:
		return PCM{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

func rateParam(mt string) int {
	for _, part := range strings.Split(mt, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k != "rate" {
			continue
		}
		n := 0
		for _, c := range v {
			if c < '0' || c > '9' {
				return DefaultSampleRate
			}
			n = n*10 + int(c-'0')
		}
		if n > 0 {
			return n
		}
	}
	return DefaultSampleRate
}
