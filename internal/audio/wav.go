// internal/audio/wav.go
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mjibson/go-dsp/wav"
)

// ErrUnsupportedWAV indicates a WAV encoding other than 16-bit PCM or 32-bit float
var ErrUnsupportedWAV = errors.New("unsupported wav encoding")

// wavChunk is the number of interleaved samples decoded per read
const wavChunk = 4096

// Recording is a decoded mono recording.
type Recording struct {
	SampleRate int
	Channels   int // channels in the source file; only the first is kept
	Samples    []int16
}

// LoadWAV decodes the first channel of a WAV file. 16-bit PCM is used as is,
// 32-bit float is scaled to the 16-bit range.
func LoadWAV(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	return ReadWAV(f)
}

// ReadWAV decodes the first channel of a WAV stream.
func ReadWAV(r io.Reader) (*Recording, error) {
	w, err := wav.New(r)
	if err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	channels := int(w.NumChannels)
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedWAV, channels)
	}
	if w.BitsPerSample != 16 && w.BitsPerSample != 32 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, w.BitsPerSample)
	}

	rec := &Recording{
		SampleRate: int(w.SampleRate),
		Channels:   channels,
		Samples:    make([]int16, 0, w.Samples/channels),
	}

	// keep chunks frame aligned so channel 0 stays at index 0 mod channels
	chunk := wavChunk - wavChunk%channels
	for remaining := w.Samples; remaining > 0; {
		n := min(chunk, remaining)
		data, err := w.ReadSamples(n)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}

		switch s := data.(type) {
		case []int16:
			for i := 0; i < len(s); i += channels {
				rec.Samples = append(rec.Samples, s[i])
			}
		case []float32:
			for i := 0; i < len(s); i += channels {
				rec.Samples = append(rec.Samples, floatToInt16(s[i]))
			}
		default:
			return nil, fmt.Errorf("%w: sample type %T", ErrUnsupportedWAV, data)
		}
		remaining -= n
	}

	return rec, nil
}

func floatToInt16(v float32) int16 {
	scaled := math.Round(float64(v) * math.MaxInt16)
	return int16(max(math.MinInt16, min(math.MaxInt16, scaled)))
}
