// internal/audio/framer.go
package audio

import "errors"

// ErrInvalidBlockSize indicates the framer block size must be positive
var ErrInvalidBlockSize = errors.New("block size must be positive")

// BlockFunc receives one complete block and the stream position of its first
// sample. block is only valid during the call.
type BlockFunc func(block []int16, offset int64)

// Framer cuts capture buffers of any length into fixed-size blocks with
// monotonically increasing stream offsets.
type Framer struct {
	buf    []int16
	fill   int
	offset int64 // stream position of buf[0]
}

// NewFramer creates a framer emitting blocks of size samples.
func NewFramer(size int) (*Framer, error) {
	if size <= 0 {
		return nil, ErrInvalidBlockSize
	}
	return &Framer{buf: make([]int16, size)}, nil
}

// Write appends samples and calls fn for every block completed.
func (f *Framer) Write(samples []int16, fn BlockFunc) {
	for len(samples) > 0 {
		n := copy(f.buf[f.fill:], samples)
		f.fill += n
		samples = samples[n:]

		if f.fill == len(f.buf) {
			fn(f.buf, f.offset)
			f.offset += int64(len(f.buf))
			f.fill = 0
		}
	}
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	return f.fill
}

// Offset returns the stream position of the next block.
func (f *Framer) Offset() int64 {
	return f.offset
}

// Reset discards buffered samples and restarts offsets at zero.
func (f *Framer) Reset() {
	f.fill = 0
	f.offset = 0
}
