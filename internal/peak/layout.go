// internal/peak/layout.go
package peak

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"unsafe"
)

var (
	// ErrConfigInvalid indicates num_taps or tap_size is out of range
	ErrConfigInvalid = errors.New("invalid detector configuration")
	// ErrBufferTooSmall indicates the caller's buffer is smaller than RequiredSize
	ErrBufferTooSmall = errors.New("buffer too small for detector state")
	// ErrInvalidArgument indicates a missing or unusable argument, or a size overflow
	ErrInvalidArgument = errors.New("invalid argument")
)

// align is the placement alignment for every region inside the buffer.
const align = 8

// Config holds the detector configuration. It is fixed for the lifetime of a
// detector instance.
type Config struct {
	// NumTaps is the number of blocks held in the window (at least 2)
	NumTaps int
	// TapSize is the number of samples per block (at least 1)
	TapSize int
	// DetLevel is the absolute deviation floor
	DetLevel float64
	// DetRMS is the multiplier on the window noise RMS
	DetRMS float64
	// DetEnergy is the ratio threshold of the shape test; 0 disables it
	DetEnergy float64
}

// layout is the set of byte offsets of each region, relative to the start of
// the buffer. The detector header itself sits at offset 0.
type layout struct {
	samples  uintptr
	squares  uintptr
	scratch  uintptr
	trackers uintptr
	lower    uintptr
	upper    uintptr
	slots    uintptr
	total    uintptr
}

// sizer accumulates aligned region sizes and remembers any overflow.
type sizer struct {
	off      uintptr
	overflow bool
}

func (s *sizer) mul(a, b uintptr) uintptr {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		s.overflow = true
		return 0
	}
	return uintptr(lo)
}

// region reserves n bytes at the next aligned offset and returns that offset.
func (s *sizer) region(n uintptr) uintptr {
	start := s.off
	end, carry := bits.Add64(uint64(start), uint64(n), 0)
	padded, carry2 := bits.Add64(end, align-1, 0)
	if carry != 0 || carry2 != 0 || padded > math.MaxInt {
		s.overflow = true
		return 0
	}
	s.off = uintptr(padded &^ (align - 1))
	return start
}

func computeLayout(cfg Config) (layout, error) {
	if cfg.NumTaps < 2 || cfg.TapSize < 1 {
		return layout{}, fmt.Errorf("%w: num_taps=%d tap_size=%d", ErrConfigInvalid, cfg.NumTaps, cfg.TapSize)
	}
	if uint64(cfg.NumTaps) > math.MaxUint32 {
		return layout{}, fmt.Errorf("%w: num_taps %d overflows slot index", ErrInvalidArgument, cfg.NumTaps)
	}

	var s sizer
	taps := uintptr(cfg.NumTaps)
	size := uintptr(cfg.TapSize)
	window := s.mul(taps, size)

	var l layout
	s.region(unsafe.Sizeof(Detector{}))
	l.samples = s.region(s.mul(window, unsafe.Sizeof(int16(0))))
	l.squares = s.region(s.mul(window, unsafe.Sizeof(uint32(0))))
	l.scratch = s.region(s.mul(size, unsafe.Sizeof(int16(0))))
	l.trackers = s.region(s.mul(size, unsafe.Sizeof(trackerHeader{})))
	l.lower = s.region(s.mul(window, unsafe.Sizeof(record{})))
	l.upper = s.region(s.mul(window, unsafe.Sizeof(record{})))
	l.slots = s.region(s.mul(window, unsafe.Sizeof(slotState{})))
	l.total = s.off

	if s.overflow {
		return layout{}, fmt.Errorf("%w: num_taps=%d tap_size=%d overflows address space", ErrInvalidArgument, cfg.NumTaps, cfg.TapSize)
	}
	return l, nil
}

// RequiredSize returns the exact number of bytes Init needs for cfg.
func RequiredSize(cfg Config) (int, error) {
	l, err := computeLayout(cfg)
	if err != nil {
		return 0, err
	}
	return int(l.total), nil
}

// Init places a detector inside buf and returns it. No memory is allocated:
// the detector and all of its state live in buf, which the caller keeps
// owning. buf must be 8-byte aligned (any slice from make is) and at least
// RequiredSize(cfg) bytes long. On error buf is left untouched.
func Init(buf []byte, cfg Config) (*Detector, error) {
	l, err := computeLayout(cfg)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: nil buffer", ErrInvalidArgument)
	}
	if uintptr(len(buf)) < l.total {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, len(buf), l.total)
	}
	if uintptr(unsafe.Pointer(&buf[0]))%align != 0 {
		return nil, fmt.Errorf("%w: buffer is not %d-byte aligned", ErrInvalidArgument, align)
	}

	clear(buf[:l.total])
	d := (*Detector)(unsafe.Pointer(&buf[0]))
	d.cfg = cfg
	d.layout = l
	d.window = cfg.NumTaps * cfg.TapSize
	return d, nil
}

// New allocates a buffer of exactly RequiredSize(cfg) bytes and places a
// detector in it.
func New(cfg Config) (*Detector, error) {
	size, err := RequiredSize(cfg)
	if err != nil {
		return nil, err
	}
	return Init(make([]byte, size), cfg)
}

// Reset clears the window, trackers, accumulator and counters in place. The
// configuration and placement are kept.
func (d *Detector) Reset() {
	hdr := unsafe.Sizeof(Detector{})
	clear(unsafe.Slice((*byte)(d.at(hdr)), d.layout.total-hdr))
	d.gen = 0
	d.next = 0
	d.newest = 0
	d.sampleCount = 0
	d.latestOffset = 0
	d.sumSquares = 0
}

func (d *Detector) at(off uintptr) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(d), off)
}

func (d *Detector) samples() []int16 {
	return unsafe.Slice((*int16)(d.at(d.layout.samples)), d.window)
}

func (d *Detector) squares() []uint32 {
	return unsafe.Slice((*uint32)(d.at(d.layout.squares)), d.window)
}

func (d *Detector) scratch() []int16 {
	return unsafe.Slice((*int16)(d.at(d.layout.scratch)), d.cfg.TapSize)
}

// tracker returns a view of the median tracker for one offset.
func (d *Detector) tracker(offset int) tracker {
	n := d.cfg.NumTaps
	base := uintptr(offset * n)
	hdr := (*trackerHeader)(d.at(d.layout.trackers + uintptr(offset)*unsafe.Sizeof(trackerHeader{})))
	recSize := unsafe.Sizeof(record{})
	return tracker{
		hdr: hdr,
		lower: recordHeap{
			recs: unsafe.Slice((*record)(d.at(d.layout.lower+base*recSize)), n),
			size: &hdr.lowerLen,
			max:  true,
		},
		upper: recordHeap{
			recs: unsafe.Slice((*record)(d.at(d.layout.upper+base*recSize)), n),
			size: &hdr.upperLen,
		},
		slots: unsafe.Slice((*slotState)(d.at(d.layout.slots+base*unsafe.Sizeof(slotState{}))), n),
	}
}
