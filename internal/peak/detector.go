// internal/peak/detector.go
// Package peak detects short impulses in a stream of 16-bit sample blocks
// using per-offset running medians and the window noise RMS.
//
// The online detector never allocates: RequiredSize reports how many bytes a
// configuration needs and Init places the whole state inside a caller-owned
// buffer. Only DetectRecording and New allocate.
//
// A Detector is not safe for concurrent use.
package peak

import "math"

// NoHit is the Result index reported when no impulse was detected.
const NoHit int64 = -1

// State is the detector's phase.
type State int

const (
	// StateFilling means the window is not yet full; no feed reports a hit
	StateFilling State = iota
	// StateActive means every feed evaluates the decision rule
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "filling"
}

// Result is the outcome of one Feed call.
type Result struct {
	// Hit is true when the middle block contains an impulse
	Hit bool
	// Index is the absolute stream position of the impulse, or NoHit
	Index int64
	// Deviation is the winning sample's distance above its offset median.
	// Only set once the window is full.
	Deviation int32
}

var miss = Result{Index: NoHit}

// Detector is the sliding-window impulse detector. It lives inside the buffer
// passed to Init and holds no Go pointers.
type Detector struct {
	cfg    Config
	layout layout
	window int // NumTaps * TapSize

	gen          uint64 // incremented once per block written
	next         int    // slot the next block is written to
	newest       int    // slot of the most recently written block
	sampleCount  int    // saturates at window
	latestOffset int64  // stream offset of the most recently written block
	sumSquares   uint64
}

// Feed integrates one block and, once the window is full, evaluates the
// window's middle block. block must hold at least TapSize samples; extra
// samples are ignored. offset is the absolute stream position of block[0].
func (d *Detector) Feed(block []int16, offset int64) Result {
	n, size := d.cfg.NumTaps, d.cfg.TapSize
	block = block[:size]

	d.gen++
	slot := d.next
	base := slot * size
	samples := d.samples()
	squares := d.squares()
	for i, v := range block {
		sq := uint32(int32(v) * int32(v))
		d.sumSquares -= uint64(squares[base+i])
		d.sumSquares += uint64(sq)
		squares[base+i] = sq
		samples[base+i] = v

		t := d.tracker(i)
		t.update(uint32(slot), d.gen, v)
	}

	d.newest = slot
	d.next = (slot + 1) % n
	d.sampleCount = min(d.sampleCount+size, d.window)
	d.latestOffset = offset

	if d.sampleCount < d.window {
		return miss
	}
	return d.evaluate()
}

// evaluate runs the decision rule against the middle block.
func (d *Detector) evaluate() Result {
	n, size := d.cfg.NumTaps, d.cfg.TapSize
	back := n / 2
	mid := (d.newest - back + n) % n
	block := d.samples()[mid*size : (mid+1)*size]

	best := 0
	bestDev := int32(block[0]) - int32(d.Median(0))
	for i := 1; i < size; i++ {
		dev := int32(block[i]) - int32(d.Median(i))
		if dev > bestDev {
			best, bestDev = i, dev
		}
	}

	res := Result{Index: NoHit, Deviation: bestDev}
	dev := float64(bestDev)
	if dev <= d.cfg.DetLevel {
		return res
	}
	if dev <= d.cfg.DetRMS*d.RMS() {
		return res
	}
	if !d.shapeOK(block, best) {
		return res
	}

	res.Hit = true
	res.Index = d.latestOffset - int64(back)*int64(size) + int64(best)
	return res
}

// shapeOK compares the median of the slice running forward from the
// candidate to the median of the slice running backward to it. Neither slice
// leaves the block.
func (d *Detector) shapeOK(block []int16, at int) bool {
	if d.cfg.DetEnergy == 0 {
		return true
	}
	scratch := d.scratch()
	before := sliceMedian(scratch, block[at:])
	after := sliceMedian(scratch, block[:at+1])
	return float64(before) > float64(after)*d.cfg.DetEnergy
}

// RMS returns the root mean square of every sample in the window. Slots not
// yet written count as zero.
func (d *Detector) RMS() float64 {
	return math.Sqrt(float64(d.sumSquares) / float64(d.window))
}

// SumSquares returns the running sum of squared samples over the window.
func (d *Detector) SumSquares() uint64 {
	return d.sumSquares
}

// Median returns the running median for one sample offset.
func (d *Detector) Median(offset int) int16 {
	t := d.tracker(offset)
	return t.median()
}

// State reports whether the window has filled.
func (d *Detector) State() State {
	if d.sampleCount < d.window {
		return StateFilling
	}
	return StateActive
}

// SampleCount returns the number of samples ingested, saturated at the window length.
func (d *Detector) SampleCount() int {
	return d.sampleCount
}

// Config returns the detector configuration
func (d *Detector) Config() Config {
	return d.cfg
}
