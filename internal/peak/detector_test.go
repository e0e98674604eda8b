// internal/peak/detector_test.go
package peak

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll feeds blocks at consecutive offsets and returns the hit indices.
func feedAll(d *Detector, blocks [][]int16) []int64 {
	var hits []int64
	size := d.Config().TapSize
	for i, b := range blocks {
		res := d.Feed(b, int64(i*size))
		if res.Hit {
			hits = append(hits, res.Index)
		}
	}
	return hits
}

func newTestDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestFeed_SingleSpike(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 2, DetLevel: 1})

	hits := feedAll(d, [][]int16{{0, 0}, {10, 0}, {0, 0}})

	assert.Equal(t, []int64{2}, hits)
}

func TestFeed_TwoSpikes(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 4, DetLevel: 2})

	hits := feedAll(d, [][]int16{
		{0, 0, 0, 0},
		{0, 5, 0, 0},
		{0, 0, 6, 0},
		{0, 0, 0, 0},
	})

	assert.Equal(t, []int64{5, 10}, hits)
}

func TestFeed_NoHitWhileFilling(t *testing.T) {
	cfg := Config{NumTaps: 5, TapSize: 3}
	d := newTestDetector(t, cfg)

	spike := []int16{30000, 30000, 30000}
	for i := 0; i < cfg.NumTaps-1; i++ {
		assert.Equal(t, StateFilling, d.State())
		res := d.Feed(spike, int64(i*cfg.TapSize))
		assert.False(t, res.Hit, "feed %d reported a hit while filling", i)
		assert.Equal(t, NoHit, res.Index)
	}
	d.Feed(spike, int64((cfg.NumTaps-1)*cfg.TapSize))
	assert.Equal(t, StateActive, d.State())
	assert.Equal(t, cfg.NumTaps*cfg.TapSize, d.SampleCount())
}

func TestFeed_LevelGate(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 4, DetLevel: 6})

	hits := feedAll(d, [][]int16{
		{0, 0, 0, 0},
		{0, 5, 0, 0},
		{0, 0, 6, 0},
		{0, 0, 0, 0},
	})

	assert.Empty(t, hits, "deviations of 5 and 6 must not exceed a level of 6")
}

func TestFeed_RMSGate(t *testing.T) {
	blocks := [][]int16{{0, 0}, {10, 0}, {0, 0}}

	// window RMS = sqrt(100/6) ~ 4.08
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 2, DetLevel: 1, DetRMS: 2})
	assert.Equal(t, []int64{2}, feedAll(d, blocks))

	d = newTestDetector(t, Config{NumTaps: 3, TapSize: 2, DetLevel: 1, DetRMS: 3})
	assert.Empty(t, feedAll(d, blocks))
}

func TestFeed_ShapeGate(t *testing.T) {
	blocks := [][]int16{
		{0, 0, 0, 0},
		{8, 6, 6, 6},
		{0, 0, 0, 0},
	}

	tests := []struct {
		name   string
		energy float64
		want   []int64
	}{
		{"disabled", 0, []int64{4}},
		{"passes", 0.5, []int64{4}},
		{"fails", 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, Config{NumTaps: 3, TapSize: 4, DetLevel: 2, DetEnergy: tt.energy})
			assert.Equal(t, tt.want, feedAll(d, blocks))
		})
	}
}

func TestFeed_ShapeGateRejectsTrailingPeak(t *testing.T) {
	// forward slice [5 0 0] has median 0, backward slice [0 5] has median 5
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 4, DetLevel: 2, DetEnergy: 0.5})

	hits := feedAll(d, [][]int16{{0, 0, 0, 0}, {0, 5, 0, 0}, {0, 0, 0, 0}})

	assert.Empty(t, hits)
}

func TestFeed_TieResolvesToLowestOffset(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 4, DetLevel: 2})

	hits := feedAll(d, [][]int16{{0, 0, 0, 0}, {0, 7, 7, 0}, {0, 0, 0, 0}})

	assert.Equal(t, []int64{5}, hits)
}

func TestFeed_IndexFollowsCallerOffsets(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 2, DetLevel: 1})

	d.Feed([]int16{0, 0}, 1000)
	d.Feed([]int16{0, 10}, 1002)
	res := d.Feed([]int16{0, 0}, 1004)

	require.True(t, res.Hit)
	assert.Equal(t, int64(1003), res.Index)
	assert.Equal(t, int32(10), res.Deviation)
}

func TestFeed_MiddleBlockAcrossWrap(t *testing.T) {
	cfg := Config{NumTaps: 4, TapSize: 2, DetLevel: 50}
	d := newTestDetector(t, cfg)

	blocks := make([][]int16, 11)
	for i := range blocks {
		blocks[i] = []int16{0, 0}
	}
	blocks[7] = []int16{0, 100}

	// block 7 is the middle block once block 9 is written (4/2 = 2 blocks older)
	assert.Equal(t, []int64{15}, feedAll(d, blocks))
}

func TestFeed_SingleSampleBlocks(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 5, TapSize: 1, DetLevel: 10})

	blocks := [][]int16{{0}, {0}, {0}, {0}, {0}, {100}, {0}, {0}, {0}, {0}}
	hits := feedAll(d, blocks)

	assert.Equal(t, []int64{5}, hits)
}

func TestFeed_ExtraSamplesIgnored(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 3, TapSize: 2, DetLevel: 1})

	d.Feed([]int16{0, 0, 99}, 0)
	d.Feed([]int16{10, 0, 99}, 2)
	res := d.Feed([]int16{0, 0, 99}, 4)

	assert.True(t, res.Hit)
	assert.Equal(t, uint64(100), d.SumSquares())
}

// lowerMedian is the reference median: sorted[(n-1)/2].
func lowerMedian(values []int16) int16 {
	s := slices.Clone(values)
	slices.Sort(s)
	return s[(len(s)-1)/2]
}

func TestFeed_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	configs := []Config{
		{NumTaps: 2, TapSize: 1},
		{NumTaps: 3, TapSize: 4},
		{NumTaps: 8, TapSize: 3},
		{NumTaps: 15, TapSize: 5},
		{NumTaps: 64, TapSize: 2},
	}

	for _, cfg := range configs {
		d := newTestDetector(t, cfg)
		var history [][]int16

		for step := 0; step < 6*cfg.NumTaps; step++ {
			block := make([]int16, cfg.TapSize)
			for i := range block {
				switch rng.Intn(4) {
				case 0:
					block[i] = int16(rng.Intn(5) - 2) // many duplicates
				case 1:
					block[i] = int16(rng.Intn(65536) - 32768)
				default:
					block[i] = int16(rng.Intn(2001) - 1000)
				}
			}
			d.Feed(block, int64(step*cfg.TapSize))
			history = append(history, block)

			window := history[max(0, len(history)-cfg.NumTaps):]
			var sum uint64
			for off := 0; off < cfg.TapSize; off++ {
				column := make([]int16, 0, len(window))
				for _, b := range window {
					column = append(column, b[off])
					sum += uint64(int64(b[off]) * int64(b[off]))
				}
				require.Equal(t, lowerMedian(column), d.Median(off),
					"cfg=%+v step=%d offset=%d", cfg, step, off)
			}
			require.Equal(t, sum, d.SumSquares(), "cfg=%+v step=%d", cfg, step)
		}
	}
}

func TestReset_ReplaysIdentically(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cfg := Config{NumTaps: 7, TapSize: 8, DetLevel: 200, DetRMS: 1.5}

	blocks := make([][]int16, 60)
	for i := range blocks {
		blocks[i] = make([]int16, cfg.TapSize)
		for j := range blocks[i] {
			blocks[i][j] = int16(rng.Intn(401) - 200)
		}
		if rng.Intn(5) == 0 {
			blocks[i][rng.Intn(cfg.TapSize)] = 5000
		}
	}

	fresh := newTestDetector(t, cfg)
	want := feedAll(fresh, blocks)
	require.NotEmpty(t, want)

	reused := newTestDetector(t, cfg)
	feedAll(reused, blocks[:25])
	reused.Reset()

	assert.Equal(t, StateFilling, reused.State())
	assert.Zero(t, reused.SampleCount())
	assert.Zero(t, reused.SumSquares())
	assert.Equal(t, cfg, reused.Config())
	assert.Equal(t, want, feedAll(reused, blocks))
}

func TestFeed_DoesNotAllocate(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 9, TapSize: 16, DetLevel: 10, DetRMS: 1, DetEnergy: 0.5})
	block := make([]int16, 16)
	var offset int64

	allocs := testing.AllocsPerRun(200, func() {
		block[offset%16] = int16(offset * 37 % 1000)
		d.Feed(block, offset)
		offset += 16
	})

	assert.Zero(t, allocs)
}

func TestRMS(t *testing.T) {
	d := newTestDetector(t, Config{NumTaps: 2, TapSize: 2})

	d.Feed([]int16{3, -4}, 0)
	assert.InDelta(t, 2.5, d.RMS(), 1e-9) // sqrt(25/4)

	d.Feed([]int16{3, 4}, 2)
	assert.InDelta(t, 3.5355339, d.RMS(), 1e-6) // sqrt(50/4)

	d.Feed([]int16{0, 0}, 4)
	assert.InDelta(t, 2.5, d.RMS(), 1e-9)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "filling", StateFilling.String())
	assert.Equal(t, "active", StateActive.String())
}
