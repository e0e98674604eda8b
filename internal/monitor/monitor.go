// internal/monitor/monitor.go
// Package monitor runs the impulse detector as a single consumer of sample
// buffers and turns detector hits into debounced events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ColonelBlimp/impulsedetect/internal/audio"
	"github.com/ColonelBlimp/impulsedetect/internal/peak"
)

var (
	// ErrInvalidSampleRate indicates the sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidHoldoff indicates the holdoff must be non-negative
	ErrInvalidHoldoff = errors.New("holdoff must be non-negative")
)

// Event is one reported impulse.
type Event struct {
	// ID uniquely identifies the event
	ID uuid.UUID
	// Index is the absolute sample position of the impulse
	Index int64
	// Offset is Index expressed as time since the start of the stream
	Offset time.Duration
	// Deviation is the impulse height above its offset median
	Deviation int32
	// NoiseRMS is the window RMS when the impulse was confirmed
	NoiseRMS float64
	// Detected is the wall clock time the event was emitted
	Detected time.Time
}

// EventCallback is called for every emitted event from the consumer goroutine.
type EventCallback func(event Event)

// Config holds monitor configuration
type Config struct {
	Peak       peak.Config
	SampleRate float64
	// Holdoff suppresses hits closer than this to the last event. Zero
	// reports every hit.
	Holdoff time.Duration
}

// Monitor feeds blocks to one detector. It is not safe for concurrent use;
// Run is the single consumer.
type Monitor struct {
	cfg      Config
	detector *peak.Detector
	framer   *audio.Framer
	metrics  *Metrics
	log      logrus.FieldLogger

	holdoffSamples int64
	lastIndex      int64
	haveLast       bool
	wasActive      bool

	callbackPtr atomic.Pointer[EventCallback]
	now         func() time.Time
}

// New creates a monitor. The detector state is allocated here, once; nothing
// is allocated per block afterwards apart from emitted events. reg may be nil.
func New(cfg Config, log logrus.FieldLogger, reg prometheus.Registerer) (*Monitor, error) {
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.Holdoff < 0 {
		return nil, ErrInvalidHoldoff
	}

	size, err := peak.RequiredSize(cfg.Peak)
	if err != nil {
		return nil, fmt.Errorf("size detector: %w", err)
	}
	det, err := peak.Init(make([]byte, size), cfg.Peak)
	if err != nil {
		return nil, fmt.Errorf("init detector: %w", err)
	}
	framer, err := audio.NewFramer(cfg.Peak.TapSize)
	if err != nil {
		return nil, fmt.Errorf("init framer: %w", err)
	}
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	log.WithFields(logrus.Fields{
		"num_taps":    cfg.Peak.NumTaps,
		"tap_size":    cfg.Peak.TapSize,
		"state_bytes": size,
		"latency":     latency(cfg),
	}).Debug("detector placed")

	return &Monitor{
		cfg:            cfg,
		detector:       det,
		framer:         framer,
		metrics:        metrics,
		log:            log,
		holdoffSamples: int64(cfg.Holdoff.Seconds() * cfg.SampleRate),
		now:            time.Now,
	}, nil
}

// latency is how far the evaluated middle block trails the newest sample.
func latency(cfg Config) time.Duration {
	samples := (cfg.Peak.NumTaps/2 + 1) * cfg.Peak.TapSize
	return time.Duration(float64(samples) / cfg.SampleRate * float64(time.Second))
}

// SetCallback sets the event callback. It runs on the consumer goroutine and
// must not block.
func (m *Monitor) SetCallback(cb EventCallback) {
	if cb == nil {
		m.callbackPtr.Store(nil)
		return
	}
	m.callbackPtr.Store(&cb)
}

// Run consumes sample buffers until in is closed or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, in <-chan []int16) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case samples, ok := <-in:
			if !ok {
				return nil
			}
			m.Write(samples)
		}
	}
}

// Write frames samples of any length into blocks and processes each one.
func (m *Monitor) Write(samples []int16) {
	m.framer.Write(samples, m.processBlock)
}

func (m *Monitor) processBlock(block []int16, offset int64) {
	m.Process(block, offset)
}

// Process feeds one complete block. It returns the emitted event, if any.
func (m *Monitor) Process(block []int16, offset int64) (Event, bool) {
	res := m.detector.Feed(block, offset)
	m.metrics.Blocks.Inc()

	if m.detector.State() != peak.StateActive {
		return Event{}, false
	}
	rms := m.detector.RMS()
	m.metrics.NoiseRMS.Set(rms)
	if !m.wasActive {
		m.wasActive = true
		m.log.WithField("offset", offset).Info("detector window full")
	}
	if !res.Hit {
		return Event{}, false
	}
	m.metrics.Hits.Inc()

	if m.haveLast && m.holdoffSamples > 0 && res.Index-m.lastIndex < m.holdoffSamples {
		m.metrics.Suppressed.Inc()
		m.log.WithField("index", res.Index).Trace("hit within holdoff")
		return Event{}, false
	}
	m.lastIndex = res.Index
	m.haveLast = true

	ev := Event{
		ID:        uuid.New(),
		Index:     res.Index,
		Offset:    time.Duration(float64(res.Index) / m.cfg.SampleRate * float64(time.Second)),
		Deviation: res.Deviation,
		NoiseRMS:  rms,
		Detected:  m.now(),
	}
	m.metrics.Events.Inc()
	m.log.WithFields(logrus.Fields{
		"id":        ev.ID,
		"index":     ev.Index,
		"at":        ev.Offset,
		"deviation": ev.Deviation,
		"rms":       fmt.Sprintf("%.1f", rms),
	}).Debug("impulse")

	if cbPtr := m.callbackPtr.Load(); cbPtr != nil {
		(*cbPtr)(ev)
	}
	return ev, true
}

// Reset clears detector, framer and holdoff state.
func (m *Monitor) Reset() {
	m.detector.Reset()
	m.framer.Reset()
	m.haveLast = false
	m.wasActive = false
}

// Detector exposes the underlying detector for inspection.
func (m *Monitor) Detector() *peak.Detector {
	return m.detector
}
