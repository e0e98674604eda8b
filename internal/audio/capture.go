// internal/audio/capture.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
)

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 16000
	BufferSize  uint32 // frames per callback
}

// DefaultConfig returns sensible defaults for impulse detection
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  16000,
		BufferSize:  256,
	}
}

// SampleCallback is called directly from the audio thread with new samples.
// The same slice is then sent on Samples; the callback must not modify it.
type SampleCallback func(samples []int16)

// Capture reads mono signed 16-bit PCM from a capture device
type Capture struct {
	config      Config
	ctx         *malgo.AllocatedContext
	device      *malgo.Device
	running     atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
	mu          sync.Mutex
	callbackPtr atomic.Pointer[SampleCallback]

	// Samples receives a copy of every capture buffer. Buffers are dropped
	// when the consumer falls behind.
	Samples chan []int16
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config:  cfg,
		Samples: make(chan []int16, 64),
	}
}

// SetCallback sets a callback for real-time sample processing.
// The callback is invoked directly from the audio thread - it must be
// non-blocking and fast.
func (c *Capture) SetCallback(cb SampleCallback) {
	if cb == nil {
		c.callbackPtr.Store(nil)
		return
	}
	c.callbackPtr.Store(&cb)
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listDevicesLocked()
}

func (c *Capture) listDevicesLocked() ([]malgo.DeviceInfo, error) {
	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	return infos, nil
}

// Start begins audio capture. Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	if c.running.Load() {
		return ErrAlreadyRunning
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.BufferSize
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1

	if c.config.DeviceIndex >= 0 {
		devices, err := c.listDevicesLocked()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	onRecvFrames := func(_, inputSamples []byte, _ uint32) {
		if len(inputSamples) < 2 {
			return
		}

		// copy out: the driver reuses inputSamples after we return
		samples := bytesToInt16(inputSamples)

		if cbPtr := c.callbackPtr.Load(); cbPtr != nil {
			(*cbPtr)(samples)
		}

		c.safeSend(samples)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.device = device
	c.running.Store(true)

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// safeSend hands samples to the Samples channel without blocking. A send
// racing with Close is dropped.
func (c *Capture) safeSend(samples []int16) {
	if c.closed.Load() {
		return
	}
	defer func() {
		_ = recover()
	}()

	select {
	case c.Samples <- samples:
	default:
		// consumer too slow
	}
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}
	c.stopLocked()
	return nil
}

func (c *Capture) stopLocked() {
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	c.running.Store(false)
}

// Close releases all audio resources and closes Samples. Safe to call more
// than once.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.closed.Store(true)
		if c.running.Load() {
			c.stopLocked()
		}

		if c.ctx != nil {
			if uerr := c.ctx.Uninit(); uerr != nil {
				err = fmt.Errorf("uninit context: %w", uerr)
			}
			c.ctx.Free()
			c.ctx = nil
		}

		close(c.Samples)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// bytesToInt16 decodes little-endian S16 bytes into a new slice.
func bytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}
