package adc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/powermeter/pkg/config"
)

// mockTick is the generator period; each tick emits the frames due since the last one.
const mockTick = 20 * time.Millisecond

// Mock simulates a multi-phase sampler for testing and development. Every slot
// carries bias + amplitude*sin(2*pi*f*t + phase).
type Mock struct {
	cfg config.MockConfig

	frames    chan Frame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}

	// Simulation state
	rate    int     // samples per second per slot
	cycle   float64 // position within the network period, [0,1)
	elapsed float64 // seconds of simulated signal emitted so far
	carry   float64 // fractional frames owed to the next tick
	started time.Time
}

// NewMock creates a new mocked source sampling at rate Hz.
func NewMock(cfg *config.MockConfig, rate int) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	if rate <= 0 {
		rate = config.Default().Measurement.SampleRate
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:    *cfg,
		frames: make(chan Frame, DefaultBufferSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		rate:   rate,
	}
}

// Connect starts generating frames in real time.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	if m.ctx.Err() != nil {
		return fmt.Errorf("source was closed")
	}

	m.connected = true
	m.started = time.Now()

	go m.generateFrames()

	return nil
}

// Close stops the generator. The frames channel is closed once the generator exits.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.mu.Unlock()

	<-m.done
	return nil
}

// Frames returns the channel for reading frames.
func (m *Mock) Frames() <-chan Frame {
	return m.frames
}

// IsConnected returns whether the source is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetSampleRate changes the simulated sampling cadence.
func (m *Mock) SetSampleRate(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("invalid sample rate %d", hz)
	}
	m.mu.Lock()
	m.rate = hz
	m.mu.Unlock()
	return nil
}

// SampleRate returns the current simulated sampling cadence.
func (m *Mock) SampleRate() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rate
}

// Generate returns the next n frames synchronously.
func (m *Mock) Generate(n int) []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = m.nextFrame()
	}
	return frames
}

// generateFrames emits frames in real time until Close.
func (m *Mock) generateFrames() {
	defer close(m.done)
	defer close(m.frames)

	ticker := time.NewTicker(mockTick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			due := float64(m.rate)*mockTick.Seconds() + m.carry
			n := int(due)
			m.carry = due - float64(n)
			batch := make([]Frame, n)
			for i := range batch {
				batch[i] = m.nextFrame()
			}
			m.mu.Unlock()

			for _, f := range batch {
				select {
				case m.frames <- f:
				case <-m.ctx.Done():
					return
				}
			}
		}
	}
}

// nextFrame generates one frame and advances the simulated time. Requires m.mu.
func (m *Mock) nextFrame() Frame {
	f := Frame{
		Timestamp: m.started.Add(time.Duration(m.elapsed * float64(time.Second))),
		Count:     m.cfg.Slots,
	}
	if f.Count > MaxSlots {
		f.Count = MaxSlots
	}

	w := 2 * math32.Pi * float32(m.cycle)
	for i := 0; i < f.Count; i++ {
		f.Codes[i] = m.code(i, w)
	}

	dt := 1 / float64(m.rate)
	m.elapsed += dt
	m.cycle += m.cfg.Frequency * dt
	for m.cycle >= 1 {
		m.cycle--
	}
	return f
}

func (m *Mock) code(slot int, w float32) uint16 {
	var amp, phase float32
	if slot < len(m.cfg.Amplitudes) {
		amp = float32(m.cfg.Amplitudes[slot])
	}
	if slot < len(m.cfg.Phases) {
		phase = float32(m.cfg.Phases[slot]) * math32.Pi / 180
	}

	v := float32(m.cfg.Bias) + amp*math32.Sin(w+phase)
	if v < 0 {
		v = 0
	} else if v > MaxCode {
		v = MaxCode
	}
	return uint16(v + 0.5)
}
