// Package meter evaluates the channel programs over measurement windows and
// publishes the per-window results.
package meter

import (
	"sync"
	"time"

	"github.com/ansel1/merry"
	"github.com/powerman/structlog"

	"github.com/itohio/powermeter/pkg/adc"
	"github.com/itohio/powermeter/pkg/config"
	"github.com/itohio/powermeter/pkg/microcode"
	"github.com/itohio/powermeter/pkg/window"
)

const (
	// MaxChannels is the number of logical channels.
	MaxChannels = microcode.MaxChannels
	// MaxGroups is the number of channel groups.
	MaxGroups = config.MaxGroups
)

var _ PowerMeter = (*Meter)(nil)

// PowerMeter turns measurement windows into channel results.
type PowerMeter interface {
	ProcessWindows(input <-chan *window.Buffer)
	ChannelRMS(ch int) float32
	Frequency() float32
	Valid() bool
	OnWindow(func(Snapshot)) // Register callback for committed windows
}

// Snapshot is the result of one committed window.
type Snapshot struct {
	Timestamp time.Time
	Window    uint64 // Sequence number of the window, starting at 1
	Valid     bool
	Frequency float32
	RMS       [MaxChannels]float32
	Sum       [MaxChannels]float32
	Sign      [MaxChannels]float32
}

// Option configures a Meter.
type Option func(*Meter)

// WithClock replaces time.Now, e.g. with a simulated clock.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// WithLogger replaces the package logger.
func WithLogger(log *structlog.Logger) Option {
	return func(m *Meter) { m.log = log }
}

// Meter implements PowerMeter.
//
// Configuration is double buffered: setters modify pending under cfgMu and the
// sampling loop copies pending into active at every window boundary, so a window
// is always evaluated against one consistent configuration. Results are replaced
// for all channels at once under mu when a window completes.
type Meter struct {
	cfgMu   sync.Mutex
	base    config.Config // sections the meter does not interpret
	pending tables
	active  tables // owned by the sampling loop

	// Sampling loop state
	values [MaxChannels]float32
	hist   [MaxChannels][window.NumberOfSamples]float32
	acc    window.Accumulator
	env    evalEnv
	failed [MaxChannels]bool
	dec    []float32
	mags   []float32

	// Results
	mu           sync.RWMutex
	rms          [MaxChannels]float32
	sum          [MaxChannels]float32
	sign         [MaxChannels]float32
	frequency    float32
	freqValid    bool
	nominal      float32
	raw          *window.Buffer
	fft          [MaxChannels][window.NumberOfFFTSamples]uint16
	windows      uint64
	invalidUntil time.Time
	shutdown     bool // Set when the input channel closes, prevents further callbacks

	// Update callbacks
	callbacks []func(Snapshot)
	saveHooks []func(*config.Config)
	cbMu      sync.RWMutex

	// Source
	srcMu  sync.Mutex
	source adc.Source
	done   chan struct{}

	now func() time.Time
	log *structlog.Logger
}

// New creates a Meter from cfg. Returns concrete type (*Meter).
func New(cfg *config.Config, opts ...Option) (*Meter, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, merry.Prepend(err, "invalid configuration")
	}

	m := &Meter{
		now: time.Now,
		log: structlog.New(structlog.KeyUnit, "meter"),
	}
	for _, opt := range opts {
		opt(m)
	}

	t, err := tablesFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	m.base = *cfg
	m.pending = t
	m.active = t
	for ch := range m.sign {
		m.sign[ch] = 1
	}
	m.env.m = m
	m.nominal = t.networkFrequency
	m.invalidUntil = m.now().Add(t.settle)

	return m, nil
}

// Start connects src and runs the sampling loop in a goroutine until Stop.
func (m *Meter) Start(src adc.Source) error {
	m.srcMu.Lock()
	defer m.srcMu.Unlock()

	if m.source != nil {
		return merry.New("meter already started")
	}
	if err := src.Connect(); err != nil {
		return merry.Prepend(err, "connect source")
	}

	m.source = src
	m.done = make(chan struct{})
	m.ResetShutdown()

	buffers := window.NewFramer(4)(src.Frames())
	go func(done chan struct{}) {
		defer close(done)
		m.ProcessWindows(buffers)
	}(m.done)

	m.cfgMu.Lock()
	rate := m.pending.effectiveRate()
	m.cfgMu.Unlock()
	m.adjustRate(src, rate)

	m.log.Info("started", "rate", rate)
	return nil
}

// Stop closes the source and waits for the sampling loop to drain.
func (m *Meter) Stop() error {
	m.srcMu.Lock()
	src, done := m.source, m.done
	m.source, m.done = nil, nil
	m.srcMu.Unlock()

	if src == nil {
		return nil
	}
	err := src.Close()
	<-done
	m.log.Info("stopped")
	return err
}

// ProcessWindows processes windows from the input channel.
// When the input channel closes, it sets shutdown flag to prevent further callbacks.
func (m *Meter) ProcessWindows(input <-chan *window.Buffer) {
	for buf := range input {
		m.processWindow(buf)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// ResetShutdown resets the shutdown flag, allowing callbacks to be sent again.
func (m *Meter) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// OnWindow registers a callback invoked after every committed window.
// The callback should return as fast as possible; it runs on the sampling loop.
func (m *Meter) OnWindow(callback func(Snapshot)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// OnSave registers a hook receiving the configuration when a save is requested.
func (m *Meter) OnSave(hook func(*config.Config)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.saveHooks = append(m.saveHooks, hook)
}

// RequestSave hands the current configuration to every OnSave hook.
func (m *Meter) RequestSave() {
	cfg := m.Config()

	m.cbMu.RLock()
	hooks := make([]func(*config.Config), len(m.saveHooks))
	copy(hooks, m.saveHooks)
	m.cbMu.RUnlock()

	for _, hook := range hooks {
		if hook != nil {
			hook(cfg)
		}
	}
}

// Snapshot returns the last committed window.
func (m *Meter) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Meter) snapshotLocked() Snapshot {
	s := Snapshot{
		Window:    m.windows,
		Valid:     !m.now().Before(m.invalidUntil),
		Frequency: m.frequencyLocked(),
		RMS:       m.rms,
		Sum:       m.sum,
		Sign:      m.sign,
	}
	if m.raw != nil {
		s.Timestamp = m.raw.Timestamp
	}
	return s
}

// notifyCallbacks invokes all registered callbacks with s.
func (m *Meter) notifyCallbacks(s Snapshot) {
	m.cbMu.RLock()
	callbacks := make([]func(Snapshot), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(s)
		}
	}
}

// Buffer returns the raw words of the last committed window, channel-major.
func (m *Meter) Buffer() [window.MaxSlots][window.NumberOfSamples]uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.raw == nil {
		return [window.MaxSlots][window.NumberOfSamples]uint16{}
	}
	return m.raw.Raw
}

// FFT returns the spectral buffer of the last committed window: per raw slot the
// mirrored amplitude spectrum in ADC codes.
func (m *Meter) FFT() [MaxChannels][window.NumberOfFFTSamples]uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fft
}

// Windows returns the number of committed windows.
func (m *Meter) Windows() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.windows
}
