package adc

import "time"

const (
	// MaxSlots is the number of raw ADC slots in one interleaved frame.
	MaxSlots = 16
	// MaxCode is the largest 12-bit ADC code.
	MaxCode = 4095
)

// Frame is one interleaved set of raw ADC codes, one per sampled slot.
type Frame struct {
	Timestamp time.Time
	Codes     [MaxSlots]uint16
	Count     int // Number of valid slots in Codes
}

// Source defines the interface for raw sample sources (real or mocked).
type Source interface {
	Connect() error
	Close() error
	Frames() <-chan Frame
	IsConnected() bool
}

// RateAdjuster is implemented by sources whose sampling cadence can be trimmed.
type RateAdjuster interface {
	SetSampleRate(hz int) error
}

// Ensure Serial implements Source.
var _ Source = (*Serial)(nil)

// Ensure Mock implements Source.
var _ Source = (*Mock)(nil)

var (
	_ RateAdjuster = (*Serial)(nil)
	_ RateAdjuster = (*Mock)(nil)
)
