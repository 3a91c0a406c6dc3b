// Package window slices the raw frame stream into fixed measurement windows
// and reduces per-tick channel values to per-window results.
package window

import (
	"time"

	"github.com/powerman/structlog"

	"github.com/itohio/powermeter/pkg/adc"
)

const (
	// NumberOfSamples is the number of sample ticks in one window.
	NumberOfSamples = 256
	// NumberOfFFTSamples is the number of points of the reduced spectral estimate.
	NumberOfFFTSamples = 32
	// MaxSlots is the number of raw slots per frame.
	MaxSlots = adc.MaxSlots
)

var log = structlog.New(structlog.KeyUnit, "window")

// Buffer holds one window of raw ADC words in channel-major layout.
type Buffer struct {
	Timestamp time.Time // Timestamp of the first frame
	Slots     int       // Number of raw slots present in every frame of the window
	Raw       [MaxSlots][NumberOfSamples]uint16
	Mean      [MaxSlots]float32 // DC mean of each raw slot over the window
}

// Index returns the window position of tick delayed by shift samples, wrapping
// around the window edges.
func Index(tick, shift int) int {
	i := (tick - shift) % NumberOfSamples
	if i < 0 {
		i += NumberOfSamples
	}
	return i
}

// Shifted returns the raw word of slot at tick, read shift samples earlier.
func (b *Buffer) Shifted(slot, tick, shift int) uint16 {
	return b.Raw[slot][Index(tick, shift)]
}

// Has reports whether slot was sampled in this window.
func (b *Buffer) Has(slot int) bool {
	return slot >= 0 && slot < b.Slots
}

func (b *Buffer) computeMeans() {
	if b.Slots < 0 {
		b.Slots = 0
	}
	for s := 0; s < b.Slots; s++ {
		var sum uint32
		for _, v := range b.Raw[s] {
			sum += uint32(v)
		}
		b.Mean[s] = float32(sum) / NumberOfSamples
	}
}

// Framer is a function type that converts a Frame channel to a Buffer channel.
type Framer func(in <-chan adc.Frame) <-chan *Buffer

// NewFramer creates a framer that emits one Buffer every NumberOfSamples frames.
// A partial window is discarded when the input closes.
func NewFramer(bufSize int) Framer {
	if bufSize <= 0 {
		bufSize = 4
	}

	return func(in <-chan adc.Frame) <-chan *Buffer {
		out := make(chan *Buffer, bufSize)

		go func() {
			defer close(out)

			var (
				buf  *Buffer
				tick int
			)
			for f := range in {
				slots := min(f.Count, MaxSlots)
				if buf == nil {
					buf = &Buffer{Timestamp: f.Timestamp, Slots: slots}
				}
				if slots < buf.Slots {
					buf.Slots = slots
				}
				for s := 0; s < slots; s++ {
					buf.Raw[s][tick] = f.Codes[s]
				}

				tick++
				if tick < NumberOfSamples {
					continue
				}

				buf.computeMeans()
				select {
				case out <- buf:
				case <-time.After(time.Second):
					log.Warn("framer output channel full, dropping window")
				}
				buf, tick = nil, 0
			}
		}()

		return out
	}
}

// Fill builds a Buffer directly from frames, as NewFramer would for a full window.
// Missing trailing frames are left zero.
func Fill(frames []adc.Frame) *Buffer {
	b := &Buffer{}
	if len(frames) == 0 {
		return b
	}
	b.Timestamp = frames[0].Timestamp
	b.Slots = min(frames[0].Count, MaxSlots)
	for tick, f := range frames {
		if tick == NumberOfSamples {
			break
		}
		slots := min(f.Count, MaxSlots)
		if slots < b.Slots {
			b.Slots = slots
		}
		for s := 0; s < slots; s++ {
			b.Raw[s][tick] = f.Codes[s]
		}
	}
	b.computeMeans()
	return b
}
