package window

import (
	"github.com/chewxy/math32"

	"github.com/itohio/powermeter/pkg/microcode"
)

// Accumulator folds per-tick channel values into per-window sums.
// True RMS channels accumulate squares, the others accumulate plain values so that
// power channels report their mean.
type Accumulator struct {
	sum [microcode.MaxChannels]float32
	n   [microcode.MaxChannels]int
}

// Add folds one instantaneous value of channel ch.
func (a *Accumulator) Add(ch int, v float32, trueRMS bool) {
	if trueRMS {
		a.sum[ch] += v * v
	} else {
		a.sum[ch] += v
	}
	a.n[ch]++
}

// Finalize returns the window result of channel ch: sqrt(sum/N) for true RMS
// channels, sum/N otherwise. sum is the raw staged sum.
func (a *Accumulator) Finalize(ch int, trueRMS bool) (rms, sum float32) {
	sum = a.sum[ch]
	if a.n[ch] == 0 {
		return 0, sum
	}
	mean := sum / float32(a.n[ch])
	if !trueRMS {
		return mean, sum
	}
	if mean < 0 {
		mean = 0
	}
	return math32.Sqrt(mean), sum
}

// Count returns the number of values folded for channel ch.
func (a *Accumulator) Count(ch int) int {
	return a.n[ch]
}

// Reset clears every channel.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}
