// Package spectrum estimates the network frequency from a reduced window.
package spectrum

import (
	"github.com/chewxy/math32"
)

// minMagnitude is the smallest peak magnitude treated as a signal.
const minMagnitude = 1e-3

// Magnitudes returns the single-sided amplitude spectrum of samples: the mean is
// removed, a periodic Hann window applied, and bins 0..N/2 of the DFT are scaled so
// that a sine of amplitude A centred on a bin reads A.
// Destination-based: reuses dst if it has sufficient capacity.
func Magnitudes(dst []float32, samples []float32) []float32 {
	n := len(samples)
	bins := n/2 + 1
	if n == 0 {
		return dst[:0]
	}
	if cap(dst) >= bins {
		dst = dst[:bins]
	} else {
		dst = make([]float32, bins)
	}

	var mean float32
	for _, v := range samples {
		mean += v
	}
	mean /= float32(n)

	windowed := make([]float32, n)
	var gain float32
	for i, v := range samples {
		w := 0.5 - 0.5*math32.Cos(2*math32.Pi*float32(i)/float32(n))
		windowed[i] = (v - mean) * w
		gain += w
	}

	for k := 0; k < bins; k++ {
		var re, im float32
		for i, v := range windowed {
			angle := -2 * math32.Pi * float32((k*i)%n) / float32(n)
			re += v * math32.Cos(angle)
			im += v * math32.Sin(angle)
		}
		mag := math32.Sqrt(re*re + im*im)
		if k != 0 && k != n/2 {
			mag *= 2
		}
		dst[k] = mag / gain
	}

	return dst
}

// Estimate returns the dominant frequency of samples taken at rate Hz. The peak bin
// (DC excluded) is refined by Gaussian interpolation over its neighbours.
// ok is false for flat input or when there are too few samples.
func Estimate(samples []float32, rate float32) (hz float32, ok bool) {
	if len(samples) < 4 || rate <= 0 {
		return 0, false
	}
	mags := Magnitudes(nil, samples)
	return Peak(mags, rate/float32(len(samples)))
}

// Peak locates the strongest non-DC bin of mags and converts it to Hz using the
// bin width. ok is false when no bin rises above the noise floor.
func Peak(mags []float32, binWidth float32) (hz float32, ok bool) {
	peak := -1
	var peakMag float32
	for k := 1; k < len(mags); k++ {
		if mags[k] > peakMag {
			peak, peakMag = k, mags[k]
		}
	}
	if peak < 0 || peakMag < minMagnitude {
		return 0, false
	}

	bin := float32(peak)
	if peak > 1 && peak < len(mags)-1 {
		bin += gaussianOffset(mags[peak-1], mags[peak], mags[peak+1])
	}
	return bin * binWidth, true
}

// gaussianOffset fits a parabola to the log magnitudes of three bins and returns the
// vertex offset from the centre bin, limited to half a bin.
func gaussianOffset(left, centre, right float32) float32 {
	if left <= 0 || right <= 0 {
		return 0
	}
	l, c, r := math32.Log(left), math32.Log(centre), math32.Log(right)
	den := 2 * (2*c - l - r)
	if math32.Abs(den) < 1e-6 {
		return 0
	}
	p := (r - l) / den
	if p > 0.5 {
		p = 0.5
	} else if p < -0.5 {
		p = -0.5
	}
	return p
}

// Words stores mags mirrored into n unsigned words: bins 0..n/2 as is, the upper
// half reflected as the negative frequencies of a full length-n transform.
// Values are rounded and clamped to the uint16 range.
func Words(dst []uint16, mags []float32) {
	n := len(dst)
	for k := range dst {
		src := k
		if k > n/2 {
			src = n - k
		}
		var v float32
		if src < len(mags) {
			v = mags[src]
		}
		switch {
		case v <= 0:
			dst[k] = 0
		case v >= 65535:
			dst[k] = 65535
		default:
			dst[k] = uint16(v + 0.5)
		}
	}
}
