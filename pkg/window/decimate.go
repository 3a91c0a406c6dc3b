package window

// Decimate reduces values to points entries by simple decimation.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// Returns the destination slice (may be dst if reused, or a new slice if dst was too small).
// If len(values) <= points, copies all values to dst.
func Decimate(dst []float32, values []float32, points int) []float32 {
	if len(values) <= points {
		if cap(dst) >= len(values) {
			dst = dst[:len(values)]
			copy(dst, values)
			return dst
		}
		result := make([]float32, len(values))
		copy(result, values)
		return result
	}

	if cap(dst) >= points {
		dst = dst[:0]
	} else {
		dst = make([]float32, 0, points)
	}

	step := float64(len(values)) / float64(points)

	for i := 0; i < points; i++ {
		idx := int(float64(i) * step)
		if idx < len(values) {
			dst = append(dst, values[idx])
		}
	}

	return dst
}

// DecimatedRate returns the sample rate of a window of NumberOfSamples ticks at rate
// after decimation to NumberOfFFTSamples points.
func DecimatedRate(rate float32) float32 {
	return rate * NumberOfFFTSamples / NumberOfSamples
}
