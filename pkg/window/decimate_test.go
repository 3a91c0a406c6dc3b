package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimate_NoDecimation(t *testing.T) {
	values := []float32{1, 2, 3}

	// Test with nil dst
	result := Decimate(nil, values, 10)
	require.Equal(t, 3, len(result))
	assert.Equal(t, values, result)

	// Test with sufficient capacity dst
	dst := make([]float32, 0, 10)
	result = Decimate(dst, values, 10)
	require.Equal(t, 3, len(result))
	assert.Equal(t, values, result)
	// Should reuse dst
	assert.Equal(t, cap(dst), cap(result))
}

func TestDecimate_Window(t *testing.T) {
	values := make([]float32, NumberOfSamples)
	for i := range values {
		values[i] = float32(i)
	}

	dst := make([]float32, 0, NumberOfFFTSamples)
	result := Decimate(dst, values, NumberOfFFTSamples)
	require.Len(t, result, NumberOfFFTSamples)
	assert.Equal(t, cap(dst), cap(result))

	// Every eighth tick
	for i, v := range result {
		assert.Equal(t, float32(i*8), v)
	}
}

func TestDecimate_SmallDst(t *testing.T) {
	values := make([]float32, 100)
	result := Decimate(make([]float32, 0, 2), values, 10)
	assert.Len(t, result, 10)
}

func TestDecimatedRate(t *testing.T) {
	assert.Equal(t, float32(320), DecimatedRate(2560))
}
