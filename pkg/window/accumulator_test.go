package window

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestAccumulator_ConstantValues(t *testing.T) {
	tests := []struct {
		name    string
		v       float32
		trueRMS bool
		want    float32
	}{
		{"true rms positive", 3.5, true, 3.5},
		{"true rms negative is magnitude", -7, true, 7},
		{"true rms zero", 0, true, 0},
		{"mean positive", 50, false, 50},
		{"mean keeps sign", -12.25, false, -12.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc Accumulator
			for i := 0; i < NumberOfSamples; i++ {
				acc.Add(4, tt.v, tt.trueRMS)
			}
			rms, _ := acc.Finalize(4, tt.trueRMS)
			assert.InDelta(t, tt.want, rms, 1e-4)
			assert.Equal(t, NumberOfSamples, acc.Count(4))
		})
	}
}

func TestAccumulator_SineRMS(t *testing.T) {
	var acc Accumulator
	for i := 0; i < NumberOfSamples; i++ {
		// 5 full periods
		acc.Add(0, 100*math32.Sin(2*math32.Pi*5*float32(i)/NumberOfSamples), true)
	}
	rms, sum := acc.Finalize(0, true)
	assert.InDelta(t, 100/math32.Sqrt(2), rms, 0.01)
	assert.InDelta(t, 100*100/2*NumberOfSamples, sum, 50)
}

func TestAccumulator_ChannelsAreIndependent(t *testing.T) {
	var acc Accumulator
	acc.Add(0, 2, true)
	acc.Add(0, 2, true)
	acc.Add(1, 6, false)

	rms0, sum0 := acc.Finalize(0, true)
	rms1, sum1 := acc.Finalize(1, false)
	assert.Equal(t, float32(2), rms0)
	assert.Equal(t, float32(8), sum0)
	assert.Equal(t, float32(6), rms1)
	assert.Equal(t, float32(6), sum1)

	rms2, sum2 := acc.Finalize(2, true)
	assert.Zero(t, rms2)
	assert.Zero(t, sum2)
}

func TestAccumulator_Reset(t *testing.T) {
	var acc Accumulator
	acc.Add(3, 10, false)
	acc.Reset()
	assert.Equal(t, 0, acc.Count(3))
	rms, sum := acc.Finalize(3, false)
	assert.Zero(t, rms)
	assert.Zero(t, sum)
}
