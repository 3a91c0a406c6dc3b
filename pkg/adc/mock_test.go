package adc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/powermeter/pkg/config"
)

func TestMock_Defaults(t *testing.T) {
	mock := NewMock(nil, 0)
	assert.Equal(t, config.Default().Measurement.SampleRate, mock.SampleRate())
	assert.Equal(t, config.Default().Mock.Slots, mock.cfg.Slots)
	assert.False(t, mock.IsConnected())
}

func TestMock_Generate(t *testing.T) {
	cfg := config.MockConfig{
		Slots:      3,
		Frequency:  50,
		Bias:       2048,
		Amplitudes: []float64{100, 1000, 0},
		Phases:     []float64{0, 90, 0},
	}
	mock := NewMock(&cfg, 2000)

	// 40 samples per cycle at 50 Hz.
	frames := mock.Generate(80)
	require.Len(t, frames, 80)

	tests := []struct {
		name  string
		index int
		slot  int
		want  uint16
	}{
		{"slot0 zero crossing", 0, 0, 2048},
		{"slot0 positive peak", 10, 0, 2148},
		{"slot0 negative peak", 30, 0, 1948},
		{"slot1 leads by 90 degrees", 0, 1, 3048},
		{"slot1 after quarter cycle", 10, 1, 2048},
		{"slot2 is DC", 17, 2, 2048},
		{"second cycle repeats", 50, 0, 2148},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := frames[tt.index]
			assert.Equal(t, 3, f.Count)
			assert.InDelta(t, tt.want, f.Codes[tt.slot], 1)
		})
	}
}

func TestMock_GenerateClamps(t *testing.T) {
	cfg := config.MockConfig{
		Slots:      1,
		Frequency:  50,
		Bias:       2048,
		Amplitudes: []float64{4000},
	}
	mock := NewMock(&cfg, 2000)

	for _, f := range mock.Generate(40) {
		assert.LessOrEqual(t, f.Codes[0], uint16(MaxCode))
	}
	assert.Equal(t, uint16(MaxCode), mock.Generate(40)[10].Codes[0])
}

func TestMock_SetSampleRate(t *testing.T) {
	cfg := config.MockConfig{
		Slots:      1,
		Frequency:  50,
		Bias:       2048,
		Amplitudes: []float64{100},
	}
	mock := NewMock(&cfg, 2000)

	assert.Error(t, mock.SetSampleRate(0))
	require.NoError(t, mock.SetSampleRate(4000))
	assert.Equal(t, 4000, mock.SampleRate())

	// 80 samples per cycle: the positive peak moves to index 20.
	frames := mock.Generate(40)
	assert.InDelta(t, 2148, frames[20].Codes[0], 1)
	assert.Equal(t, frames[1].Timestamp.Sub(frames[0].Timestamp).Microseconds(), int64(250))
}
