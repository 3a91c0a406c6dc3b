package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/powermeter/pkg/adc"
)

func rampFrames(n, slots int, start time.Time) []adc.Frame {
	frames := make([]adc.Frame, n)
	for i := range frames {
		frames[i].Timestamp = start.Add(time.Duration(i) * time.Millisecond)
		frames[i].Count = slots
		for s := 0; s < slots; s++ {
			frames[i].Codes[s] = uint16(s*1000 + i%NumberOfSamples)
		}
	}
	return frames
}

func TestIndex(t *testing.T) {
	tests := []struct {
		name  string
		tick  int
		shift int
		want  int
	}{
		{"no shift", 10, 0, 10},
		{"delay", 10, 3, 7},
		{"delay wraps", 1, 3, NumberOfSamples - 2},
		{"advance", 10, -3, 13},
		{"advance wraps", NumberOfSamples - 1, -2, 1},
		{"shift larger than window", 5, NumberOfSamples + 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Index(tt.tick, tt.shift))
		})
	}
}

func TestFramer_WindowBoundaries(t *testing.T) {
	now := time.Now()
	frames := rampFrames(2*NumberOfSamples, 3, now)

	in := make(chan adc.Frame, len(frames))
	for _, f := range frames {
		in <- f
	}
	close(in)

	var bufs []*Buffer
	for b := range NewFramer(4)(in) {
		bufs = append(bufs, b)
	}
	require.Len(t, bufs, 2)

	for w, b := range bufs {
		assert.Equal(t, 3, b.Slots)
		assert.Equal(t, frames[w*NumberOfSamples].Timestamp, b.Timestamp)
		assert.Equal(t, uint16(0), b.Raw[0][0])
		assert.Equal(t, uint16(255), b.Raw[0][255])
		assert.Equal(t, uint16(2000+17), b.Raw[2][17])
		assert.Equal(t, uint16(0), b.Raw[3][17], "unsampled slots stay zero")
		assert.InDelta(t, 127.5, b.Mean[0], 1e-3)
		assert.InDelta(t, 1127.5, b.Mean[1], 1e-3)
	}
	assert.NotSame(t, bufs[0], bufs[1], "every window gets its own buffer")
}

func TestFramer_SlotsIsMinimumCount(t *testing.T) {
	frames := rampFrames(NumberOfSamples, 4, time.Now())
	frames[100].Count = 2

	in := make(chan adc.Frame, len(frames))
	for _, f := range frames {
		in <- f
	}
	close(in)

	b, ok := <-NewFramer(1)(in)
	require.True(t, ok)
	assert.Equal(t, 2, b.Slots)
	assert.True(t, b.Has(1))
	assert.False(t, b.Has(2))
	assert.False(t, b.Has(-1))
}

func TestFramer_OversizedCount(t *testing.T) {
	frames := rampFrames(NumberOfSamples, MaxSlots, time.Now())
	for i := range frames {
		frames[i].Count = MaxSlots + 4
	}

	b := Fill(frames)
	assert.Equal(t, MaxSlots, b.Slots)
	assert.InDelta(t, 15127.5, b.Mean[MaxSlots-1], 1e-2)

	in := make(chan adc.Frame, len(frames))
	for _, f := range frames {
		in <- f
	}
	close(in)

	b, ok := <-NewFramer(1)(in)
	require.True(t, ok)
	assert.Equal(t, MaxSlots, b.Slots)
	assert.False(t, b.Has(MaxSlots))

	frames[0].Count = -1
	assert.Equal(t, 0, Fill(frames).Slots)
}

func TestFill(t *testing.T) {
	frames := rampFrames(NumberOfSamples+5, 2, time.Now())
	b := Fill(frames)

	assert.Equal(t, 2, b.Slots)
	assert.Equal(t, uint16(1000+200), b.Raw[1][200])
	assert.Equal(t, uint16(1000+197), b.Shifted(1, 200, 3))
	assert.Equal(t, uint16(1000+254), b.Shifted(1, 0, 2))
	assert.InDelta(t, 1127.5, b.Mean[1], 1e-3)

	empty := Fill(nil)
	assert.Equal(t, 0, empty.Slots)
}
