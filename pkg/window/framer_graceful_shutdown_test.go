package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/powermeter/pkg/adc"
)

// TestFramer_GracefulShutdown tests that the framer closes its output channel
// when the input channel is closed.
func TestFramer_GracefulShutdown(t *testing.T) {
	framer := NewFramer(2)
	input := make(chan adc.Frame, NumberOfSamples)
	output := framer(input)

	received := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		count := 0
		for range output {
			count++
		}
		received <- count
	}()

	// One full window plus a partial one
	now := time.Now()
	for i := 0; i < NumberOfSamples+10; i++ {
		input <- adc.Frame{
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
			Codes:     [adc.MaxSlots]uint16{2048, 1024},
			Count:     2,
		}
	}
	close(input)

	select {
	case <-done:
		// Output closed successfully
	case <-time.After(5 * time.Second):
		t.Fatal("Framer output channel did not close within timeout")
	}

	assert.Equal(t, 1, <-received, "partial window must be discarded")

	_, ok := <-output
	assert.False(t, ok, "Output channel should be closed")
}

// TestFramer_GracefulShutdown_Empty tests that the framer closes its output
// when the input closes without frames.
func TestFramer_GracefulShutdown_Empty(t *testing.T) {
	input := make(chan adc.Frame)
	output := NewFramer(0)(input)
	close(input)

	select {
	case _, ok := <-output:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("Framer output channel did not close within timeout")
	}
}
