package meter

import (
	"github.com/chewxy/math32"

	"github.com/itohio/powermeter/pkg/microcode"
	"github.com/itohio/powermeter/pkg/spectrum"
	"github.com/itohio/powermeter/pkg/window"
)

var _ microcode.Env = (*evalEnv)(nil)

// evalEnv exposes one sample tick of the window in flight to the interpreter.
type evalEnv struct {
	m    *Meter
	buf  *window.Buffer
	tick int
	q    int // Quarter network period in samples
}

func (e *evalEnv) Raw(ch int) (float32, bool) {
	if !e.buf.Has(ch) {
		return 0, false
	}
	t := &e.m.active
	c := &t.channels[ch]
	v := float32(e.buf.Shifted(ch, e.tick, t.shiftOf(ch)))
	if c.typ.IsAC() {
		v -= e.buf.Mean[ch]
	}
	return v*c.ratio + c.offset, true
}

func (e *evalEnv) Value(ch int) float32 {
	return e.m.values[ch]
}

func (e *evalEnv) Ratio(ch int) float32 {
	return e.m.active.channels[ch].ratio
}

func (e *evalEnv) Sign(ch int) float32 {
	return e.m.sign[ch]
}

func (e *evalEnv) Quadrature(ch int) float32 {
	return e.m.hist[ch][window.Index(e.tick, e.q)]
}

// quarterPeriod returns the number of samples in a quarter of the network period.
func quarterPeriod(rate int, hz float32) int {
	if hz <= 0 || rate <= 0 {
		return 1
	}
	q := int(float32(rate)/(4*hz) + 0.5)
	switch {
	case q < 1:
		return 1
	case q >= window.NumberOfSamples:
		return window.NumberOfSamples - 1
	}
	return q
}

// processWindow evaluates every channel program over buf and commits the results.
// Runs on the sampling loop only.
func (m *Meter) processWindow(buf *window.Buffer) {
	m.cfgMu.Lock()
	m.active = m.pending
	m.cfgMu.Unlock()
	t := &m.active

	rate := t.effectiveRate()
	m.mu.RLock()
	hz := m.nominal
	if m.freqValid {
		hz = m.frequency
	}
	m.mu.RUnlock()

	m.env.buf = buf
	m.env.q = quarterPeriod(rate, hz)
	m.acc.Reset()
	m.failed = [MaxChannels]bool{}

	for tick := 0; tick < window.NumberOfSamples; tick++ {
		m.env.tick = tick
		for ch := range t.channels {
			c := &t.channels[ch]
			var v float32
			if c.typ != None {
				var err error
				v, err = microcode.Exec(c.program, &m.env)
				if err != nil && !m.failed[ch] {
					m.failed[ch] = true
					m.log.Debug("channel program failed", "channel", ch, "tick", tick, "err", err)
				}
			}
			m.values[ch] = v
			m.hist[ch][tick] = v
			m.acc.Add(ch, v, c.trueRMS)
		}
	}

	var rms, sum, sign [MaxChannels]float32
	for ch := range t.channels {
		rms[ch], sum[ch] = m.acc.Finalize(ch, t.channels[ch].trueRMS)
		sign[ch] = m.signOf(ch, m.env.q)
	}

	freq, freqOK := m.estimateFrequency(rate)

	var (
		fft     [MaxChannels][window.NumberOfFFTSamples]uint16
		samples [window.NumberOfSamples]float32
	)
	for s := 0; s < min(buf.Slots, window.MaxSlots); s++ {
		for tick, w := range buf.Raw[s] {
			samples[tick] = float32(w)
		}
		m.dec = window.Decimate(m.dec, samples[:], window.NumberOfFFTSamples)
		m.mags = spectrum.Magnitudes(m.mags, m.dec)
		spectrum.Words(fft[s][:], m.mags)
	}

	m.mu.Lock()
	m.rms, m.sum, m.sign = rms, sum, sign
	m.frequency, m.freqValid = freq, freqOK
	m.raw = buf
	m.fft = fft
	m.windows++
	valid := !m.now().Before(m.invalidUntil)
	shutdown := m.shutdown
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if freqOK && valid && t.autoSampleRate {
		m.trackFrequency(freq)
	}

	if !shutdown {
		m.notifyCallbacks(snap)
	}
}

// signOf returns the sign register of ch after the window: the sign of the
// correlation with its group voltage a quarter period earlier. Channels without a
// voltage in their group keep their sign.
func (m *Meter) signOf(ch, q int) float32 {
	v := m.active.voltageOf(ch)
	if v < 0 {
		return m.sign[ch]
	}
	var corr float32
	for tick := range m.hist[ch] {
		corr += m.hist[ch][tick] * m.hist[v][window.Index(tick, q)]
	}
	if corr < 0 {
		return -1
	}
	return 1
}

// estimateFrequency estimates the network frequency from the reference channel
// of the window in flight.
func (m *Meter) estimateFrequency(rate int) (float32, bool) {
	ref := m.active.reference()
	if ref < 0 {
		return 0, false
	}
	m.dec = window.Decimate(m.dec, m.hist[ref][:], window.NumberOfFFTSamples)
	hz, ok := spectrum.Estimate(m.dec, window.DecimatedRate(float32(rate)))
	if !ok || hz < minNetworkFrequency || hz > maxNetworkFrequency {
		return 0, false
	}
	return hz, true
}

// trackFrequency moves the sample rate correction so that a window spans the same
// number of network cycles at the measured frequency as at the nominal one.
func (m *Meter) trackFrequency(hz float32) {
	m.cfgMu.Lock()
	t := &m.pending
	nominal := float32(t.sampleRate)
	target := int(math32.Floor(nominal*hz/t.networkFrequency - nominal + 0.5))
	if target > t.maxSampleRateCorr {
		target = t.maxSampleRateCorr
	} else if target < -t.maxSampleRateCorr {
		target = -t.maxSampleRateCorr
	}
	delta := target - t.sampleRateCorr
	if delta > -2 && delta < 2 {
		m.cfgMu.Unlock()
		return
	}
	t.sampleRateCorr = target
	rate := t.effectiveRate()
	settle := t.settle
	m.cfgMu.Unlock()

	m.log.Info("tracking network frequency", "frequency", hz, "corr", target)

	m.srcMu.Lock()
	src := m.source
	m.srcMu.Unlock()
	if src != nil {
		m.adjustRate(src, rate)
	}
	m.invalidate(settle)
}
