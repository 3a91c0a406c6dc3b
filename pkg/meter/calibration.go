package meter

import (
	"time"

	"github.com/ansel1/merry"

	"github.com/itohio/powermeter/pkg/adc"
	"github.com/itohio/powermeter/pkg/window"
)

const (
	minNetworkFrequency = 40
	maxNetworkFrequency = 70
)

// SetPhaseShiftCorr sets the sample shift added to every voltage type channel.
func (m *Meter) SetPhaseShiftCorr(shift int) error {
	if shift <= -window.NumberOfSamples || shift >= window.NumberOfSamples {
		return merry.Appendf(ErrPhaseShift, "%d", shift)
	}
	m.cfgMu.Lock()
	m.pending.phaseShiftCorr = shift
	m.cfgMu.Unlock()
	return m.settleAfter(nil)
}

func (m *Meter) PhaseShiftCorr() int {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.pending.phaseShiftCorr
}

// SetSampleRateCorr sets the sample rate correction in Hz. The corrected rate is
// forwarded to the running source when it accepts rate changes.
func (m *Meter) SetSampleRateCorr(corr int) error {
	m.cfgMu.Lock()
	limit := m.pending.maxSampleRateCorr
	if corr < -limit || corr > limit {
		m.cfgMu.Unlock()
		return merry.Appendf(ErrSampleRate, "%d not within ±%d", corr, limit)
	}
	m.pending.sampleRateCorr = corr
	rate := m.pending.effectiveRate()
	m.cfgMu.Unlock()

	m.srcMu.Lock()
	src := m.source
	m.srcMu.Unlock()
	if src != nil {
		m.adjustRate(src, rate)
	}
	return m.settleAfter(nil)
}

func (m *Meter) SampleRateCorr() int {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.pending.sampleRateCorr
}

// SampleRate returns the corrected sample rate in Hz.
func (m *Meter) SampleRate() int {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.pending.effectiveRate()
}

// SetAutoSampleRate enables tracking of the measured network frequency with the
// sample rate correction.
func (m *Meter) SetAutoSampleRate(enabled bool) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.pending.autoSampleRate = enabled
}

// SetNetworkFrequency overrides the nominal network frequency.
func (m *Meter) SetNetworkFrequency(hz float32) error {
	if hz < minNetworkFrequency || hz > maxNetworkFrequency {
		return merry.Appendf(ErrFrequency, "%g Hz", hz)
	}
	m.cfgMu.Lock()
	m.pending.networkFrequency = hz
	m.cfgMu.Unlock()

	m.mu.Lock()
	m.nominal = hz
	m.mu.Unlock()
	return nil
}

// NetworkFrequency returns the nominal network frequency.
func (m *Meter) NetworkFrequency() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nominal
}

// SetReferenceChannel selects the voltage channel the frequency is estimated from,
// -1 selects the first AC voltage channel.
func (m *Meter) SetReferenceChannel(ch int) error {
	if ch < -1 || ch >= MaxChannels {
		return merry.Appendf(ErrChannelRange, "%d", ch)
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.pending.referenceChannel = ch
	return nil
}

// Frequency returns the measured network frequency, or the nominal one when there
// is no estimate yet or the measurement is invalid.
func (m *Meter) Frequency() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frequencyLocked()
}

func (m *Meter) frequencyLocked() float32 {
	if !m.freqValid || m.now().Before(m.invalidUntil) {
		return m.nominal
	}
	return m.frequency
}

// Invalidate marks the measurement untrustworthy for the given number of seconds.
// An invalid period already running past that point is kept.
func (m *Meter) Invalidate(seconds int) {
	m.invalidate(time.Duration(seconds) * time.Second)
}

func (m *Meter) invalidate(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until := m.now().Add(d); until.After(m.invalidUntil) {
		m.invalidUntil = until
	}
}

// Valid reports whether RMS and frequency readings can be trusted.
func (m *Meter) Valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.now().Before(m.invalidUntil)
}

// settleAfter invalidates the measurement for the settle time unless err is set.
func (m *Meter) settleAfter(err error) error {
	if err != nil {
		return err
	}
	m.cfgMu.Lock()
	settle := m.pending.settle
	m.cfgMu.Unlock()

	m.invalidate(settle)
	return nil
}

// adjustRate forwards rate to src when it supports rate changes.
func (m *Meter) adjustRate(src adc.Source, rate int) {
	ra, ok := src.(adc.RateAdjuster)
	if !ok {
		return
	}
	if err := ra.SetSampleRate(rate); err != nil {
		m.log.Warn("failed to adjust sample rate", "rate", rate, "err", err)
		return
	}
	m.log.Debug("sample rate adjusted", "rate", rate)
}
