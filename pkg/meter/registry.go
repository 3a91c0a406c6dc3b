package meter

import (
	"time"

	"github.com/ansel1/merry"

	"github.com/itohio/powermeter/pkg/config"
	"github.com/itohio/powermeter/pkg/microcode"
	"github.com/itohio/powermeter/pkg/window"
)

var (
	ErrChannelRange = merry.New("channel index out of range")
	ErrGroupRange   = merry.New("group index out of range")
	ErrReportExp    = merry.New("report exponent must be -3, 0 or 3")
	ErrPhaseShift   = merry.New("phase shift out of range")
	ErrFrequency    = merry.New("network frequency out of range")
	ErrChannelType  = merry.New("unknown channel type")
	ErrSampleRate   = merry.New("sample rate correction out of range")
)

type channel struct {
	name       string
	typ        ChannelType
	phaseShift int
	ratio      float32
	offset     float32
	trueRMS    bool
	reportExp  int
	groupID    int
	program    microcode.Program
}

type group struct {
	name   string
	active bool
}

// tables is the complete configuration the sampling loop evaluates a window with.
type tables struct {
	channels [MaxChannels]channel
	groups   [MaxGroups]group

	sampleRate        int
	networkFrequency  float32
	referenceChannel  int
	phaseShiftCorr    int
	sampleRateCorr    int
	autoSampleRate    bool
	maxSampleRateCorr int
	settle            time.Duration
}

func tablesFromConfig(cfg *config.Config) (tables, error) {
	var t tables
	for ch := range t.channels {
		t.channels[ch] = channel{typ: None, ratio: 1, groupID: -1}
	}

	for ch, cc := range cfg.Channels {
		typ, err := ParseChannelType(cc.Type)
		if err != nil {
			return tables{}, merry.Prependf(err, "channel %d", ch)
		}
		prog, err := microcode.Parse(cc.Opcodes)
		if err != nil {
			return tables{}, merry.Prependf(err, "channel %d", ch)
		}
		t.channels[ch] = channel{
			name:       cc.Name,
			typ:        typ,
			phaseShift: cc.PhaseShift,
			ratio:      float32(cc.Ratio),
			offset:     float32(cc.Offset),
			trueRMS:    cc.TrueRMS,
			reportExp:  cc.ReportExp,
			groupID:    cc.GroupID,
			program:    prog,
		}
	}
	for g, gc := range cfg.Groups {
		t.groups[g] = group{name: gc.Name, active: gc.Active}
	}

	mc := cfg.Measurement
	t.sampleRate = mc.SampleRate
	t.networkFrequency = float32(mc.NetworkFrequency)
	t.referenceChannel = mc.ReferenceChannel
	t.phaseShiftCorr = mc.PhaseShiftCorr
	t.sampleRateCorr = mc.SampleRateCorr
	t.autoSampleRate = mc.AutoSampleRate
	t.maxSampleRateCorr = mc.MaxSampleRateCorr
	t.settle = time.Duration(mc.SettleSeconds) * time.Second

	return t, nil
}

func (t *tables) effectiveRate() int {
	return t.sampleRate + t.sampleRateCorr
}

// shiftOf returns the total sample shift applied to raw slot ch.
func (t *tables) shiftOf(ch int) int {
	c := &t.channels[ch]
	if c.typ.IsVoltage() {
		return c.phaseShift + t.phaseShiftCorr
	}
	return c.phaseShift
}

// reference returns the frequency reference channel, or -1.
func (t *tables) reference() int {
	if r := t.referenceChannel; r >= 0 && r < MaxChannels {
		return r
	}
	for ch := range t.channels {
		if t.channels[ch].typ == ACVoltage {
			return ch
		}
	}
	return -1
}

// voltageOf returns the lowest AC voltage channel of group g other than ch, or -1.
func (t *tables) voltageOf(ch int) int {
	g := t.channels[ch].groupID
	if g < 0 {
		return -1
	}
	for v := range t.channels {
		if v != ch && t.channels[v].groupID == g && t.channels[v].typ == ACVoltage {
			return v
		}
	}
	return -1
}

// Config returns the current configuration for persistence.
func (m *Meter) Config() *config.Config {
	m.cfgMu.Lock()
	t := m.pending
	cfg := &config.Config{
		Serial: m.base.Serial,
		Mock:   m.base.Mock,
	}
	m.cfgMu.Unlock()

	cfg.Channels = make([]config.ChannelConfig, MaxChannels)
	for ch, c := range t.channels {
		cfg.Channels[ch] = config.ChannelConfig{
			Name:       c.name,
			Type:       c.typ.String(),
			PhaseShift: c.phaseShift,
			Ratio:      float64(c.ratio),
			Offset:     float64(c.offset),
			TrueRMS:    c.trueRMS,
			ReportExp:  c.reportExp,
			GroupID:    c.groupID,
			Opcodes:    c.program.String(),
		}
	}
	cfg.Groups = make([]config.GroupConfig, MaxGroups)
	for g, gr := range t.groups {
		cfg.Groups[g] = config.GroupConfig{Name: gr.name, Active: gr.active}
	}

	cfg.Measurement = config.MeasurementConfig{
		SampleRate:        t.sampleRate,
		NetworkFrequency:  float64(t.networkFrequency),
		ReferenceChannel:  t.referenceChannel,
		PhaseShiftCorr:    t.phaseShiftCorr,
		SampleRateCorr:    t.sampleRateCorr,
		AutoSampleRate:    t.autoSampleRate,
		MaxSampleRateCorr: t.maxSampleRateCorr,
		SettleSeconds:     int(t.settle / time.Second),
	}
	return cfg
}

// updateChannel validates ch and applies fn to its pending configuration.
func (m *Meter) updateChannel(ch int, fn func(c *channel) error) error {
	if ch < 0 || ch >= MaxChannels {
		return merry.Appendf(ErrChannelRange, "%d", ch)
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	c := m.pending.channels[ch]
	if err := fn(&c); err != nil {
		return err
	}
	m.pending.channels[ch] = c
	return nil
}

// channelConfig returns the pending configuration of ch, ok is false when out of range.
func (m *Meter) channelConfig(ch int) (channel, bool) {
	if ch < 0 || ch >= MaxChannels {
		return channel{typ: None, groupID: -1}, false
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.pending.channels[ch], true
}

// SetChannelName sets the display label of ch.
func (m *Meter) SetChannelName(ch int, name string) error {
	return m.updateChannel(ch, func(c *channel) error {
		c.name = name
		return nil
	})
}

// SetChannelType sets the measured quantity of ch.
func (m *Meter) SetChannelType(ch int, t ChannelType) error {
	if !t.Valid() {
		return merry.Appendf(ErrChannelType, "%d", int(t))
	}
	return m.updateChannel(ch, func(c *channel) error {
		c.typ = t
		return nil
	})
}

// SetChannelRatio sets the calibration ratio of ch and invalidates measurements.
func (m *Meter) SetChannelRatio(ch int, ratio float32) error {
	err := m.updateChannel(ch, func(c *channel) error {
		c.ratio = ratio
		return nil
	})
	return m.settleAfter(err)
}

// SetChannelOffset sets the calibration offset of ch and invalidates measurements.
func (m *Meter) SetChannelOffset(ch int, offset float32) error {
	err := m.updateChannel(ch, func(c *channel) error {
		c.offset = offset
		return nil
	})
	return m.settleAfter(err)
}

// SetChannelPhaseShift sets the sample offset used when reading raw slot ch.
func (m *Meter) SetChannelPhaseShift(ch int, shift int) error {
	if shift <= -window.NumberOfSamples || shift >= window.NumberOfSamples {
		return merry.Appendf(ErrPhaseShift, "%d", shift)
	}
	err := m.updateChannel(ch, func(c *channel) error {
		c.phaseShift = shift
		return nil
	})
	return m.settleAfter(err)
}

// SetChannelTrueRMS selects quadratic mean (true) or plain mean (false) for ch.
func (m *Meter) SetChannelTrueRMS(ch int, trueRMS bool) error {
	return m.updateChannel(ch, func(c *channel) error {
		c.trueRMS = trueRMS
		return nil
	})
}

// SetChannelReportExp sets the display exponent of ch: -3, 0 or 3.
func (m *Meter) SetChannelReportExp(ch int, exp int) error {
	switch exp {
	case -3, 0, 3:
	default:
		return merry.Appendf(ErrReportExp, "%d", exp)
	}
	return m.updateChannel(ch, func(c *channel) error {
		c.reportExp = exp
		return nil
	})
}

// SetChannelGroupID assigns ch to group g, -1 for none.
func (m *Meter) SetChannelGroupID(ch int, g int) error {
	if g < -1 || g >= MaxGroups {
		return merry.Appendf(ErrGroupRange, "%d", g)
	}
	return m.updateChannel(ch, func(c *channel) error {
		c.groupID = g
		return nil
	})
}

// SetChannelProgram replaces the opcode sequence of ch. Slots after the first BRK
// are cleared; undefined operations are rejected.
func (m *Meter) SetChannelProgram(ch int, p microcode.Program) error {
	p = p.Normalize()
	for i := 0; i < p.Len(); i++ {
		if !p[i].Op().Valid() {
			return merry.Appendf(microcode.ErrBadOpcode, "slot %d: %s", i, p[i])
		}
	}
	return m.updateChannel(ch, func(c *channel) error {
		c.program = p
		return nil
	})
}

// SetChannelOpcodes replaces the opcode sequence of ch from raw bytes.
func (m *Meter) SetChannelOpcodes(ch int, ops []byte) error {
	if len(ops) > microcode.MaxOps {
		return merry.Appendf(microcode.ErrProgramTooLong, "%d bytes", len(ops))
	}
	return m.SetChannelProgram(ch, microcode.FromBytes(ops))
}

// SetChannelOpcodeString replaces the opcode sequence of ch from its mnemonic or hex form.
func (m *Meter) SetChannelOpcodeString(ch int, s string) error {
	p, err := microcode.Parse(s)
	if err != nil {
		return err
	}
	return m.SetChannelProgram(ch, p)
}

func (m *Meter) ChannelName(ch int) string {
	c, _ := m.channelConfig(ch)
	return c.name
}

func (m *Meter) ChannelType(ch int) ChannelType {
	c, _ := m.channelConfig(ch)
	return c.typ
}

func (m *Meter) ChannelRatio(ch int) float32 {
	c, _ := m.channelConfig(ch)
	return c.ratio
}

func (m *Meter) ChannelOffset(ch int) float32 {
	c, _ := m.channelConfig(ch)
	return c.offset
}

func (m *Meter) ChannelPhaseShift(ch int) int {
	c, _ := m.channelConfig(ch)
	return c.phaseShift
}

func (m *Meter) ChannelTrueRMS(ch int) bool {
	c, _ := m.channelConfig(ch)
	return c.trueRMS
}

func (m *Meter) ChannelReportExp(ch int) int {
	c, _ := m.channelConfig(ch)
	return c.reportExp
}

// ChannelGroupID returns the group of ch, -1 when ungrouped or out of range.
func (m *Meter) ChannelGroupID(ch int) int {
	c, _ := m.channelConfig(ch)
	return c.groupID
}

func (m *Meter) ChannelProgram(ch int) microcode.Program {
	c, _ := m.channelConfig(ch)
	return c.program
}

// ChannelOpcodes returns the opcode sequence of ch as MaxOps raw bytes.
func (m *Meter) ChannelOpcodes(ch int) []byte {
	return m.ChannelProgram(ch).Bytes()
}

// ChannelOpcodeString returns the mnemonic form of the opcode sequence of ch.
func (m *Meter) ChannelOpcodeString(ch int) string {
	return m.ChannelProgram(ch).String()
}

// ChannelReportExpMul returns 10^report_exp.
func (m *Meter) ChannelReportExpMul(ch int) float32 {
	switch m.ChannelReportExp(ch) {
	case -3:
		return 0.001
	case 3:
		return 1000
	}
	return 1
}

// ChannelReportUnit returns the unit string of ch, e.g. "kW" or "mA".
func (m *Meter) ChannelReportUnit(ch int) string {
	c, _ := m.channelConfig(ch)
	unit := c.typ.Unit()
	if unit == "" {
		return ""
	}
	switch c.reportExp {
	case -3:
		return "m" + unit
	case 3:
		return "k" + unit
	}
	return unit
}

// ChannelRMS returns the last committed window result of ch.
func (m *Meter) ChannelRMS(ch int) float32 {
	if ch < 0 || ch >= MaxChannels {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rms[ch]
}

// ChannelSum returns the raw staged sum of the last committed window of ch.
func (m *Meter) ChannelSum(ch int) float32 {
	if ch < 0 || ch >= MaxChannels {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sum[ch]
}

// ChannelSign returns the sign register of ch.
func (m *Meter) ChannelSign(ch int) float32 {
	if ch < 0 || ch >= MaxChannels {
		return 1
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sign[ch]
}

// ChannelReportValue returns the result of ch in its report unit.
func (m *Meter) ChannelReportValue(ch int) float32 {
	return m.ChannelRMS(ch) / m.ChannelReportExpMul(ch)
}

// SetGroupName sets the display label of group g.
func (m *Meter) SetGroupName(g int, name string) error {
	if g < 0 || g >= MaxGroups {
		return merry.Appendf(ErrGroupRange, "%d", g)
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.pending.groups[g].name = name
	return nil
}

// SetGroupActive enables or disables reporting of group g.
func (m *Meter) SetGroupActive(g int, active bool) error {
	if g < 0 || g >= MaxGroups {
		return merry.Appendf(ErrGroupRange, "%d", g)
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.pending.groups[g].active = active
	return nil
}

func (m *Meter) GroupName(g int) string {
	if g < 0 || g >= MaxGroups {
		return ""
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.pending.groups[g].name
}

func (m *Meter) GroupActive(g int) bool {
	if g < 0 || g >= MaxGroups {
		return false
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.pending.groups[g].active
}

// GroupEntries returns the number of channels assigned to group g.
func (m *Meter) GroupEntries(g int) int {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	n := 0
	for _, c := range m.pending.channels {
		if c.groupID == g {
			n++
		}
	}
	return n
}

// GroupEntriesWithType returns the number of channels of type t in group g.
func (m *Meter) GroupEntriesWithType(g int, t ChannelType) int {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	n := 0
	for _, c := range m.pending.channels {
		if c.groupID == g && c.typ == t {
			n++
		}
	}
	return n
}

// ChannelWithGroupAndType returns the lowest channel of type t in group g, or -1.
func (m *Meter) ChannelWithGroupAndType(g int, t ChannelType) int {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	for ch, c := range m.pending.channels {
		if c.groupID == g && c.typ == t {
			return ch
		}
	}
	return -1
}
