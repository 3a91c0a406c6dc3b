package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ansel1/merry"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/itohio/powermeter/pkg/microcode"
)

const (
	// MaxChannels is the number of logical channels.
	MaxChannels = microcode.MaxChannels
	// MaxGroups is the number of channel groups.
	MaxGroups = 6
)

// Channel type names as they appear in configuration files.
const (
	TypeACCurrent       = "AC_CURRENT"
	TypeACVoltage       = "AC_VOLTAGE"
	TypeDCCurrent       = "DC_CURRENT"
	TypeDCVoltage       = "DC_VOLTAGE"
	TypeACPower         = "AC_POWER"
	TypeACReactivePower = "AC_REACTIVE_POWER"
	TypeDCPower         = "DC_POWER"
	TypeNone            = "NONE"
)

// ChannelTypes lists the valid channel type names in enum order.
var ChannelTypes = []string{
	TypeACCurrent, TypeACVoltage, TypeDCCurrent, TypeDCVoltage,
	TypeACPower, TypeACReactivePower, TypeDCPower, TypeNone,
}

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial" toml:"serial"`
	Mock        MockConfig        `yaml:"mock" toml:"mock"`
	Measurement MeasurementConfig `yaml:"measurement" toml:"measurement"`
	Groups      []GroupConfig     `yaml:"groups" toml:"groups"`
	Channels    []ChannelConfig   `yaml:"channels" toml:"channels"`
}

// SerialConfig contains serial port configuration of the sampler.
type SerialConfig struct {
	Port     string `yaml:"port" toml:"port"`
	BaudRate int    `yaml:"baud_rate" toml:"baud_rate"`
}

// MockConfig contains the synthetic sampler configuration.
// Amplitudes and phases are indexed by raw ADC slot.
type MockConfig struct {
	Slots      int       `yaml:"slots" toml:"slots"`           // Number of raw slots per frame
	Frequency  float64   `yaml:"frequency" toml:"frequency"`   // Simulated network frequency (Hz)
	Bias       float64   `yaml:"bias" toml:"bias"`             // DC bias in ADC codes
	Amplitudes []float64 `yaml:"amplitudes" toml:"amplitudes"` // Peak amplitude in ADC codes
	Phases     []float64 `yaml:"phases" toml:"phases"`         // Phase in degrees
}

// MeasurementConfig contains the global acquisition and calibration parameters.
type MeasurementConfig struct {
	SampleRate        int     `yaml:"sample_rate" toml:"sample_rate"`                 // Nominal samples per second per raw slot
	NetworkFrequency  float64 `yaml:"network_frequency" toml:"network_frequency"`     // Nominal network frequency (Hz)
	ReferenceChannel  int     `yaml:"reference_channel" toml:"reference_channel"`     // Frequency reference, -1 = first AC voltage channel
	PhaseShiftCorr    int     `yaml:"phaseshift_corr" toml:"phaseshift_corr"`         // Added to the phase shift of voltage channels (samples)
	SampleRateCorr    int     `yaml:"samplerate_corr" toml:"samplerate_corr"`         // Added to the nominal sample rate
	AutoSampleRate    bool    `yaml:"auto_samplerate" toml:"auto_samplerate"`         // Track samplerate_corr from the measured frequency
	MaxSampleRateCorr int     `yaml:"max_samplerate_corr" toml:"max_samplerate_corr"` // Limit of the automatic correction
	SettleSeconds     int     `yaml:"settle_seconds" toml:"settle_seconds"`           // Invalid time after start and calibration writes
}

// GroupConfig contains a reporting group.
type GroupConfig struct {
	Name   string `yaml:"name" toml:"name"`
	Active bool   `yaml:"active" toml:"active"`
}

// ChannelConfig contains the calibration and program of one logical channel.
type ChannelConfig struct {
	Name       string  `yaml:"name" toml:"name"`
	Type       string  `yaml:"type" toml:"type"`
	PhaseShift int     `yaml:"phaseshift" toml:"phaseshift"`
	Ratio      float64 `yaml:"ratio" toml:"ratio"`
	Offset     float64 `yaml:"offset" toml:"offset"`
	TrueRMS    bool    `yaml:"true_rms" toml:"true_rms"`
	ReportExp  int     `yaml:"report_exp" toml:"report_exp"`
	GroupID    int     `yaml:"group_id" toml:"group_id"`
	Opcodes    string  `yaml:"opcodes" toml:"opcodes"`
}

// Default returns a three phase configuration. Each phase uses four channels
// (current, voltage, active power, reactive power) and channel 12 sums the
// three active powers.
func Default() *Config {
	cfg := &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 921600,
		},
		Mock: MockConfig{
			Slots:      6,
			Frequency:  50,
			Bias:       2048,
			Amplitudes: []float64{400, 1500, 400, 1500, 400, 1500},
			Phases:     []float64{-10, 0, -130, -120, -250, -240},
		},
		Measurement: MeasurementConfig{
			SampleRate:        2560, // 256 samples = 5 cycles at 50 Hz
			NetworkFrequency:  50,
			ReferenceChannel:  -1,
			PhaseShiftCorr:    0,
			SampleRateCorr:    0,
			AutoSampleRate:    false,
			MaxSampleRateCorr: 128,
			SettleSeconds:     2,
		},
	}

	for g := 0; g < MaxGroups; g++ {
		cfg.Groups = append(cfg.Groups, GroupConfig{
			Name:   fmt.Sprintf("L%d", g+1),
			Active: g < 3,
		})
	}

	for phase := 0; phase < 3; phase++ {
		i, u := 2*phase, 2*phase+1
		base := 4 * phase
		cfg.Channels = append(cfg.Channels,
			ChannelConfig{
				Name: fmt.Sprintf("I%d", phase+1), Type: TypeACCurrent, Ratio: 0.01, TrueRMS: true,
				GroupID: phase, Opcodes: fmt.Sprintf("GET_ADC%d", i),
			},
			ChannelConfig{
				Name: fmt.Sprintf("U%d", phase+1), Type: TypeACVoltage, Ratio: 0.2, TrueRMS: true,
				GroupID: phase, Opcodes: fmt.Sprintf("GET_ADC%d", u),
			},
			ChannelConfig{
				Name: fmt.Sprintf("P%d", phase+1), Type: TypeACPower, Ratio: 1, TrueRMS: false,
				GroupID: phase, Opcodes: fmt.Sprintf("ADD%d MUL%d", base, base+1),
			},
			ChannelConfig{
				Name: fmt.Sprintf("Q%d", phase+1), Type: TypeACReactivePower, Ratio: 1, TrueRMS: false,
				GroupID: phase, Opcodes: fmt.Sprintf("ADD%d MUL_REACTIVE%d", base, base+1),
			},
		)
	}
	cfg.Channels = append(cfg.Channels, ChannelConfig{
		Name: "P", Type: TypeACPower, Ratio: 1, ReportExp: 3, GroupID: 3, Opcodes: "ADD2 ADD6 ADD10",
	})
	for len(cfg.Channels) < MaxChannels {
		cfg.Channels = append(cfg.Channels, ChannelConfig{
			Name: fmt.Sprintf("CH%d", len(cfg.Channels)), Type: TypeNone, Ratio: 1, GroupID: -1,
		})
	}

	return cfg
}

// Load loads configuration from a YAML or TOML file (by extension). If the file
// doesn't exist or fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Tables come from the file only, so a short channel list is not mixed with defaults.
	cfg.Channels = nil
	cfg.Groups = nil

	if isTOML(filename) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML or TOML file (by extension).
func (c *Config) Save(filename string) error {
	var (
		data []byte
		err  error
	)
	if isTOML(filename) {
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isTOML(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".toml")
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Mock.Slots == 0 {
		c.Mock.Slots = def.Mock.Slots
	}
	if c.Mock.Frequency == 0 {
		c.Mock.Frequency = def.Mock.Frequency
	}
	if c.Mock.Bias == 0 {
		c.Mock.Bias = def.Mock.Bias
	}
	if len(c.Mock.Amplitudes) == 0 {
		c.Mock.Amplitudes = def.Mock.Amplitudes
	}
	if len(c.Mock.Phases) == 0 {
		c.Mock.Phases = def.Mock.Phases
	}

	if c.Measurement.SampleRate == 0 {
		c.Measurement.SampleRate = def.Measurement.SampleRate
	}
	if c.Measurement.NetworkFrequency == 0 {
		c.Measurement.NetworkFrequency = def.Measurement.NetworkFrequency
	}
	if c.Measurement.MaxSampleRateCorr == 0 {
		c.Measurement.MaxSampleRateCorr = def.Measurement.MaxSampleRateCorr
	}

	if len(c.Groups) == 0 {
		c.Groups = def.Groups
	}
	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	for i := range c.Channels {
		if c.Channels[i].Type == "" {
			c.Channels[i].Type = TypeNone
		}
		if c.Channels[i].Ratio == 0 {
			c.Channels[i].Ratio = 1
		}
	}
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if len(c.Channels) > MaxChannels {
		errs = multierror.Append(errs, merry.Errorf("too many channels: %d, max %d", len(c.Channels), MaxChannels))
	}
	if len(c.Groups) > MaxGroups {
		errs = multierror.Append(errs, merry.Errorf("too many groups: %d, max %d", len(c.Groups), MaxGroups))
	}
	if c.Measurement.SampleRate <= 0 {
		errs = multierror.Append(errs, merry.Errorf("invalid sample_rate=%d: must be positive", c.Measurement.SampleRate))
	}
	if f := c.Measurement.NetworkFrequency; f < 40 || f > 70 {
		errs = multierror.Append(errs, merry.Errorf("invalid network_frequency=%v: must be within 40..70 Hz", f))
	}
	if r := c.Measurement.ReferenceChannel; r < -1 || r >= MaxChannels {
		errs = multierror.Append(errs, merry.Errorf("invalid reference_channel=%d", r))
	}

	for i, ch := range c.Channels {
		if err := ch.Validate(); err != nil {
			errs = multierror.Append(errs, merry.Prependf(err, "channel %d", i))
		}
	}

	return errs.ErrorOrNil()
}

// Validate checks one channel entry.
func (ch ChannelConfig) Validate() error {
	if TypeIndex(ch.Type) < 0 {
		return merry.Errorf("unknown type %q", ch.Type)
	}
	switch ch.ReportExp {
	case -3, 0, 3:
	default:
		return merry.Errorf("invalid report_exp=%d: must be -3, 0 or 3", ch.ReportExp)
	}
	if ch.GroupID < -1 || ch.GroupID >= MaxGroups {
		return merry.Errorf("invalid group_id=%d", ch.GroupID)
	}
	if _, err := microcode.Parse(ch.Opcodes); err != nil {
		return merry.Prependf(err, "opcodes")
	}
	return nil
}

// TypeIndex returns the enum index of a channel type name, or -1.
func TypeIndex(name string) int {
	for i, t := range ChannelTypes {
		if strings.EqualFold(t, name) {
			return i
		}
	}
	return -1
}
