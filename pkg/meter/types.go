package meter

import (
	"github.com/ansel1/merry"

	"github.com/itohio/powermeter/pkg/config"
)

// ChannelType is the electrical quantity a channel measures.
type ChannelType int

const (
	ACCurrent ChannelType = iota
	ACVoltage
	DCCurrent
	DCVoltage
	ACPower
	ACReactivePower
	DCPower
	None
)

// String returns the configuration name of the type, e.g. "AC_CURRENT".
func (t ChannelType) String() string {
	if !t.Valid() {
		return "INVALID"
	}
	return config.ChannelTypes[t]
}

// Valid reports whether t is a known type.
func (t ChannelType) Valid() bool {
	return t >= ACCurrent && t <= None
}

// IsVoltage reports whether the global phase shift correction applies to raw
// samples read through a channel of this type.
func (t ChannelType) IsVoltage() bool {
	return t == ACVoltage || t == DCVoltage
}

// IsAC reports whether raw samples read through a channel of this type have their
// window DC mean removed.
func (t ChannelType) IsAC() bool {
	return t == ACCurrent || t == ACVoltage
}

// Unit returns the SI unit of the type.
func (t ChannelType) Unit() string {
	switch t {
	case ACCurrent, DCCurrent:
		return "A"
	case ACVoltage, DCVoltage:
		return "V"
	case ACPower, DCPower:
		return "W"
	case ACReactivePower:
		return "VAr"
	}
	return ""
}

// ParseChannelType converts a configuration name to a ChannelType.
func ParseChannelType(name string) (ChannelType, error) {
	i := config.TypeIndex(name)
	if i < 0 {
		return None, merry.Prependf(ErrChannelType, "%q", name)
	}
	return ChannelType(i), nil
}
