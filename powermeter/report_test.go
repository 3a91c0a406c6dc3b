package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/powermeter/pkg/adc"
	"github.com/itohio/powermeter/pkg/config"
	"github.com/itohio/powermeter/pkg/meter"
)

func TestReportLines(t *testing.T) {
	cfg := config.Default()
	cfg.Groups[3].Active = true
	m, err := meter.New(cfg)
	require.NoError(t, err)

	var s meter.Snapshot
	s.RMS[0] = 2.5
	s.RMS[1] = 230
	s.RMS[2] = 575
	s.RMS[3] = -12
	s.RMS[12] = 1725

	lines := reportLines(m, s)
	require.Len(t, lines, 4)
	assert.Equal(t, "L1: I1=2.50 A U1=230.00 V P1=575.00 W Q1=-12.00 VAr", lines[0])
	assert.Equal(t, "L2: I2=0.00 A U2=0.00 V P2=0.00 W Q2=0.00 VAr", lines[1])
	assert.Equal(t, "L4: P=1.73 kW", lines[3])
}

func TestReportLines_SkipsInactiveAndEmptyGroups(t *testing.T) {
	cfg := config.Default()
	cfg.Groups[0].Active = false
	cfg.Groups[5].Active = true
	m, err := meter.New(cfg)
	require.NoError(t, err)

	lines := reportLines(m, meter.Snapshot{})
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "L2:")
	assert.Contains(t, lines[1], "L3:")
}

func TestPrintPorts(t *testing.T) {
	var buf bytes.Buffer
	printPorts(&buf, []adc.Port{
		{Name: "/dev/ttyUSB0", Description: "/dev/ttyUSB0"},
		{Name: "/dev/ttyACM0", Description: "/dev/ttyACM0"},
	}, "/dev/ttyACM0")
	assert.Equal(t, "  /dev/ttyUSB0\n* /dev/ttyACM0\n", buf.String())

	buf.Reset()
	printPorts(&buf, nil, "")
	assert.Equal(t, "no serial ports found\n", buf.String())
}
