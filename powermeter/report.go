package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/itohio/powermeter/pkg/adc"
	"github.com/itohio/powermeter/pkg/meter"
)

// registry is the part of the meter the report reads.
type registry interface {
	GroupActive(g int) bool
	GroupName(g int) string
	ChannelGroupID(ch int) int
	ChannelType(ch int) meter.ChannelType
	ChannelName(ch int) string
	ChannelReportExpMul(ch int) float32
	ChannelReportUnit(ch int) string
}

// reportLines formats one line per active group, e.g. "L1: I1=2.83 A U1=212.13 V".
func reportLines(r registry, s meter.Snapshot) []string {
	var lines []string
	for g := 0; g < meter.MaxGroups; g++ {
		if !r.GroupActive(g) {
			continue
		}
		var parts []string
		for ch := 0; ch < meter.MaxChannels; ch++ {
			if r.ChannelGroupID(ch) != g || r.ChannelType(ch) == meter.None {
				continue
			}
			v := s.RMS[ch] / r.ChannelReportExpMul(ch)
			parts = append(parts, fmt.Sprintf("%s=%.2f %s", r.ChannelName(ch), v, r.ChannelReportUnit(ch)))
		}
		if len(parts) == 0 {
			continue
		}
		lines = append(lines, r.GroupName(g)+": "+strings.Join(parts, " "))
	}
	return lines
}

// printPorts writes one serial port per line, marking the configured one.
func printPorts(w io.Writer, ports []adc.Port, configured string) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return
	}
	for _, p := range ports {
		mark := " "
		if p.Name == configured {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\n", mark, p.Description)
	}
}
