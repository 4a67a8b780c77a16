package main

import (
	"fmt"
	"strings"

	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
	"github.com/gethiox/midiroute/internal/pkg/midi/router"
	"github.com/logrusorgru/aurora"
)

// overview renders router ports, one line per logical port.
func overview(au aurora.Aurora, status []router.PortStatus) []string {
	var lines []string
	for _, s := range status {
		dir := s.Direction
		dirSep := 6 - len(dir)
		if dirSep < 0 {
			dirSep = 0
		}

		addr := au.Gray(12, "unbound").String()
		if s.Address != nil {
			addr = colorForString(au, s.Address.String()).String()
		}

		line := fmt.Sprintf(
			"%s: %s @ %s, refs: %d",
			strings.Repeat(" ", dirSep)+colorForString(au, dir).String(),
			colorForString(au, s.Name).String(),
			addr,
			s.Refs,
		)
		if s.Direction == "input" {
			line += fmt.Sprintf(", processors: %d", s.Processors)
		}
		lines = append(lines, line)
	}
	return lines
}

// portTable renders transport ports the way `midiroute ports` prints them.
func portTable(au aurora.Aurora, ports []driver.PortInfo) []string {
	var lines []string
	for _, p := range ports {
		caps := ""
		if p.Input {
			caps += "r"
		} else {
			caps += "-"
		}
		if p.Output {
			caps += "w"
		} else {
			caps += "-"
		}

		addr := p.Address.String()
		addrSep := 7 - len(addr)
		if addrSep < 0 {
			addrSep = 0
		}

		lines = append(lines, fmt.Sprintf(
			"%s%s %s %s: %s",
			strings.Repeat(" ", addrSep),
			au.Reset(addr).Colorize(color(1, 1, 5)).String(),
			caps,
			colorForString(au, p.ClientName).String(),
			p.PortName,
		))
	}
	return lines
}
