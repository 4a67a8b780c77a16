package driver

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var portAddressSuffix = regexp.MustCompile(`^(.*) ([0-9]+):([0-9]+)$`)

// ParsePortName splits a port display name as reported by rtmidi on ALSA
// ("Client:Port 20:0") into a PortInfo. Names without the trailing address get
// (number, 0) so they still resolve to something stable for the port's lifetime.
func ParsePortName(name string, number int) PortInfo {
	info := PortInfo{
		ClientName: name,
		PortName:   name,
		Address:    Address{Client: number, Port: 0},
	}

	match := portAddressSuffix.FindStringSubmatch(name)
	if len(match) == 0 {
		return info
	}

	client, err1 := strconv.Atoi(match[2])
	port, err2 := strconv.Atoi(match[3])
	if err1 != nil || err2 != nil {
		return info
	}
	info.Address = Address{Client: client, Port: port}

	clientName, portName, found := strings.Cut(match[1], ":")
	if !found {
		info.ClientName, info.PortName = match[1], match[1]
		return info
	}
	info.ClientName, info.PortName = clientName, portName
	return info
}

// ParseAddress resolves name against ports the way ALSA sequencer clients do:
// "C:P", "C", "client:P" and "client" (client name prefix match), and as a last
// resort the full display name, exact first, then substring.
func ParseAddress(name string, ports []PortInfo) (Address, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Address{}, false
	}

	sorted := make([]PortInfo, len(ports))
	copy(sorted, ports)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Address.Client != sorted[j].Address.Client {
			return sorted[i].Address.Client < sorted[j].Address.Client
		}
		return sorted[i].Address.Port < sorted[j].Address.Port
	})

	clientPart, portPart, hasPort := cutLast(name, ":")
	port := 0
	if hasPort {
		p, err := strconv.Atoi(portPart)
		if err != nil {
			// "client:port name" style, not an ALSA address
			return matchDisplayName(name, sorted)
		}
		port = p
	} else {
		clientPart = name
	}

	if client, err := strconv.Atoi(clientPart); err == nil {
		addr := Address{Client: client, Port: port}
		for _, p := range sorted {
			if p.Address == addr {
				return addr, true
			}
		}
		return Address{}, false
	}

	for _, p := range sorted {
		if !strings.HasPrefix(p.ClientName, clientPart) {
			continue
		}
		if hasPort && p.Address.Port != port {
			continue
		}
		return p.Address, true
	}

	return matchDisplayName(name, sorted)
}

func matchDisplayName(name string, ports []PortInfo) (Address, bool) {
	for _, p := range ports {
		if p.ClientName+":"+p.PortName == name || p.PortName == name {
			return p.Address, true
		}
	}
	for _, p := range ports {
		if strings.Contains(p.ClientName+":"+p.PortName, name) {
			return p.Address, true
		}
	}
	return Address{}, false
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
