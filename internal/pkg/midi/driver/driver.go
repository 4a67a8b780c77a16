package driver

import (
	"context"
	"fmt"

	"github.com/gethiox/midiroute/internal/pkg/midi"
)

// Address identifies a transport port. It is assigned by the transport and is
// not stable across device replug.
type Address struct {
	Client int
	Port   int
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Client, a.Port)
}

type EventType int

const (
	Other EventType = iota
	PortStart
	PortExit
	Message
)

func (t EventType) String() string {
	switch t {
	case PortStart:
		return "port_start"
	case PortExit:
		return "port_exit"
	case Message:
		return "message"
	default:
		return "other"
	}
}

// Event is a transport event, classified once when it is read.
// Addr is the started/exited port for PortStart/PortExit and the source port for Message.
type Event struct {
	Type EventType
	Addr Address
	Data midi.Event
}

// PortInfo describes a port currently known to the transport.
type PortInfo struct {
	ClientName string
	PortName   string
	Address    Address
	Input      bool // device produces events that can be read
	Output     bool // device accepts events
}

func (p PortInfo) String() string {
	return fmt.Sprintf("%s:%s %s", p.ClientName, p.PortName, p.Address)
}

// Client is the shared endpoint on a MIDI transport. Subscriptions always have the
// endpoint itself (Self) on one side: (device, Self) for input, (Self, device) for output.
type Client interface {
	Self() Address
	// Resolve parses a symbolic port name, false means nothing matches right now.
	Resolve(name string) (Address, bool)
	Subscribe(src, dst Address) error
	Unsubscribe(src, dst Address) error
	// Read blocks until the next event or until ctx is done.
	Read(ctx context.Context) (Event, error)
	Send(dst Address, data []byte) error
	Drain() error
	Ports() ([]PortInfo, error)
	Close() error
}
