// Package drivertest provides an in-memory driver.Client for tests. Ports are
// plugged and unplugged by hand and every call against the transport is recorded.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
)

var (
	ErrNoSuchPort        = errors.New("no such port")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrClosed            = errors.New("client closed")
)

// Sent is a single event submitted with Send.
type Sent struct {
	Dst  driver.Address
	Data midi.Event
}

type subscription struct {
	src, dst driver.Address
}

type Client struct {
	mu sync.Mutex

	self    driver.Address
	ports   map[driver.Address]driver.PortInfo
	aliases map[string]driver.Address
	subs    map[subscription]struct{}
	events  chan driver.Event
	closed  bool

	pending []Sent
	sent    []Sent
	drains  int

	subscribeCalls   int
	unsubscribeCalls int
	sendCalls        int

	// FailSubscribe makes Subscribe fail for pairs touching the given address.
	FailSubscribe map[driver.Address]error
}

func NewClient() *Client {
	return &Client{
		self:          driver.Address{Client: 128, Port: 0},
		ports:         make(map[driver.Address]driver.PortInfo),
		aliases:       make(map[string]driver.Address),
		subs:          make(map[subscription]struct{}),
		events:        make(chan driver.Event, 256),
		FailSubscribe: make(map[driver.Address]error),
	}
}

// AddPort makes a port visible without announcing it.
func (c *Client) AddPort(clientName, portName string, addr driver.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ports[addr] = driver.PortInfo{
		ClientName: clientName,
		PortName:   portName,
		Address:    addr,
		Input:      true,
		Output:     true,
	}
}

// Alias makes name resolve to addr whenever a port with addr exists.
func (c *Client) Alias(name string, addr driver.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[name] = addr
}

// Plug adds the port and queues a PortStart event for it.
func (c *Client) Plug(clientName, portName string, addr driver.Address) {
	c.AddPort(clientName, portName, addr)
	c.events <- driver.Event{Type: driver.PortStart, Addr: addr}
}

// Unplug removes the port along with its subscriptions and queues a PortExit event.
func (c *Client) Unplug(addr driver.Address) {
	c.mu.Lock()
	delete(c.ports, addr)
	for s := range c.subs {
		if s.src == addr || s.dst == addr {
			delete(c.subs, s)
		}
	}
	c.mu.Unlock()
	c.events <- driver.Event{Type: driver.PortExit, Addr: addr}
}

// Emit queues a MIDI message coming from src.
func (c *Client) Emit(src driver.Address, data midi.Event) {
	c.events <- driver.Event{Type: driver.Message, Addr: src, Data: data}
}

// Inject queues an arbitrary event.
func (c *Client) Inject(ev driver.Event) {
	c.events <- ev
}

func (c *Client) Self() driver.Address {
	return c.self
}

func (c *Client) Resolve(name string) (driver.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if addr, ok := c.aliases[name]; ok {
		_, present := c.ports[addr]
		return addr, present
	}

	ports := make([]driver.PortInfo, 0, len(c.ports))
	for _, p := range c.ports {
		ports = append(ports, p)
	}
	return driver.ParseAddress(name, ports)
}

func (c *Client) Subscribe(src, dst driver.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeCalls++

	for _, addr := range []driver.Address{src, dst} {
		if err, ok := c.FailSubscribe[addr]; ok {
			return err
		}
		if addr == c.self {
			continue
		}
		if _, ok := c.ports[addr]; !ok {
			return fmt.Errorf("%w: %s", ErrNoSuchPort, addr)
		}
	}

	s := subscription{src: src, dst: dst}
	if _, ok := c.subs[s]; ok {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadySubscribed, src, dst)
	}
	c.subs[s] = struct{}{}
	return nil
}

func (c *Client) Unsubscribe(src, dst driver.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeCalls++

	s := subscription{src: src, dst: dst}
	if _, ok := c.subs[s]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrNotSubscribed, src, dst)
	}
	delete(c.subs, s)
	return nil
}

func (c *Client) Read(ctx context.Context) (driver.Event, error) {
	select {
	case <-ctx.Done():
		return driver.Event{}, ctx.Err()
	case ev, ok := <-c.events:
		if !ok {
			return driver.Event{}, ErrClosed
		}
		return ev, nil
	}
}

func (c *Client) Send(dst driver.Address, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCalls++

	if _, ok := c.subs[subscription{src: c.self, dst: dst}]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrNotSubscribed, c.self, dst)
	}
	cp := make(midi.Event, len(data))
	copy(cp, data)
	c.pending = append(c.pending, Sent{Dst: dst, Data: cp})
	return nil
}

func (c *Client) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drains++
	c.sent = append(c.sent, c.pending...)
	c.pending = nil
	return nil
}

func (c *Client) Ports() ([]driver.PortInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ports := make([]driver.PortInfo, 0, len(c.ports))
	for _, p := range c.ports {
		ports = append(ports, p)
	}
	return ports, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	close(c.events)
	return nil
}

// Subscribed reports whether src -> dst is currently subscribed.
func (c *Client) Subscribed(src, dst driver.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[subscription{src: src, dst: dst}]
	return ok
}

func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Sent returns events flushed by Drain so far.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

// Pending returns events sent but not drained yet.
func (c *Client) Pending() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.pending))
	copy(out, c.pending)
	return out
}

func (c *Client) Drains() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drains
}

func (c *Client) SubscribeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeCalls
}

func (c *Client) UnsubscribeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribeCalls
}

func (c *Client) SendCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCalls
}

var _ driver.Client = (*Client)(nil)
