// Package alsa implements driver.Client on top of the gomidi rtmidi driver.
//
// rtmidi has no announce events, so a discovery goroutine re-enumerates the
// ports periodically and turns the difference into PortStart and PortExit
// events. Subscribing a device as a source opens its input and listens on it,
// subscribing it as a destination opens its output.
//
// The virtual input/output pair opened by New only names the client and gives
// it an address. It carries no traffic: events are read from and sent to the
// device ports directly, so connecting other clients to it with aconnect has no
// effect.
package alsa

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

var (
	ErrClosed            = errors.New("transport closed")
	ErrNoSuchPort        = errors.New("no such port")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
)

const DefaultDiscoveryRate = time.Second

type port struct {
	info driver.PortInfo
	in   drivers.In
	out  drivers.Out
}

// listener is a device input being listened on. done is closed before the
// input is stopped, releasing a callback waiting for room in the event buffer.
type listener struct {
	stop func()
	done chan struct{}
}

func (l listener) close() {
	close(l.done)
	l.stop()
}

type queued struct {
	dst  driver.Address
	data []byte
}

type Client struct {
	mu sync.Mutex

	drv  *rtmididrv.Driver
	log  *zap.Logger
	name string
	rate time.Duration
	self driver.Address

	virtIn  drivers.In
	virtOut drivers.Out

	ports   map[driver.Address]port
	inputs  map[driver.Address]listener
	outputs map[driver.Address]drivers.Out
	pending []queued

	events chan driver.Event
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithDiscoveryRate sets how often ports are re-enumerated.
func WithDiscoveryRate(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.rate = d
		}
	}
}

// New opens a virtual input/output pair called name and starts port discovery.
func New(name string, opts ...Option) (*Client, error) {
	d := drivers.Get()
	if d == nil {
		return nil, fmt.Errorf("failed to get driver")
	}
	rtmidid, ok := d.(*rtmididrv.Driver)
	if !ok {
		return nil, fmt.Errorf("failed to convert driver")
	}

	c := &Client{
		drv:     rtmidid,
		log:     zap.NewNop(),
		name:    name,
		rate:    DefaultDiscoveryRate,
		self:    driver.Address{Client: -1, Port: 0},
		inputs:  make(map[driver.Address]listener),
		outputs: make(map[driver.Address]drivers.Out),
		events:  make(chan driver.Event, 1024),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	c.virtIn, err = rtmidid.OpenVirtualIn(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open virtual input: %w", err)
	}
	c.virtOut, err = rtmidid.OpenVirtualOut(name)
	if err != nil {
		_ = c.virtIn.Close()
		return nil, fmt.Errorf("failed to open virtual output: %w", err)
	}

	ports, err := c.scan()
	if err != nil {
		c.closeVirtual()
		return nil, fmt.Errorf("failed to enumerate ports: %w", err)
	}
	var own []driver.Address
	c.ports, own = c.dropSelf(ports)
	if len(own) > 0 {
		// the lowest one, rtmidi gives each virtual port its own client
		c.self = own[0]
	}

	c.wg.Add(1)
	go c.discover()
	return c, nil
}

// scan enumerates the driver ports, merging inputs and outputs sharing an address.
func (c *Client) scan() (map[driver.Address]port, error) {
	ins, err := c.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("listing inputs: %w", err)
	}
	outs, err := c.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("listing outputs: %w", err)
	}

	ports := make(map[driver.Address]port)
	for _, in := range ins {
		info := driver.ParsePortName(in.String(), in.Number())
		p := ports[info.Address]
		if p.info.ClientName == "" {
			p.info = info
		}
		p.info.Input = true
		p.in = in
		ports[info.Address] = p
	}
	for _, out := range outs {
		info := driver.ParsePortName(out.String(), out.Number())
		p := ports[info.Address]
		if p.info.ClientName == "" {
			p.info = info
		}
		p.info.Output = true
		p.out = out
		ports[info.Address] = p
	}
	return ports, nil
}

// dropSelf removes our own virtual ports from ports and returns their addresses
// in order.
func (c *Client) dropSelf(ports map[driver.Address]port) (map[driver.Address]port, []driver.Address) {
	var own []driver.Address
	for addr, p := range ports {
		if p.info.ClientName == c.name || strings.HasPrefix(p.info.PortName, c.name) {
			own = append(own, addr)
			delete(ports, addr)
		}
	}
	sortAddresses(own)
	return ports, own
}

func (c *Client) discover() {
	defer c.wg.Done()

	c.log.Info("Port discovery engaged", zap.Duration("rate", c.rate), logger.Debug)
	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			c.log.Info("Port discovery disengaged", logger.Debug)
			return
		case <-ticker.C:
		}

		current, err := c.scan()
		if err != nil {
			c.log.Info("Failed to enumerate ports", zap.Error(err), logger.Warning)
			continue
		}
		current, _ = c.dropSelf(current)

		for _, ev := range c.diff(current) {
			select {
			case c.events <- ev:
			case <-c.stop:
				return
			}
		}
	}
}

// diff replaces the tracked ports with current and returns the resulting events,
// departures first, each group ordered by address.
func (c *Client) diff(current map[driver.Address]port) []driver.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var missing, added []driver.Address
	for addr := range c.ports {
		if _, ok := current[addr]; !ok {
			missing = append(missing, addr)
		}
	}
	for addr := range current {
		if _, ok := c.ports[addr]; !ok {
			added = append(added, addr)
		}
	}
	sortAddresses(missing)
	sortAddresses(added)

	var events []driver.Event
	for _, addr := range missing {
		c.log.Info("Port removed", zap.Stringer("address", addr),
			zap.String("port", c.ports[addr].info.String()), logger.Port)
		c.closePort(addr)
		events = append(events, driver.Event{Type: driver.PortExit, Addr: addr})
	}
	for _, addr := range added {
		c.log.Info("Port added", zap.Stringer("address", addr),
			zap.String("port", current[addr].info.String()), logger.Port)
		events = append(events, driver.Event{Type: driver.PortStart, Addr: addr})
	}

	// keep opened driver objects of ports that are still present
	for addr, p := range c.ports {
		if cur, ok := current[addr]; ok {
			if p.in != nil {
				cur.in = p.in
			}
			if p.out != nil {
				cur.out = p.out
			}
			current[addr] = cur
		}
	}
	c.ports = current
	return events
}

// closePort drops subscriptions of a departed port, callers hold the lock.
func (c *Client) closePort(addr driver.Address) {
	if l, ok := c.inputs[addr]; ok {
		l.close()
		delete(c.inputs, addr)
		if p, ok := c.ports[addr]; ok && p.in != nil {
			_ = p.in.Close()
		}
	}
	if out, ok := c.outputs[addr]; ok {
		_ = out.Close()
		delete(c.outputs, addr)
	}
	kept := c.pending[:0]
	for _, q := range c.pending {
		if q.dst != addr {
			kept = append(kept, q)
		}
	}
	c.pending = kept
}

func sortAddresses(addrs []driver.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Client != addrs[j].Client {
			return addrs[i].Client < addrs[j].Client
		}
		return addrs[i].Port < addrs[j].Port
	})
}

func (c *Client) Self() driver.Address {
	return c.self
}

func (c *Client) Resolve(name string) (driver.Address, bool) {
	c.mu.Lock()
	infos := make([]driver.PortInfo, 0, len(c.ports))
	for _, p := range c.ports {
		infos = append(infos, p.info)
	}
	c.mu.Unlock()
	return driver.ParseAddress(name, infos)
}

func (c *Client) Subscribe(src, dst driver.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	switch {
	case dst == c.self:
		return c.listen(src)
	case src == c.self:
		return c.openOutput(dst)
	default:
		return fmt.Errorf("%w: %s -> %s does not involve %s", ErrNoSuchPort, src, dst, c.self)
	}
}

func (c *Client) listen(addr driver.Address) error {
	if _, ok := c.inputs[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, addr)
	}
	p, ok := c.ports[addr]
	if !ok || p.in == nil {
		return fmt.Errorf("%w: input %s", ErrNoSuchPort, addr)
	}

	err := p.in.Open()
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	done := make(chan struct{})
	stopFn, err := p.in.Listen(func(msg []byte, milliseconds int32) {
		c.push(addr, done, msg)
	}, drivers.ListenConfig{
		TimeCode:        true,
		ActiveSense:     true,
		SysEx:           true,
		SysExBufferSize: 0,
		OnErr: func(err error) {
			c.log.Info("Input error", zap.Stringer("address", addr), zap.Error(err), logger.Warning)
		},
	})
	if err != nil {
		_ = p.in.Close()
		return fmt.Errorf("failed to listen on device: %w", err)
	}
	c.inputs[addr] = listener{stop: stopFn, done: done}
	return nil
}

// push hands a message over to Read, giving up once the input is unsubscribed
// or the client closed.
func (c *Client) push(addr driver.Address, done <-chan struct{}, msg []byte) {
	data := make(midi.Event, len(msg))
	copy(data, msg)
	select {
	case c.events <- driver.Event{Type: driver.Message, Addr: addr, Data: data}:
	case <-done:
	case <-c.stop:
	}
}

func (c *Client) openOutput(addr driver.Address) error {
	if _, ok := c.outputs[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, addr)
	}
	p, ok := c.ports[addr]
	if !ok || p.out == nil {
		return fmt.Errorf("%w: output %s", ErrNoSuchPort, addr)
	}
	err := p.out.Open()
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	c.outputs[addr] = p.out
	return nil
}

func (c *Client) Unsubscribe(src, dst driver.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case dst == c.self:
		l, ok := c.inputs[src]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotSubscribed, src)
		}
		l.close()
		delete(c.inputs, src)
		if p, ok := c.ports[src]; ok && p.in != nil {
			return p.in.Close()
		}
		return nil
	case src == c.self:
		out, ok := c.outputs[dst]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotSubscribed, dst)
		}
		delete(c.outputs, dst)
		return out.Close()
	default:
		return fmt.Errorf("%w: %s -> %s", ErrNotSubscribed, src, dst)
	}
}

func (c *Client) Read(ctx context.Context) (driver.Event, error) {
	select {
	case <-ctx.Done():
		return driver.Event{}, ctx.Err()
	case <-c.stop:
		return driver.Event{}, ErrClosed
	case ev := <-c.events:
		return ev, nil
	}
}

// Send queues data for dst, nothing reaches the device before Drain.
func (c *Client) Send(dst driver.Address, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.outputs[dst]; !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, dst)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.pending = append(c.pending, queued{dst: dst, data: cp})
	return nil
}

// Drain sends queued events in submission order.
func (c *Client) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, q := range c.pending {
		out, ok := c.outputs[q.dst]
		if !ok {
			continue
		}
		err := out.Send(q.data)
		if err != nil {
			errs = append(errs, fmt.Errorf("sending to %s: %w", q.dst, err))
		}
	}
	c.pending = c.pending[:0]
	return errors.Join(errs...)
}

func (c *Client) Ports() ([]driver.PortInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	addrs := make([]driver.Address, 0, len(c.ports))
	for addr := range c.ports {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)

	infos := make([]driver.PortInfo, 0, len(addrs))
	for _, addr := range addrs {
		infos = append(infos, c.ports[addr].info)
	}
	return infos, nil
}

func (c *Client) closeVirtual() {
	if c.virtIn != nil {
		_ = c.virtIn.Close()
	}
	if c.virtOut != nil {
		_ = c.virtOut.Close()
	}
}

// Close stops discovery and releases every opened port.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for addr := range c.inputs {
		c.closePort(addr)
	}
	for addr := range c.outputs {
		c.closePort(addr)
	}
	c.closeVirtual()
	return nil
}

var _ driver.Client = (*Client)(nil)
