// Package router attaches logical, name-addressed MIDI ports to a transport whose
// devices come and go, and routes incoming events to processors registered on
// those ports.
//
// Ports are opened by name whether or not a matching device is present. An
// unresolved port binds itself when the device appears and unbinds, keeping its
// processors, when the device leaves. Several consumers may open the same name,
// the port is shared and refcounted and torn down with its last reference.
// Several names may also resolve to the same device, events from it are then
// delivered through every one of them.
//
// All state changes happen either in the calling goroutine under the router
// lock or on the goroutine running Run. Unsubscribing from the transport
// happens after the router lock is released, since the transport may wait for
// its own delivery to finish. Processors are invoked sequentially on
// the Run goroutine without the lock held, so they may write to outputs and
// (un)register processors.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
	"go.uber.org/zap"
)

type Router struct {
	// subMu serializes transport subscription changes, it is taken before mu
	subMu sync.Mutex
	mu    sync.Mutex

	client  driver.Client
	log     *zap.Logger
	metrics *Metrics

	reg   *registry
	procs processorTable

	done   bool
	cancel context.CancelFunc
}

type Option func(*Router)

func WithLogger(log *zap.Logger) Option {
	return func(r *Router) {
		r.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a router on top of an already created transport client.
func New(client driver.Client, opts ...Option) *Router {
	r := &Router{
		client: client,
		log:    zap.NewNop(),
		reg:    newRegistry(),
		procs:  make(processorTable),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func portFields(h *handle) []zap.Field {
	return []zap.Field{zap.String("port", h.name), zap.String("direction", h.dir.String())}
}

// OpenInput returns a reference to the input port called name, creating and
// subscribing it on first use. A name that resolves to nothing yet is not an error.
func (r *Router) OpenInput(name string) (*Input, error) {
	h, err := r.open(name, dirInput)
	if err != nil {
		return nil, err
	}
	return &Input{ref{router: r, h: h}}, nil
}

// OpenOutput returns a reference to the output port called name, see OpenInput.
func (r *Router) OpenOutput(name string) (*Output, error) {
	h, err := r.open(name, dirOutput)
	if err != nil {
		return nil, err
	}
	return &Output{ref{router: r, h: h}}, nil
}

func (r *Router) open(name string, dir direction) (*handle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty %s port name", ErrInvalidArgument, dir)
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.reg.get(dir, name)
	if h == nil {
		h = &handle{name: name, dir: dir}
		r.reg.add(h)
		if dir == dirInput {
			r.procs.create(name)
		}

		addr, ok := r.client.Resolve(name)
		if !ok {
			r.log.Info("Failed to locate port by name, will wait for it to appear",
				append(portFields(h), logger.Warning)...)
		} else {
			r.bind(h, addr)
		}
		r.metrics.ports(r.reg)
	}
	h.acquire()
	return h, nil
}

func (r *Router) subscribe(dir direction, addr driver.Address) error {
	if dir == dirInput {
		return r.client.Subscribe(addr, r.client.Self())
	}
	return r.client.Subscribe(r.client.Self(), addr)
}

func (r *Router) unsubscribe(dir direction, addr driver.Address) error {
	if dir == dirInput {
		return r.client.Unsubscribe(addr, r.client.Self())
	}
	return r.client.Unsubscribe(r.client.Self(), addr)
}

// bind attaches h to addr, subscribing unless another name already holds the
// subscription for addr. On failure h stays unbound.
func (r *Router) bind(h *handle, addr driver.Address) bool {
	if !r.reg.bound(h.dir, addr) {
		err := r.subscribe(h.dir, addr)
		if err != nil {
			r.metrics.subscribeFailed(h.dir)
			r.log.Info("Failed to subscribe port",
				append(portFields(h), zap.Stringer("address", addr), zap.Error(err), logger.Warning)...)
			return false
		}
	}
	r.reg.bind(h, addr)
	r.log.Info("Port bound",
		append(portFields(h), zap.Stringer("address", addr), logger.Port)...)
	return true
}

func (r *Router) release(rf *ref) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.mu.Lock()
	if rf.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClosedHandle, rf)
	}
	err := rf.h.release()
	if err != nil {
		r.mu.Unlock()
		r.log.Error("Refcount underflow", append(portFields(rf.h), zap.Error(err), logger.Error)...)
		return err
	}
	rf.closed = true

	var (
		addr driver.Address
		last bool
	)
	if rf.h.refcount == 0 {
		addr, last = r.teardown(rf.h)
	}
	r.mu.Unlock()

	if last {
		err = r.unsubscribe(rf.h.dir, addr)
		if err != nil {
			r.log.Info("Failed to unsubscribe port",
				append(portFields(rf.h), zap.Stringer("address", addr), zap.Error(err), logger.Warning)...)
		}
	}
	return nil
}

// teardown drops h from the registry and reports the address to unsubscribe
// when h was the last name bound to it.
func (r *Router) teardown(h *handle) (driver.Address, bool) {
	r.log.Info("Closing port", append(portFields(h), logger.Port)...)

	addr, last := r.reg.unbind(h)
	r.reg.remove(h)
	if h.dir == dirInput {
		r.procs.drop(h.name)
	}
	r.metrics.ports(r.reg)
	return addr, last
}

func (r *Router) checkInput(in *Input, p Processor) error {
	if in == nil || p == nil {
		return fmt.Errorf("%w: nil input port or processor", ErrInvalidArgument)
	}
	if in.router != r {
		return fmt.Errorf("%w: %s belongs to another router", ErrInvalidArgument, &in.ref)
	}
	if in.closed {
		return fmt.Errorf("%w: %s", ErrClosedHandle, &in.ref)
	}
	return nil
}

// RegisterProcessor appends p to the processors of the input port, processors
// are called in registration order.
func (r *Router) RegisterProcessor(in *Input, p Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.checkInput(in, p)
	if err != nil {
		return err
	}
	r.procs.add(in.h.name, p)
	return nil
}

// UnregisterProcessor removes the first registration of p from the input port.
func (r *Router) UnregisterProcessor(in *Input, p Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.checkInput(in, p)
	if err != nil {
		return err
	}
	if !r.procs.remove(in.h.name, p) {
		return fmt.Errorf("%w: %s", ErrProcessorNotFound, &in.ref)
	}
	return nil
}

func (r *Router) write(rf *ref, data []byte, drain bool) error {
	r.mu.Lock()
	if rf.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClosedHandle, rf)
	}
	if rf.h.addr == nil {
		r.mu.Unlock()
		r.metrics.write("unavailable")
		r.log.Info("Port is currently unavailable", append(portFields(rf.h), logger.Warning)...)
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, rf)
	}
	addr := *rf.h.addr
	r.mu.Unlock()

	err := r.client.Send(addr, data)
	if err != nil {
		r.metrics.write("error")
		return fmt.Errorf("sending to %s (%s): %w", rf, addr, err)
	}
	if drain {
		err = r.client.Drain()
		if err != nil {
			r.metrics.write("error")
			return fmt.Errorf("draining output: %w", err)
		}
	}
	r.metrics.write("ok")
	return nil
}

// Drain flushes events written with drain=false.
func (r *Router) Drain() error {
	err := r.client.Drain()
	if err != nil {
		return fmt.Errorf("draining output: %w", err)
	}
	return nil
}

// Run reads and dispatches transport events until ctx is done or Quit is called.
// Cancellation is not an error, Run then returns nil.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.done = false
		r.mu.Unlock()
	}()

	r.log.Info("Dispatch loop started", logger.Debug)
	for !r.quitting() {
		ev, err := r.client.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("reading transport event: %w", err)
		}
		r.dispatch(ev)
	}
	r.log.Info("Dispatch loop stopped", logger.Debug)
	return nil
}

func (r *Router) quitting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Quit stops Run after the event currently being dispatched. Called while Run is
// not running, it makes the next Run return immediately.
func (r *Router) Quit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Router) dispatch(ev driver.Event) {
	r.metrics.event(ev.Type)

	switch ev.Type {
	case driver.PortStart:
		r.portStarted(ev.Addr)
	case driver.PortExit:
		r.portExited(ev.Addr)
	case driver.Message:
		r.deliver(ev.Addr, ev.Data)
	default:
		r.log.Info("Ignoring transport event", zap.Stringer("address", ev.Addr), logger.Debug)
	}
}

// portStarted re-resolves every open name, a new device may match names that
// resolved to nothing before, or to a different address before a replug.
func (r *Router) portStarted(addr driver.Address) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dir := range directions {
		for _, h := range r.reg.sorted(dir) {
			resolved, ok := r.client.Resolve(h.name)
			if !ok || resolved != addr {
				continue
			}
			if h.addr != nil {
				// already bound, possibly to another device still present
				continue
			}
			r.log.Info("Reopening port", append(portFields(h), zap.Stringer("address", addr), logger.Port)...)
			r.bind(h, addr)
		}
	}
	r.metrics.ports(r.reg)
}

func (r *Router) portExited(addr driver.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dir := range directions {
		for _, h := range r.reg.forget(dir, addr) {
			r.log.Info("Port disappeared", append(portFields(h), zap.Stringer("address", addr), logger.Port)...)
		}
	}
	r.metrics.ports(r.reg)
}

type delivery struct {
	port       string
	processors []Processor
}

func (r *Router) deliver(src driver.Address, ev midi.Event) {
	r.mu.Lock()
	names := r.reg.names(dirInput, src)
	deliveries := make([]delivery, 0, len(names))
	for _, name := range names {
		if r.reg.get(dirInput, name) == nil {
			continue
		}
		ps := r.procs.snapshot(name)
		if len(ps) == 0 {
			continue
		}
		deliveries = append(deliveries, delivery{port: name, processors: ps})
	}
	r.mu.Unlock()

	if len(names) == 0 {
		r.metrics.dropped()
		r.log.Info("Dropping event from unbound source", zap.Stringer("address", src), logger.Debug)
		return
	}

	for _, d := range deliveries {
		msg := Message{Port: d.port, Source: src, Event: ev}
		for _, p := range d.processors {
			p.Process(msg)
		}
		r.metrics.delivered(d.port)
	}
}

// PortStatus is a point in time view of one logical port.
type PortStatus struct {
	Name       string
	Direction  string
	Address    *driver.Address
	Refs       int
	Processors int
}

// Status lists open ports, inputs first, each direction ordered by name.
func (r *Router) Status() []PortStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []PortStatus
	for _, dir := range directions {
		for _, h := range r.reg.sorted(dir) {
			s := PortStatus{
				Name:      h.name,
				Direction: dir.String(),
				Refs:      h.refcount,
			}
			if h.addr != nil {
				addr := *h.addr
				s.Address = &addr
			}
			if dir == dirInput {
				s.Processors = len(r.procs[h.name])
			}
			out = append(out, s)
		}
	}
	return out
}
