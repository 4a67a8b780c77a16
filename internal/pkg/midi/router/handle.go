package router

import (
	"fmt"

	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
)

type direction int

const (
	dirInput direction = iota
	dirOutput
)

var directions = [...]direction{dirInput, dirOutput}

func (d direction) String() string {
	if d == dirInput {
		return "input"
	}
	return "output"
}

// handle is the single authoritative state of a logical port, owned by the registry.
type handle struct {
	name     string
	dir      direction
	addr     *driver.Address // nil while unbound
	refcount int
}

func (h *handle) acquire() {
	h.refcount++
}

func (h *handle) release() error {
	if h.refcount <= 0 {
		return fmt.Errorf("%w: %s port %q (refcount %d)", ErrRefcountUnderflow, h.dir, h.name, h.refcount)
	}
	h.refcount--
	return nil
}

// ref is a consumer token holding one reference on a handle.
type ref struct {
	router *Router
	h      *handle
	closed bool
}

func (r *ref) Name() string {
	return r.h.name
}

func (r *ref) String() string {
	return fmt.Sprintf("%s port %q", r.h.dir, r.h.name)
}

// Close releases the reference, the port is torn down with its last reference.
// Closing an already closed reference returns ErrClosedHandle.
func (r *ref) Close() error {
	return r.router.release(r)
}

// Address returns the address the port is currently bound to, or ErrNameUnresolved.
func (r *ref) Address() (driver.Address, error) {
	r.router.mu.Lock()
	defer r.router.mu.Unlock()
	if r.closed {
		return driver.Address{}, fmt.Errorf("%w: %s", ErrClosedHandle, r)
	}
	if r.h.addr == nil {
		return driver.Address{}, fmt.Errorf("%w: %s", ErrNameUnresolved, r)
	}
	return *r.h.addr, nil
}

// Input is a reference to a logical input port.
type Input struct {
	ref
}

// Output is a reference to a logical output port.
type Output struct {
	ref
}

// WriteEvent sends ev to the output's device, draining the transport when drain is set.
// Bursts are cheaper with drain=false followed by a single Router.Drain.
func (o *Output) WriteEvent(ev midi.Event, drain bool) error {
	return o.router.write(&o.ref, ev, drain)
}

// Write sends raw bytes and drains immediately.
func (o *Output) Write(p []byte) (int, error) {
	err := o.router.write(&o.ref, p, true)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
