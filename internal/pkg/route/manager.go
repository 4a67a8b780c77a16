// Package route keeps a set of input to output forwarding rules applied to a
// router, replacing them as a whole when the rule set changes.
package route

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/router"
	"go.uber.org/zap"
)

// forwarder is the processor registered on a route's input.
type forwarder struct {
	route   Route
	keys    keyRange
	router  *router.Router
	outputs []*router.Output
	log     *zap.Logger
}

func (f *forwarder) Process(msg router.Message) {
	if !f.route.accepts(msg.Event) || !f.keys.contains(msg.Event) {
		return
	}
	ev := f.route.rewrite(msg.Event)

	var written int
	for _, out := range f.outputs {
		err := out.WriteEvent(ev, false)
		if err != nil {
			lvl := logger.Warning
			if errors.Is(err, router.ErrDeviceUnavailable) {
				lvl = logger.Debug
			}
			f.log.Info("Failed to forward event", zap.String("port", out.Name()), zap.Error(err), lvl)
			continue
		}
		written++
	}
	if written == 0 {
		return
	}

	err := f.router.Drain()
	if err != nil {
		f.log.Info("Failed to drain output", zap.Error(err), logger.Warning)
		return
	}
	f.log.Info(ev.String(), zap.String("port", msg.Port), zap.Stringer("event", ev.Kind()), logger.Event)
}

type binding struct {
	route   Route
	input   *router.Input
	outputs []*router.Output
	proc    *forwarder
}

func (b *binding) close(r *router.Router) error {
	var errs []error
	if b.proc != nil {
		err := r.UnregisterProcessor(b.input, b.proc)
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, out := range b.outputs {
		err := out.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}
	err := b.input.Close()
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type Manager struct {
	mu     sync.Mutex
	router *router.Router
	log    *zap.Logger
	active []*binding
}

func NewManager(r *router.Router, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{router: r, log: log}
}

// Apply replaces the active routes with routes. The new set is opened before
// the previous one is closed, so ports used by both stay subscribed. On error
// the previous set stays active.
func (m *Manager) Apply(routes []Route) error {
	for i, rt := range routes {
		err := rt.Validate()
		if err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]*binding, 0, len(routes))
	for _, rt := range routes {
		b, err := m.open(rt)
		if err != nil {
			for _, opened := range next {
				_ = opened.close(m.router)
			}
			return fmt.Errorf("applying route %s: %w", rt, err)
		}
		next = append(next, b)

		fields := []zap.Field{zap.String("port", rt.Input), logger.Port}
		if rt.Transpose != 0 {
			fields = append(fields, zap.Int("transpose", rt.Transpose),
				zap.String("interval", midi.IntervalName(0, byte(abs(rt.Transpose)))))
		}
		m.log.Info(fmt.Sprintf("Route %s", rt), fields...)
	}

	var errs []error
	for _, b := range m.active {
		err := b.close(m.router)
		if err != nil {
			errs = append(errs, err)
		}
	}
	m.active = next
	m.log.Info(fmt.Sprintf("%d routes applied", len(next)), logger.Info)
	return errors.Join(errs...)
}

func (m *Manager) open(rt Route) (*binding, error) {
	keys, err := rt.keys()
	if err != nil {
		return nil, err
	}
	in, err := m.router.OpenInput(rt.Input)
	if err != nil {
		return nil, err
	}
	b := &binding{route: rt, input: in}

	for _, name := range rt.Outputs {
		out, err := m.router.OpenOutput(name)
		if err != nil {
			_ = b.close(m.router)
			return nil, err
		}
		b.outputs = append(b.outputs, out)
	}

	proc := &forwarder{route: rt, keys: keys, router: m.router, outputs: b.outputs, log: m.log}
	err = m.router.RegisterProcessor(in, proc)
	if err != nil {
		_ = b.close(m.router)
		return nil, err
	}
	b.proc = proc
	return b, nil
}

// Routes returns the active routes in the order they were applied.
func (m *Manager) Routes() []Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Route, 0, len(m.active))
	for _, b := range m.active {
		out = append(out, b.route)
	}
	return out
}

// Close removes every active route.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, b := range m.active {
		err := b.close(m.router)
		if err != nil {
			errs = append(errs, err)
		}
	}
	m.active = nil
	return errors.Join(errs...)
}
