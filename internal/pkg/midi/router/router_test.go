package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	devA = driver.Address{Client: 20, Port: 0}
	devB = driver.Address{Client: 24, Port: 1}
)

type recorder struct {
	mu   sync.Mutex
	name string
	got  []Message
	// shared between recorders to check ordering across processors
	order *[]string
}

func (p *recorder) Process(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, msg)
	if p.order != nil {
		*p.order = append(*p.order, p.name)
	}
}

func (p *recorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func (p *recorder) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.got))
	copy(out, p.got)
	return out
}

func newTestRouter(t *testing.T) (*Router, *drivertest.Client) {
	t.Helper()
	c := drivertest.NewClient()
	return New(c), c
}

// step reads one queued transport event and dispatches it.
func step(t *testing.T, r *Router, c *drivertest.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := c.Read(ctx)
	require.NoError(t, err)
	r.dispatch(ev)
}

func statusOf(t *testing.T, r *Router, dir, name string) (PortStatus, bool) {
	t.Helper()
	for _, s := range r.Status() {
		if s.Direction == dir && s.Name == name {
			return s, true
		}
	}
	return PortStatus{}, false
}

func TestOpenInputSharesHandle(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)

	var refs []*Input
	for i := 0; i < 5; i++ {
		in, err := r.OpenInput("pisound:0")
		require.NoError(t, err)
		refs = append(refs, in)
	}

	assert.Len(t, r.Status(), 1)
	s, ok := statusOf(t, r, "input", "pisound:0")
	require.True(t, ok)
	assert.Equal(t, 5, s.Refs)
	assert.Equal(t, &devA, s.Address)
	assert.Equal(t, 1, c.SubscribeCalls())
	assert.True(t, c.Subscribed(devA, c.Self()))

	for i, in := range refs[:4] {
		require.NoError(t, in.Close())
		s, ok := statusOf(t, r, "input", "pisound:0")
		require.True(t, ok)
		assert.Equal(t, 5-i-1, s.Refs)
		assert.True(t, c.Subscribed(devA, c.Self()), "closing a shared reference must not unsubscribe")
	}
	assert.Equal(t, 0, c.UnsubscribeCalls())

	require.NoError(t, refs[4].Close())
	assert.Empty(t, r.Status())
	assert.False(t, c.Subscribed(devA, c.Self()))
	assert.Equal(t, 1, c.UnsubscribeCalls())
}

func TestInputAndOutputAreSeparateHandles(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)

	in, err := r.OpenInput("pisound")
	require.NoError(t, err)
	out, err := r.OpenOutput("pisound")
	require.NoError(t, err)

	assert.Len(t, r.Status(), 2)
	assert.True(t, c.Subscribed(devA, c.Self()))
	assert.True(t, c.Subscribed(c.Self(), devA))

	require.NoError(t, in.Close())
	assert.False(t, c.Subscribed(devA, c.Self()))
	assert.True(t, c.Subscribed(c.Self(), devA))
	require.NoError(t, out.Close())
	assert.Equal(t, 0, c.Subscriptions())
}

func TestCloseTwice(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)

	first, err := r.OpenInput("pisound")
	require.NoError(t, err)
	second, err := r.OpenInput("pisound")
	require.NoError(t, err)

	require.NoError(t, first.Close())
	err = first.Close()
	assert.True(t, errors.Is(err, ErrClosedHandle))

	s, ok := statusOf(t, r, "input", "pisound")
	require.True(t, ok)
	assert.Equal(t, 1, s.Refs, "extra close must not consume another reference")
	assert.True(t, c.Subscribed(devA, c.Self()))

	require.NoError(t, second.Close())
	assert.Empty(t, r.Status())

	_, err = second.Address()
	assert.True(t, errors.Is(err, ErrClosedHandle))
}

func TestHandleRefcountUnderflow(t *testing.T) {
	h := &handle{name: "x", dir: dirOutput}
	h.acquire()
	require.NoError(t, h.release())
	err := h.release()
	assert.True(t, errors.Is(err, ErrRefcountUnderflow))
	assert.Equal(t, 0, h.refcount)
}

func TestReleaseUnderflowKeepsState(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)

	in, err := r.OpenInput("pisound")
	require.NoError(t, err)

	// corrupt the handle the way a lifecycle bug would
	in.h.refcount = 0
	err = in.Close()
	assert.True(t, errors.Is(err, ErrRefcountUnderflow))
	assert.False(t, in.closed)
	assert.Len(t, r.Status(), 1)
	assert.True(t, c.Subscribed(devA, c.Self()))
}

func TestOpenEmptyName(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.OpenInput("")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = r.OpenOutput("")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Empty(t, r.Status())
}

func TestOpenUnresolved(t *testing.T) {
	r, c := newTestRouter(t)

	in, err := r.OpenInput("deviceX:0")
	require.NoError(t, err)

	_, err = in.Address()
	assert.True(t, errors.Is(err, ErrNameUnresolved))
	assert.Equal(t, 0, c.SubscribeCalls())

	s, ok := statusOf(t, r, "input", "deviceX:0")
	require.True(t, ok)
	assert.Nil(t, s.Address)
	assert.Equal(t, "deviceX:0", in.Name())
}

func TestSubscribeFailureLeavesPortUnbound(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)
	c.FailSubscribe[devA] = errors.New("device busy")

	in, err := r.OpenInput("pisound")
	require.NoError(t, err)
	_, err = in.Address()
	assert.True(t, errors.Is(err, ErrNameUnresolved))
	assert.Equal(t, 0, c.Subscriptions())

	// device comes back in a usable state
	delete(c.FailSubscribe, devA)
	c.Unplug(devA)
	step(t, r, c)
	c.Plug("pisound", "pisound MIDI PS-0", devA)
	step(t, r, c)

	addr, err := in.Address()
	require.NoError(t, err)
	assert.Equal(t, devA, addr)
	assert.True(t, c.Subscribed(devA, c.Self()))
}

func TestRegisterProcessorErrors(t *testing.T) {
	r, _ := newTestRouter(t)
	other, _ := newTestRouter(t)
	p := &recorder{}

	in, err := r.OpenInput("deviceX")
	require.NoError(t, err)
	foreign, err := other.OpenInput("deviceX")
	require.NoError(t, err)

	assert.True(t, errors.Is(r.RegisterProcessor(nil, p), ErrInvalidArgument))
	assert.True(t, errors.Is(r.RegisterProcessor(in, nil), ErrInvalidArgument))
	assert.True(t, errors.Is(r.RegisterProcessor(foreign, p), ErrInvalidArgument))
	assert.True(t, errors.Is(r.UnregisterProcessor(in, p), ErrProcessorNotFound))
	assert.True(t, errors.Is(r.UnregisterProcessor(nil, p), ErrInvalidArgument))

	require.NoError(t, in.Close())
	assert.True(t, errors.Is(r.RegisterProcessor(in, p), ErrClosedHandle))
	assert.True(t, errors.Is(r.UnregisterProcessor(in, p), ErrClosedHandle))
}

func TestUnregisterRemovesFirstMatch(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)

	in, err := r.OpenInput("pisound")
	require.NoError(t, err)

	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))
	require.NoError(t, r.RegisterProcessor(in, p))

	s, _ := statusOf(t, r, "input", "pisound")
	assert.Equal(t, 2, s.Processors)

	require.NoError(t, r.UnregisterProcessor(in, p))
	c.Emit(devA, []byte{0x90, 60, 100})
	step(t, r, c)
	assert.Equal(t, 1, p.count())

	require.NoError(t, r.UnregisterProcessor(in, p))
	assert.True(t, errors.Is(r.UnregisterProcessor(in, p), ErrProcessorNotFound))
}

func TestHandleFuncUnregister(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)
	in, err := r.OpenInput("pisound")
	require.NoError(t, err)

	var calls int
	p := HandleFunc(func(Message) { calls++ })
	require.NoError(t, r.RegisterProcessor(in, p))
	c.Emit(devA, []byte{0xF8})
	step(t, r, c)

	require.NoError(t, r.UnregisterProcessor(in, p))
	c.Emit(devA, []byte{0xF8})
	step(t, r, c)
	assert.Equal(t, 1, calls)
}

func TestProcessorsDroppedWithLastReference(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)

	in, err := r.OpenInput("pisound")
	require.NoError(t, err)
	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))
	require.NoError(t, in.Close())

	again, err := r.OpenInput("pisound")
	require.NoError(t, err)
	s, _ := statusOf(t, r, "input", "pisound")
	assert.Equal(t, 0, s.Processors)

	c.Emit(devA, []byte{0x90, 60, 100})
	step(t, r, c)
	assert.Equal(t, 0, p.count())
	require.NoError(t, again.Close())
}

// slowUnsubscribe blocks Unsubscribe until release is closed.
type slowUnsubscribe struct {
	*drivertest.Client
	entered chan struct{}
	release chan struct{}
}

func (c *slowUnsubscribe) Unsubscribe(src, dst driver.Address) error {
	close(c.entered)
	<-c.release
	return c.Client.Unsubscribe(src, dst)
}

func TestDeliveryWhileTransportUnsubscribes(t *testing.T) {
	c := &slowUnsubscribe{
		Client:  drivertest.NewClient(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c.AddPort("pisound", "pisound MIDI PS-0", devA)
	c.AddPort("pimidi0", "pimidi0 a", devB)
	r := New(c)

	closing, err := r.OpenInput("pisound")
	require.NoError(t, err)
	in, err := r.OpenInput("pimidi0")
	require.NoError(t, err)
	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))

	closed := make(chan error, 1)
	go func() {
		closed <- closing.Close()
	}()
	<-c.entered

	c.Emit(devB, []byte{0x90, 60, 100})
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ev, err := c.Read(ctx)
		if err == nil {
			r.dispatch(ev)
		}
	}()
	select {
	case <-dispatched:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked while the transport was unsubscribing")
	}
	assert.Equal(t, 1, p.count())

	close(c.release)
	require.NoError(t, <-closed)
	assert.False(t, c.Subscribed(devA, c.Self()))
	_, ok := statusOf(t, r, "input", "pisound")
	assert.False(t, ok)
}
