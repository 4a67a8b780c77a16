package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(msg Message) {
	m.Called(msg)
}

func TestDeviceArrivesAndLeaves(t *testing.T) {
	r, c := newTestRouter(t)

	in, err := r.OpenInput("deviceX:0")
	require.NoError(t, err)
	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))

	c.Plug("deviceX", "deviceX MIDI 1", devA)
	step(t, r, c)

	addr, err := in.Address()
	require.NoError(t, err)
	assert.Equal(t, devA, addr)
	assert.True(t, c.Subscribed(devA, c.Self()))

	c.Emit(devA, midi.NoteEvent(midi.NoteOn, 0, 60, 100))
	step(t, r, c)
	require.Equal(t, 1, p.count())
	assert.Equal(t, Message{
		Port:   "deviceX:0",
		Source: devA,
		Event:  midi.Event{0x90, 60, 100},
	}, p.messages()[0])

	c.Unplug(devA)
	step(t, r, c)
	_, err = in.Address()
	assert.True(t, errors.Is(err, ErrNameUnresolved))

	c.Emit(devA, midi.NoteEvent(midi.NoteOff, 0, 60, 0))
	step(t, r, c)
	assert.Equal(t, 1, p.count(), "events from a departed device must not reach the port")

	s, _ := statusOf(t, r, "input", "deviceX:0")
	assert.Equal(t, 1, s.Processors, "departure keeps processors")
}

func TestDeviceReturnsWithoutReregistration(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("deviceX", "deviceX MIDI 1", devA)

	in, err := r.OpenInput("deviceX")
	require.NoError(t, err)
	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))

	c.Unplug(devA)
	step(t, r, c)
	c.Plug("deviceX", "deviceX MIDI 1", devA)
	step(t, r, c)

	c.Emit(devA, []byte{0xB0, 7, 100})
	step(t, r, c)
	assert.Equal(t, 1, p.count())
	assert.Equal(t, 2, c.SubscribeCalls())
}

func TestDeviceReturnsOnNewAddress(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("deviceX", "deviceX MIDI 1", devA)

	in, err := r.OpenInput("deviceX")
	require.NoError(t, err)
	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))

	c.Unplug(devA)
	step(t, r, c)
	c.Plug("deviceX", "deviceX MIDI 1", devB)
	step(t, r, c)

	addr, err := in.Address()
	require.NoError(t, err)
	assert.Equal(t, devB, addr)

	c.Emit(devB, []byte{0xF8})
	step(t, r, c)
	require.Equal(t, 1, p.count())
	assert.Equal(t, devB, p.messages()[0].Source)
}

func TestUnrelatedArrivalKeepsBinding(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)

	in, err := r.OpenInput("pisound")
	require.NoError(t, err)

	c.Plug("pimidi0", "pimidi0 a", devB)
	step(t, r, c)

	addr, err := in.Address()
	require.NoError(t, err)
	assert.Equal(t, devA, addr)
	assert.Equal(t, 1, c.SubscribeCalls())
}

func TestAliasedNamesShareSubscription(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("dev", "dev port", devA)
	c.Alias("A", devA)
	c.Alias("B", devA)

	a, err := r.OpenInput("A")
	require.NoError(t, err)
	b, err := r.OpenInput("B")
	require.NoError(t, err)
	assert.Equal(t, 1, c.SubscribeCalls())

	var order []string
	pa := &recorder{name: "A", order: &order}
	pb := &recorder{name: "B", order: &order}
	require.NoError(t, r.RegisterProcessor(a, pa))
	require.NoError(t, r.RegisterProcessor(b, pb))

	c.Emit(devA, []byte{0x90, 64, 90})
	step(t, r, c)
	assert.Equal(t, 1, pa.count())
	assert.Equal(t, 1, pb.count())
	assert.Equal(t, []string{"A", "B"}, order)
	assert.Equal(t, "A", pa.messages()[0].Port)
	assert.Equal(t, "B", pb.messages()[0].Port)

	require.NoError(t, a.Close())
	assert.True(t, c.Subscribed(devA, c.Self()), "B still needs the subscription")
	assert.Equal(t, 0, c.UnsubscribeCalls())

	c.Emit(devA, []byte{0x80, 64, 0})
	step(t, r, c)
	assert.Equal(t, 1, pa.count())
	assert.Equal(t, 2, pb.count())

	require.NoError(t, b.Close())
	assert.False(t, c.Subscribed(devA, c.Self()))
	assert.Equal(t, 1, c.UnsubscribeCalls())
}

func TestAliasedNamesRebindTogether(t *testing.T) {
	r, c := newTestRouter(t)
	c.Alias("A", devA)
	c.Alias("B", devA)

	a, err := r.OpenInput("A")
	require.NoError(t, err)
	b, err := r.OpenInput("B")
	require.NoError(t, err)

	c.Plug("dev", "dev port", devA)
	step(t, r, c)

	_, err = a.Address()
	assert.NoError(t, err)
	_, err = b.Address()
	assert.NoError(t, err)
	assert.Equal(t, 1, c.SubscribeCalls())
}

func TestProcessorOrder(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)
	in, err := r.OpenInput("pisound")
	require.NoError(t, err)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, r.RegisterProcessor(in, &recorder{name: name, order: &order}))
	}

	c.Emit(devA, []byte{0xFA})
	c.Emit(devA, []byte{0xFC})
	step(t, r, c)
	step(t, r, c)
	assert.Equal(t, []string{"first", "second", "third", "first", "second", "third"}, order)
}

func TestProcessorReceivesPayload(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)
	in, err := r.OpenInput("pisound")
	require.NoError(t, err)

	p := &mockProcessor{}
	p.On("Process", Message{Port: "pisound", Source: devA, Event: midi.Event{0xC0, 5}}).Once()
	require.NoError(t, r.RegisterProcessor(in, p))

	c.Emit(devA, midi.ProgramChangeEvent(0, 5))
	step(t, r, c)
	p.AssertExpectations(t)
}

func TestUnboundSourceDropped(t *testing.T) {
	m := NewMetrics(nil)
	c := drivertest.NewClient()
	r := New(c, WithMetrics(m))

	in, err := r.OpenInput("deviceX")
	require.NoError(t, err)
	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))

	c.Emit(devA, []byte{0x90, 60, 100})
	step(t, r, c)
	assert.Equal(t, 0, p.count())
	assert.Equal(t, 1.0, testutilValue(m.Dropped))
}

func TestOtherEventsIgnored(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("pisound", "pisound MIDI PS-0", devA)
	in, err := r.OpenInput("pisound")
	require.NoError(t, err)
	p := &recorder{}
	require.NoError(t, r.RegisterProcessor(in, p))

	c.Inject(driver.Event{Type: driver.Other, Addr: devA})
	step(t, r, c)
	assert.Equal(t, 0, p.count())
	_, err = in.Address()
	assert.NoError(t, err)
}

func TestRunDispatchesUntilQuit(t *testing.T) {
	r, c := newTestRouter(t)

	in, err := r.OpenInput("deviceX")
	require.NoError(t, err)
	out, err := r.OpenOutput("synth")
	require.NoError(t, err)
	c.AddPort("synth", "synth in", devB)
	c.Alias("synth", devB)

	// forwarding from inside a processor must not deadlock
	require.NoError(t, r.RegisterProcessor(in, HandleFunc(func(msg Message) {
		_ = out.WriteEvent(msg.Event, true)
	})))

	errc := make(chan error, 1)
	go func() {
		errc <- r.Run(context.Background())
	}()

	c.Plug("synth", "synth in", devB)
	c.Plug("deviceX", "deviceX MIDI 1", devA)
	c.Emit(devA, []byte{0x90, 60, 100})

	assert.Eventually(t, func() bool {
		return len(c.Sent()) == 1
	}, time.Second, time.Millisecond*10)
	assert.Equal(t, drivertest.Sent{Dst: devB, Data: midi.Event{0x90, 60, 100}}, c.Sent()[0])

	r.Quit()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Quit")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- r.Run(ctx)
	}()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestQuitBeforeRun(t *testing.T) {
	r, c := newTestRouter(t)
	c.Emit(devA, []byte{0xF8})

	r.Quit()
	require.NoError(t, r.Run(context.Background()))

	// the quit request is consumed, the event is still queued
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, driver.Message, ev.Type)
}

func TestRunTransportError(t *testing.T) {
	r, c := newTestRouter(t)
	require.NoError(t, c.Close())

	err := r.Run(context.Background())
	assert.True(t, errors.Is(err, drivertest.ErrClosed))
}

func TestAliasedNamesLeaveAndReturnTogether(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("dev", "dev port", devA)
	c.Alias("A", devA)
	c.Alias("B", devA)

	a, err := r.OpenInput("A")
	require.NoError(t, err)
	b, err := r.OpenInput("B")
	require.NoError(t, err)
	pa, pb := &recorder{}, &recorder{}
	require.NoError(t, r.RegisterProcessor(a, pa))
	require.NoError(t, r.RegisterProcessor(b, pb))

	c.Unplug(devA)
	step(t, r, c)
	for _, ref := range []*Input{a, b} {
		_, err = ref.Address()
		assert.True(t, errors.Is(err, ErrNameUnresolved))
	}

	c.Emit(devA, []byte{0x90, 60, 100})
	step(t, r, c)
	assert.Equal(t, 0, pa.count())
	assert.Equal(t, 0, pb.count())

	c.Plug("dev", "dev port", devA)
	step(t, r, c)
	assert.Equal(t, 2, c.SubscribeCalls(), "one subscription on open, one on return")
	assert.Equal(t, 1, c.Subscriptions())

	c.Emit(devA, []byte{0x90, 60, 100})
	step(t, r, c)
	assert.Equal(t, 1, pa.count())
	assert.Equal(t, 1, pb.count())

	require.NoError(t, a.Close())
	assert.Equal(t, 0, c.UnsubscribeCalls())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, c.UnsubscribeCalls())
	assert.Empty(t, r.reg.reverse[dirInput])
	assert.Empty(t, r.Status())
}

func TestCloseAfterDeparture(t *testing.T) {
	r, c := newTestRouter(t)
	c.AddPort("dev", "dev port", devA)
	c.Alias("A", devA)
	c.Alias("B", devA)

	a, err := r.OpenInput("A")
	require.NoError(t, err)
	b, err := r.OpenInput("B")
	require.NoError(t, err)
	require.NoError(t, r.RegisterProcessor(a, &recorder{}))

	c.Unplug(devA)
	step(t, r, c)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, c.UnsubscribeCalls(), "the transport already dropped the subscription")
	assert.Empty(t, r.reg.reverse[dirInput])
	assert.Empty(t, r.Status())
}
