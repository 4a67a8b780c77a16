package router

import (
	"reflect"

	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
)

// Message is what processors receive for every event arriving on an input port.
type Message struct {
	Port   string // logical input name the event was routed through
	Source driver.Address
	Event  midi.Event
}

// Processor handles events of the input ports it is registered on. Processors
// run sequentially on the dispatch goroutine. Implementations must be comparable
// (usually pointers) to be unregistered.
type Processor interface {
	Process(msg Message)
}

type funcProcessor struct {
	f func(Message)
}

func (p *funcProcessor) Process(msg Message) {
	p.f(msg)
}

// HandleFunc wraps f into a Processor, keep the returned value to unregister it later.
func HandleFunc(f func(Message)) Processor {
	return &funcProcessor{f: f}
}

func sameProcessor(a, b Processor) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// processorTable maps input names to processors in registration order.
type processorTable map[string][]Processor

func (t processorTable) create(name string) {
	if _, ok := t[name]; !ok {
		t[name] = nil
	}
}

func (t processorTable) drop(name string) {
	delete(t, name)
}

func (t processorTable) add(name string, p Processor) {
	t[name] = append(t[name], p)
}

func (t processorTable) remove(name string, p Processor) bool {
	ps := t[name]
	for i, candidate := range ps {
		if sameProcessor(candidate, p) {
			t[name] = append(ps[:i:i], ps[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot copies the processors of name, dispatch iterates it without the lock held.
func (t processorTable) snapshot(name string) []Processor {
	ps := t[name]
	if len(ps) == 0 {
		return nil
	}
	out := make([]Processor, len(ps))
	copy(out, ps)
	return out
}
