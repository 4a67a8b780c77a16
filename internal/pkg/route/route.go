package route

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gethiox/midiroute/internal/pkg/midi"
)

var ErrInvalidRoute = errors.New("invalid route")

// Route forwards events of one input port to a set of output ports.
type Route struct {
	Input   string   `yaml:"input" toml:"input"`
	Outputs []string `yaml:"outputs" toml:"outputs"`
	// Channel limits forwarding to one channel, 1-16, 0 forwards everything
	Channel int `yaml:"channel" toml:"channel"`
	// Transpose shifts note numbers in semitones
	Transpose int `yaml:"transpose" toml:"transpose"`
	// RemapChannel rewrites the channel of channel messages, 1-16, 0 keeps it
	RemapChannel int `yaml:"remap_channel" toml:"remap_channel"`
	// Lowest and Highest limit note messages to a key range, e.g. "c2" or "f#4"
	Lowest  string `yaml:"lowest" toml:"lowest"`
	Highest string `yaml:"highest" toml:"highest"`
}

type keyRange struct {
	lo, hi byte
}

// contains reports whether ev is outside of note messages or its note is in range.
func (k keyRange) contains(ev midi.Event) bool {
	switch ev.Kind() {
	case midi.KindNoteOn, midi.KindNoteOff, midi.KindPolyphonicKeyPressure:
		return len(ev) > 1 && ev[1] >= k.lo && ev[1] <= k.hi
	}
	return true
}

func (r Route) keys() (keyRange, error) {
	k := keyRange{lo: 0, hi: 127}
	if r.Lowest != "" {
		n, err := midi.StringToNote(r.Lowest)
		if err != nil {
			return k, fmt.Errorf("%w: %q lowest: %v", ErrInvalidRoute, r.Input, err)
		}
		k.lo = n
	}
	if r.Highest != "" {
		n, err := midi.StringToNote(r.Highest)
		if err != nil {
			return k, fmt.Errorf("%w: %q highest: %v", ErrInvalidRoute, r.Input, err)
		}
		k.hi = n
	}
	if k.lo > k.hi {
		return k, fmt.Errorf("%w: %q key range %s-%s is empty", ErrInvalidRoute, r.Input, r.Lowest, r.Highest)
	}
	return k, nil
}

func (r Route) String() string {
	return fmt.Sprintf("%s -> %s", r.Input, strings.Join(r.Outputs, ", "))
}

func (r Route) Validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return fmt.Errorf("%w: missing input", ErrInvalidRoute)
	}
	if len(r.Outputs) == 0 {
		return fmt.Errorf("%w: %q has no outputs", ErrInvalidRoute, r.Input)
	}
	for _, o := range r.Outputs {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: %q has an empty output name", ErrInvalidRoute, r.Input)
		}
	}
	if r.Channel < 0 || r.Channel > 16 {
		return fmt.Errorf("%w: %q channel %d out of range 0-16", ErrInvalidRoute, r.Input, r.Channel)
	}
	if r.RemapChannel < 0 || r.RemapChannel > 16 {
		return fmt.Errorf("%w: %q remap_channel %d out of range 0-16", ErrInvalidRoute, r.Input, r.RemapChannel)
	}
	if r.Transpose < -127 || r.Transpose > 127 {
		return fmt.Errorf("%w: %q transpose %d out of range", ErrInvalidRoute, r.Input, r.Transpose)
	}
	_, err := r.keys()
	return err
}

// accepts reports whether ev passes the channel filter.
func (r Route) accepts(ev midi.Event) bool {
	if len(ev) == 0 {
		return false
	}
	if r.Channel == 0 {
		return true
	}
	return ev.IsChannelMessage() && int(ev.Channel())+1 == r.Channel
}

// rewrite returns ev with transposition and channel remapping applied, ev itself
// is never modified.
func (r Route) rewrite(ev midi.Event) midi.Event {
	if r.Transpose == 0 && r.RemapChannel == 0 {
		return ev
	}
	out := make(midi.Event, len(ev))
	copy(out, ev)

	switch out.Kind() {
	case midi.KindNoteOn, midi.KindNoteOff, midi.KindPolyphonicKeyPressure:
		if len(out) > 1 {
			note := int(out[1]) + r.Transpose
			switch {
			case note < 0:
				note = 0
			case note > 127:
				note = 127
			}
			out[1] = byte(note)
		}
	}

	if r.RemapChannel != 0 && out.IsChannelMessage() {
		out[0] = out[0]&0b11110000 | byte(r.RemapChannel-1)
	}
	return out
}
