// Package player plays note events of Standard MIDI Files into an output port.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi"
	"github.com/gethiox/midiroute/internal/pkg/midi/router"
	mmidi "github.com/moutend/go-midi"
	mmidiev "github.com/moutend/go-midi/event"
	"go.uber.org/zap"
)

// Writer is implemented by *router.Output.
type Writer interface {
	WriteEvent(ev midi.Event, drain bool) error
}

type Player struct {
	data []byte
	log  *zap.Logger

	enabledNotes map[uint8]uint8
}

func New(data []byte, log *zap.Logger) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{
		data:         data,
		log:          log,
		enabledNotes: make(map[uint8]uint8),
	}
}

// Play sends note events track after track until the file ends or ctx is done.
// Notes still held when playback stops are released.
func (p *Player) Play(ctx context.Context, out Writer, bpm int) error {
	if bpm <= 0 {
		return fmt.Errorf("invalid bpm: %d", bpm)
	}
	parser := mmidi.NewParser(p.data)
	mevents, err := parser.Parse()
	if err != nil {
		return fmt.Errorf("failed to parse midi file: %w", err)
	}
	defer p.release(out)

root:
	for _, track := range mevents.Tracks {
		for _, event := range track.Events {
			dt := time.Duration(event.DeltaTime().Quantity().Uint32()) * time.Second / time.Duration(bpm) / 2
			select {
			case <-time.After(dt):
			case <-ctx.Done():
				break root
			}

			switch v := event.(type) {
			case *mmidiev.NoteOnEvent:
				note, velocity := uint8(v.Note()), uint8(v.Velocity())
				if velocity == 0 {
					// note on with zero velocity releases the note
					delete(p.enabledNotes, note)
					p.write(out, midi.NoteEvent(midi.NoteOff, v.Channel(), note, 0))
					continue
				}
				p.enabledNotes[note] = v.Channel()
				p.write(out, midi.NoteEvent(midi.NoteOn, v.Channel(), note, velocity))
			case *mmidiev.NoteOffEvent:
				note := uint8(v.Note())
				delete(p.enabledNotes, note)
				p.write(out, midi.NoteEvent(midi.NoteOff, v.Channel(), note, uint8(v.Velocity())))
			}
		}
	}
	return nil
}

func (p *Player) write(out Writer, ev midi.Event) {
	err := out.WriteEvent(ev, true)
	if err == nil {
		return
	}
	lvl := logger.Warning
	if errors.Is(err, router.ErrDeviceUnavailable) {
		lvl = logger.Debug
	}
	p.log.Info("Failed to play event", zap.Error(err), lvl)
}

func (p *Player) release(out Writer) {
	for n, ch := range p.enabledNotes {
		p.write(out, midi.NoteEvent(midi.NoteOff, ch, n, 0))
		delete(p.enabledNotes, n)
	}
}
