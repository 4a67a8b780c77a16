package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

const (
	// message types
	NoteOff               uint8 = 0b1000 << 4
	NoteOn                uint8 = 0b1001 << 4
	PolyphonicKeyPressure uint8 = 0b1010 << 4 // After-touch
	ControlChange         uint8 = 0b1011 << 4
	ProgramChange         uint8 = 0b1100 << 4
	ChannelPressure       uint8 = 0b1101 << 4 // After-touch
	PitchWheelChange      uint8 = 0b1110 << 4

	// system common
	SysEx         uint8 = 0xF0
	TimeCode      uint8 = 0xF1
	SongPosition  uint8 = 0xF2
	SongSelect    uint8 = 0xF3
	TuneRequest   uint8 = 0xF6
	SysExEnd      uint8 = 0xF7
	Clock         uint8 = 0xF8
	Start         uint8 = 0xFA
	Continue      uint8 = 0xFB
	Stop          uint8 = 0xFC
	ActiveSensing uint8 = 0xFE
	Reset         uint8 = 0xFF

	// ControlChange
	AllNotesOff         uint8 = 0b01111011
	AllSoundOff         uint8 = 0b01111000
	ResetAllControllers uint8 = 0b01111001
)

// Kind discriminates decoded events, processors switch on it instead of status bytes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNoteOff
	KindNoteOn
	KindPolyphonicKeyPressure
	KindControlChange
	KindProgramChange
	KindChannelPressure
	KindPitchWheelChange
	KindSysEx
	KindTimeCode
	KindSongPosition
	KindSongSelect
	KindTuneRequest
	KindClock
	KindStart
	KindContinue
	KindStop
	KindActiveSensing
	KindReset
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindNoteOff:               "note_off",
	KindNoteOn:                "note_on",
	KindPolyphonicKeyPressure: "polyphonic_key_pressure",
	KindControlChange:         "control_change",
	KindProgramChange:         "program_change",
	KindChannelPressure:       "channel_pressure",
	KindPitchWheelChange:      "pitch_wheel_change",
	KindSysEx:                 "sysex",
	KindTimeCode:              "time_code",
	KindSongPosition:          "song_position",
	KindSongSelect:            "song_select",
	KindTuneRequest:           "tune_request",
	KindClock:                 "clock",
	KindStart:                 "start",
	KindContinue:              "continue",
	KindStop:                  "stop",
	KindActiveSensing:         "active_sensing",
	KindReset:                 "reset",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return kindNames[KindUnknown]
	}
	return name
}

var channelKinds = map[uint8]Kind{
	NoteOff:               KindNoteOff,
	NoteOn:                KindNoteOn,
	PolyphonicKeyPressure: KindPolyphonicKeyPressure,
	ControlChange:         KindControlChange,
	ProgramChange:         KindProgramChange,
	ChannelPressure:       KindChannelPressure,
	PitchWheelChange:      KindPitchWheelChange,
}

var systemKinds = map[uint8]Kind{
	SysEx:         KindSysEx,
	TimeCode:      KindTimeCode,
	SongPosition:  KindSongPosition,
	SongSelect:    KindSongSelect,
	TuneRequest:   KindTuneRequest,
	Clock:         KindClock,
	Start:         KindStart,
	Continue:      KindContinue,
	Stop:          KindStop,
	ActiveSensing: KindActiveSensing,
	Reset:         KindReset,
}

var intervalToString = map[int]string{
	0:  "Perfect unison",
	1:  "Minor second",
	2:  "Major second",
	3:  "Minor third",
	4:  "Major third",
	5:  "Perfect fourth",
	6:  "Tritone",
	7:  "Perfect fifth",
	8:  "Minor sixth",
	9:  "Major sixth",
	10: "Minor seventh",
	11: "Major seventh",
	12: "Perfect octave",
}

// IntervalName names the interval between two notes, up to an octave.
func IntervalName(a, b byte) string {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	name, ok := intervalToString[d]
	if !ok {
		return fmt.Sprintf("%d semitones", d)
	}
	return name
}

func noteToString(note byte) string {
	return fmt.Sprintf("%-2s%2d", NoteToPitch(note), NoteToOctave(note))
}

// Event is a single MIDI message as delivered by the transport.
type Event []byte

func (e Event) Kind() Kind {
	if len(e) == 0 {
		return KindUnknown
	}
	if e[0] >= SysEx {
		k, ok := systemKinds[e[0]]
		if !ok {
			return KindUnknown
		}
		return k
	}
	k, ok := channelKinds[e[0]&0b11110000]
	if !ok {
		return KindUnknown
	}
	return k
}

// IsChannelMessage reports whether the event carries a channel nibble.
func (e Event) IsChannelMessage() bool {
	return len(e) > 0 && e[0] >= NoteOff && e[0] < SysEx
}

// Channel returns the 0-based channel, valid only for channel messages.
func (e Event) Channel() uint8 {
	if !e.IsChannelMessage() {
		return 0
	}
	return e[0] & 0b1111
}

func (e Event) String() string {
	if len(e) == 0 {
		return fmt.Sprintf("Warning: empty Midi event, it should be not emitted")
	}
	if e[0] >= SysEx {
		if e.Kind() == KindUnknown {
			return unexpected(e)
		}
		return gomidi.Message(e).String()
	}

	channel := e[0]&0b1111 + 1
	switch x := e[0] & 0b11110000; x {
	case NoteOff:
		if len(e) < 3 {
			return unexpected(e)
		}
		return fmt.Sprintf("Note Off: %s (channel: %2d, velocity: %3d)", noteToString(e[1]), channel, e[2])
	case NoteOn:
		if len(e) < 3 {
			return unexpected(e)
		}
		return fmt.Sprintf("Note On : %s (channel: %2d, velocity: %3d)", noteToString(e[1]), channel, e[2])
	case PolyphonicKeyPressure:
		if len(e) < 3 {
			return unexpected(e)
		}
		return fmt.Sprintf("Polyphonic Key Pressure: %s (channel: %2d, pressure: %3d)", noteToString(e[1]), channel, e[2])
	case ControlChange:
		if len(e) < 2 {
			return unexpected(e)
		}
		var value string
		if len(e) == 3 {
			value = fmt.Sprintf("%3d", e[2])
		} else {
			value = "---"
		}
		return fmt.Sprintf("Control Change: %3d, value: %s (channel: %2d)", e[1], value, channel)
	case ProgramChange:
		if len(e) < 2 {
			return unexpected(e)
		}
		return fmt.Sprintf("Program Change: %3d (channel: %2d)", e[1], channel)
	case ChannelPressure:
		if len(e) < 2 {
			return unexpected(e)
		}
		return fmt.Sprintf("Channel Pressure: %3d (channel: %2d)", e[1], channel)
	case PitchWheelChange:
		if len(e) < 3 {
			return unexpected(e)
		}
		val := float64((int(e[2])<<7)+int(e[1])-8192) / 8192 // max value: 16383, middle value (no pitch change): 8192
		return fmt.Sprintf("Pitch Bend: %4.0f%% (channel: %2d)", val*100, channel)
	default:
		return unexpected(e)
	}
}

func unexpected(e Event) string {
	msg := "Oof, unexpected event format: "
	for _, v := range e {
		msg += fmt.Sprintf("0x%02x ", v)
	}
	return msg
}

func NoteEvent(messageType, channel, note, velocity uint8) Event {
	return Event{messageType | channel, note, velocity}
}

func ControlChangeEvent(channel, function, value uint8) Event {
	return Event{ControlChange | channel, function, value}
}

func ProgramChangeEvent(channel, program uint8) Event {
	return Event{ProgramChange | channel, program}
}

// PitchBendEvent accepts a value in range -1.0 to 1.0
func PitchBendEvent(channel uint8, val float64) Event {
	target := int(float64((1<<14)-1) * ((val + 1.0) / 2.0)) // valid 14-bit pitch-bend range
	msb := uint8((target >> 7) & 0b01111111)                // filtering bit that is beyond valid pitch-bend range when val>1.0, just in case
	lsb := uint8(target & 0b01111111)
	return Event{PitchWheelChange | channel, lsb, msb}
}

// SysExEvent wraps payload into a F0 ... F7 frame.
func SysExEvent(payload []byte) Event {
	ev := make(Event, 0, len(payload)+2)
	ev = append(ev, SysEx)
	ev = append(ev, payload...)
	return append(ev, SysExEnd)
}
