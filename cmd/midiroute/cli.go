package main

import (
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"time"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/logrusorgru/aurora"
)

func gray(v uint8) aurora.Color {
	if v > 23 {
		v = 23
	}
	return aurora.Color(232+v) << 16
}

func color(r, g, b uint8) aurora.Color {
	return aurora.Color(16+36*r+6*g+b) << 16
}

func terminator(r rune) bool {
	return r >= 0x40 && r <= 0x7e
}

// returns the same color for the same string
func colorForString(au aurora.Aurora, s string) aurora.Value {
	h := fnv.New32a()
	h.Write([]byte(s))
	sum := h.Sum32()

	r, g, b := uint8(sum)&0b00000111, uint8(sum>>8)&0b00000111, uint8(sum>>16)&0b00000111
	if r > 5 {
		r = 5
	}
	if g > 5 {
		g = 5
	}
	if b > 5 {
		b = 5
	}

	// avoid dark colors
	if r+g+b < 3 {
		r += 1
		g += 1
		b += 1
	}

	return au.Index(16+36*r+6*g+b, s)
}

// rawStringLen returns a len of string ignoring included escape sequences
func rawStringLen(s string) int {
	var sequence bool
	var escLens []int
	var escLen int

	for i, r := range s {
		if !sequence {
			if r == '\033' {
				if i >= len(s)-1 { // esc seems to be last character
					continue
				}
				if s[i+1] == '[' {
					sequence = true
					escLen += 1
					continue
				}
			}
		} else {
			if r == '[' && s[i-1] == '\033' {
				escLen += 1
				continue
			}
			if terminator(r) {
				sequence = false
				escLen += 1
				escLens = append(escLens, escLen)
				escLen = 0
			} else {
				escLen += 1
			}
		}
	}
	var sum int
	for _, x := range escLens {
		sum += x
	}
	return len(s) - sum
}

func levelColor(level int) aurora.Color {
	switch level {
	case logger.ErrorLvl:
		return color(5, 1, 1)
	case logger.WarningLvl:
		return color(5, 5, 1)
	case logger.InfoLvl:
		return gray(18)
	case logger.PortLvl:
		return color(1, 4, 2)
	case logger.EventLvl:
		return gray(13)
	default:
		return gray(9)
	}
}

// prepareString renders a log entry, empty result means the entry is above logLevel.
// width of -1 disables padding and truncation.
func prepareString(msg logger.Entry, au aurora.Aurora, width, logLevel int) string {
	if msg.Level > logLevel {
		return ""
	}
	msgColor := levelColor(msg.Level)

	t := time.Time(msg.Ts)
	timestamp := fmt.Sprintf(
		"[%s]",
		au.Reset(t.Format("15:04:05.000")).Colorize(color(1, 1, 5)).String(),
	)

	var fields []string
	if msg.Direction != "" {
		fields = append(fields, fmt.Sprintf("[%s]", colorForString(au, msg.Direction).String()))
	}
	if msg.Port != "" {
		fields = append(fields, fmt.Sprintf("[port=%s]", colorForString(au, msg.Port).String()))
	}
	if msg.Address != "" {
		fields = append(fields, fmt.Sprintf("[addr=%s]", colorForString(au, msg.Address).String()))
	}
	if msg.Event != "" {
		fields = append(fields, fmt.Sprintf("[%s]", colorForString(au, msg.Event).String()))
	}
	if msg.Error != "" {
		fields = append(fields, fmt.Sprintf("[err=%s]", au.Reset(msg.Error).Colorize(color(5, 1, 1)).String()))
	}
	if logLevel >= logger.DebugLvl && msg.Caller != "" {
		file, line, _ := strings.Cut(msg.Caller, ":")
		fields = append(fields, fmt.Sprintf("(%s:%s)", colorForString(au, file).String(), line))
	}
	joined := strings.Join(fields, " ")

	if width < 0 {
		m := au.Reset(msg.Msg).Colorize(msgColor).String()
		if joined == "" {
			return fmt.Sprintf("%s %s", timestamp, m)
		}
		return fmt.Sprintf("%s %s %s", timestamp, m, joined)
	}

	fieldsLen := rawStringLen(joined)
	timeLen := rawStringLen(timestamp)
	text := msg.Msg

	freeSpace := width - (timeLen + 1 + len(text) + 1 + fieldsLen)
	if freeSpace < 0 {
		limit := width - (fieldsLen + 1 + timeLen + 1) - 3
		if limit < 20 {
			joined = au.Gray(12, "(fields hidden)").String()
			freeSpace = width - (timeLen + 1 + len(text) + 1 + rawStringLen(joined))
		} else {
			text = text[:limit] + "..."
			freeSpace = 0
		}
		if freeSpace < 0 {
			freeSpace = 0
		}
	}
	m := au.Reset(text).Colorize(msgColor).String()
	return fmt.Sprintf("%s %s%s %s", timestamp, m, strings.Repeat(" ", freeSpace), joined)
}

// printLogs drains logger.Messages into w until the channel is closed.
func printLogs(w io.Writer, au aurora.Aurora, logLevel int, silent bool, done chan<- struct{}) {
	defer close(done)
	for data := range logger.Messages {
		if silent {
			continue
		}
		msg, err := logger.Unpack(data)
		if err != nil {
			fmt.Fprintf(w, "%s\n", string(data))
			continue
		}
		m := prepareString(msg, au, -1, logLevel)
		if m != "" {
			fmt.Fprintf(w, "%s\n", m)
		}
	}
}
