// Package srt parses the telemetry subtitles written next to recordings.
package srt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Errors.
var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidBlock     = errors.New("invalid block")
)

// Fields are the telemetry values of one subtitle.
type Fields struct {
	Signal          string
	Channel         string
	FlightTime      string // mm' ss"
	SkyBattery      string
	GroundBattery   string
	SkyBatteryCells string
	Delay           string
	Bitrate         string
	RCSignal        string
	Distance        string

	// Keys that are not recognized.
	Extra map[string]string
}

// Frame is one subtitle block.
type Frame struct {
	Start  time.Duration
	End    time.Duration
	Fields Fields
}

// Parse reads every block from r. Malformed blocks are skipped
// and counted.
func Parse(r io.Reader) ([]Frame, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var frames []Frame
	var block []string
	skipped := 0

	flush := func() {
		if len(block) == 0 {
			return
		}
		frame, err := parseBlock(block)
		if err != nil {
			skipped++
		} else {
			frames = append(frames, frame)
		}
		block = nil
	}

	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan: %w", err)
	}
	flush()

	return frames, skipped, nil
}

func parseBlock(lines []string) (Frame, error) {
	if len(lines) < 3 {
		return Frame{}, fmt.Errorf("%w: %d lines", ErrInvalidBlock, len(lines))
	}

	start, end, err := parseTimeRange(lines[1])
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{Start: start, End: end}
	for _, line := range lines[2:] {
		parseFields(line, &frame.Fields)
	}
	return frame, nil
}

func parseTimeRange(line string) (time.Duration, time.Duration, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, line)
	}
	start, err := ParseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("%w: end before start %q", ErrInvalidTimestamp, line)
	}
	return start, end, nil
}

// ParseTimestamp parses "HH:MM:SS,mmm".
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	s = strings.Replace(s, ".", ",", 1)

	hms, msStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	var values [4]int
	for i, p := range append(parts, msStr) {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		values[i] = v
	}
	if values[1] > 59 || values[2] > 59 || values[3] > 999 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	return time.Duration(values[0])*time.Hour +
		time.Duration(values[1])*time.Minute +
		time.Duration(values[2])*time.Second +
		time.Duration(values[3])*time.Millisecond, nil
}

func parseFields(line string, f *Fields) {
	for _, token := range strings.Fields(line) {
		key, value, ok := strings.Cut(token, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "signal":
			f.Signal = value
		case "ch", "channel":
			f.Channel = value
		case "flighttime":
			f.FlightTime = FormatFlightTime(value)
		case "sbat", "skybat":
			f.SkyBattery = value
		case "gbat", "groundbat":
			f.GroundBattery = value
		case "sbatcells", "cells":
			f.SkyBatteryCells = value
		case "delay":
			f.Delay = value
		case "bitrate":
			f.Bitrate = value
		case "rcsignal", "rcsig":
			f.RCSignal = value
		case "distance":
			f.Distance = value
		default:
			if f.Extra == nil {
				f.Extra = make(map[string]string)
			}
			f.Extra[key] = value
		}
	}
}

// FormatFlightTime formats seconds as mm' ss". Values
// that are not integers are returned unchanged.
func FormatFlightTime(seconds string) string {
	v, err := strconv.Atoi(strings.TrimSuffix(seconds, "s"))
	if err != nil || v < 0 {
		return seconds
	}
	return fmt.Sprintf("%02d' %02d\"", v/60, v%60)
}

// Selector finds the subtitle shown at a time.
type Selector struct {
	frames []Frame
}

// NewSelector returns a selector, frames are sorted by start time.
func NewSelector(frames []Frame) *Selector {
	frames = append([]Frame(nil), frames...)
	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].Start < frames[j].Start
	})
	return &Selector{frames: frames}
}

// At returns the frame whose [start, end) contains t. Before the
// first frame the first frame is returned, after or between frames
// the last frame that started is returned. Nil if there are no frames.
func (s *Selector) At(t time.Duration) *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	// First frame starting after t.
	i := sort.Search(len(s.frames), func(i int) bool {
		return s.frames[i].Start > t
	})
	if i == 0 {
		return &s.frames[0]
	}
	return &s.frames[i-1]
}
