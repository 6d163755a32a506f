package main

import (
	"bytes"
	"encoding/binary"
	"time"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// absInfo mirrors struct input_absinfo.
type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// normalize maps raw into [0, 1] using the axis range. Axes without a usable
// range pass the raw value through. Computed in float64: raw-Minimum
// overflows int32 on full-range axes.
func (a absInfo) normalize(raw int32) float64 {
	if a.Maximum <= a.Minimum {
		return float64(raw)
	}
	lo, hi := float64(a.Minimum), float64(a.Maximum)
	return (float64(raw) - lo) / (hi - lo)
}

// decodeInputEvents parses every complete event in buf, skipping malformed ones.
func decodeInputEvents(buf []byte, reader *bytes.Reader, fn func(inputEvent)) {
	for len(buf) >= inputEventSize {
		reader.Reset(buf[:inputEventSize])
		buf = buf[inputEventSize:]

		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		fn(ev)
	}
}

// evdevFrame accumulates axis and touch state between SYN_REPORT markers.
//
// The tracker reports gaze as ABS_X/ABS_Y and presence as BTN_TOUCH. One frame
// (terminated by SYN_REPORT) becomes one Reading.
type evdevFrame struct {
	xInfo absInfo
	yInfo absInfo

	rawX    int32
	rawY    int32
	touch   bool
	dropped bool
}

func newEvdevFrame(x, y absInfo) *evdevFrame {
	return &evdevFrame{xInfo: x, yInfo: y, rawX: x.Value, rawY: y.Value}
}

// apply feeds one event and returns a Reading when a frame completes.
// Frames following SYN_DROPPED are discarded up to the next SYN_REPORT.
func (f *evdevFrame) apply(ev inputEvent) (Reading, bool) {
	switch ev.Type {
	case EV_ABS:
		switch ev.Code {
		case ABS_X:
			f.rawX = ev.Value
		case ABS_Y:
			f.rawY = ev.Value
		}

	case EV_KEY:
		if ev.Code == BTN_TOUCH {
			f.touch = ev.Value != 0
		}

	case EV_SYN:
		switch ev.Code {
		case SYN_DROPPED:
			f.dropped = true
		case SYN_REPORT:
			if f.dropped {
				f.dropped = false
				return Reading{}, false
			}
			return Reading{
				X:     f.xInfo.normalize(f.rawX),
				Y:     f.yInfo.normalize(f.rawY),
				Valid: f.touch,
				At:    time.Unix(ev.Sec, ev.Usec*int64(time.Microsecond)),
			}, true
		}
	}
	return Reading{}, false
}
