package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ============================================================================
// Serial tracker driver
// ============================================================================
// For trackers (or bridge microcontrollers) that stream one report per line:
//
//   <x>,<y>,<valid>\n     e.g. "0.512,0.433,1"
//
// valid is 1/0 (or true/false). Coordinates of an invalid report are ignored.
// Malformed lines are skipped.
// ============================================================================

// serialPort is the subset of serial.Port the driver uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

type serialDriver struct {
	prefix string
	mode   *serial.Mode

	listPorts func() ([]string, error)
	openPort  func(name string, mode *serial.Mode) (serialPort, error)
}

func newSerialDriver(cfg SerialConfig) *serialDriver {
	return &serialDriver{
		prefix: cfg.PortPrefix,
		mode: &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		listPorts: serial.GetPortsList,
		openPort: func(name string, mode *serial.Mode) (serialPort, error) {
			return serial.Open(name, mode)
		},
	}
}

func (d *serialDriver) Name() string { return driverSerial }

// Enumerate lists serial ports whose name starts with the configured prefix.
func (d *serialDriver) Enumerate(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ports, err := d.listPorts()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	var ids []string
	for _, p := range ports {
		if strings.HasPrefix(p, d.prefix) {
			ids = append(ids, p)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *serialDriver) Open(id string) (Device, error) {
	port, err := d.openPort(id, d.mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", id, err)
	}
	return newSerialDevice(id, port), nil
}

func (d *serialDriver) Close() error { return nil }

type serialDevice struct {
	id    string
	port  serialPort
	chunk []byte

	// pending holds bytes read but not yet split into lines.
	pending []byte

	mu     sync.Mutex
	cb     ReadingFunc
	closed bool
}

func newSerialDevice(id string, port serialPort) *serialDevice {
	return &serialDevice{
		id:    id,
		port:  port,
		chunk: make([]byte, serialMaxLineBytes),
	}
}

func (d *serialDevice) Subscribe(fn ReadingFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.cb = fn
	return nil
}

func (d *serialDevice) Unsubscribe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = nil
	return nil
}

// WaitForEvents reads once with the given timeout. A read of zero bytes is
// how go.bug.st/serial reports a timeout.
func (d *serialDevice) WaitForEvents(timeout time.Duration) error {
	if bytes.IndexByte(d.pending, '\n') >= 0 {
		return nil
	}
	if err := d.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	n, err := d.port.Read(d.chunk)
	if err != nil {
		return fmt.Errorf("read from %s: %w", d.id, err)
	}
	if n == 0 {
		return ErrTimeout
	}
	d.pending = append(d.pending, d.chunk[:n]...)

	// A line longer than this is noise; drop it rather than grow forever.
	if len(d.pending) > 4*serialMaxLineBytes && bytes.IndexByte(d.pending, '\n') < 0 {
		d.pending = d.pending[:0]
	}
	return nil
}

// ProcessEvents dispatches every complete line received so far.
func (d *serialDevice) ProcessEvents() error {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return ErrNotSubscribed
	}

	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := string(d.pending[:i])
		d.pending = d.pending[i+1:]

		r, ok := parseSerialLine(line)
		if !ok {
			continue
		}
		r.At = time.Now()
		cb(r)
	}
	if len(d.pending) == 0 {
		d.pending = d.pending[:0:0]
	}
	return nil
}

func (d *serialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.port.Close()
}

// parseSerialLine parses "<x>,<y>,<valid>". A valid report with a NaN or
// infinite coordinate is treated as invalid.
func parseSerialLine(line string) (Reading, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reading{}, false
	}
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Reading{}, false
	}

	valid, err := strconv.ParseBool(strings.TrimSpace(fields[2]))
	if err != nil {
		return Reading{}, false
	}
	if !valid {
		return Reading{Valid: false}, true
	}

	x, errX := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if errX != nil || errY != nil {
		return Reading{}, false
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return Reading{Valid: false}, true
	}
	return Reading{X: x, Y: y, Valid: true}, true
}
