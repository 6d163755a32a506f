package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeStep scripts one WaitForEvents call and the ProcessEvents that follows it.
type fakeStep struct {
	wait     error     // returned by WaitForEvents; nil means events are pending
	readings []Reading // delivered by the next ProcessEvents
	process  error     // returned by the next ProcessEvents
}

func valid(x, y float64) Reading { return Reading{X: x, Y: y, Valid: true} }

func invalid() Reading { return Reading{Valid: false} }

// callLog records driver calls in order across a fake driver and its devices.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(c string) int {
	n := 0
	for _, got := range l.snapshot() {
		if got == c {
			n++
		}
	}
	return n
}

type fakeDevice struct {
	id  string
	log *callLog

	mu         sync.Mutex
	steps      []fakeStep
	next       int
	pending    []Reading
	processErr error
	cb         ReadingFunc

	subscribeErr   error
	unsubscribeErr error
	closeErr       error
}

func (d *fakeDevice) Subscribe(fn ReadingFunc) error {
	d.log.add("subscribe:" + d.id)
	if d.subscribeErr != nil {
		return d.subscribeErr
	}
	d.mu.Lock()
	d.cb = fn
	d.mu.Unlock()
	return nil
}

// WaitForEvents replays the script, then reports timeouts forever.
func (d *fakeDevice) WaitForEvents(timeout time.Duration) error {
	d.mu.Lock()
	if d.next < len(d.steps) {
		st := d.steps[d.next]
		d.next++
		if st.wait == nil {
			d.pending = append(d.pending, st.readings...)
			d.processErr = st.process
		}
		d.mu.Unlock()
		return st.wait
	}
	d.mu.Unlock()

	time.Sleep(time.Millisecond)
	return ErrTimeout
}

func (d *fakeDevice) ProcessEvents() error {
	d.mu.Lock()
	cb := d.cb
	pending := d.pending
	perr := d.processErr
	d.pending = nil
	d.processErr = nil
	d.mu.Unlock()

	if cb == nil {
		return ErrNotSubscribed
	}
	for _, r := range pending {
		cb(r)
	}
	return perr
}

// consumed reports how many scripted steps have been replayed.
func (d *fakeDevice) consumed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

func (d *fakeDevice) Unsubscribe() error {
	d.log.add("unsubscribe:" + d.id)
	d.mu.Lock()
	d.cb = nil
	d.mu.Unlock()
	return d.unsubscribeErr
}

func (d *fakeDevice) Close() error {
	d.log.add("close_device:" + d.id)
	return d.closeErr
}

type fakeDriver struct {
	ids          []string
	enumerateErr error
	openErr      error
	closeErr     error

	log     *callLog
	devices map[string]*fakeDevice
}

func newFakeDriver(ids ...string) *fakeDriver {
	d := &fakeDriver{
		ids:     ids,
		log:     &callLog{},
		devices: make(map[string]*fakeDevice),
	}
	for _, id := range ids {
		d.devices[id] = &fakeDevice{id: id, log: d.log}
	}
	return d
}

// script sets the step list of device id.
func (d *fakeDriver) script(id string, steps ...fakeStep) *fakeDevice {
	dev := d.devices[id]
	dev.steps = steps
	return dev
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Enumerate(ctx context.Context) ([]string, error) {
	d.log.add("enumerate")
	if d.enumerateErr != nil {
		return nil, d.enumerateErr
	}
	return append([]string(nil), d.ids...), nil
}

func (d *fakeDriver) Open(id string) (Device, error) {
	d.log.add("open:" + id)
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.devices[id], nil
}

func (d *fakeDriver) Close() error {
	d.log.add("close_driver")
	return d.closeErr
}

// recorder is an observer that remembers every call.
type recorder struct {
	mu    sync.Mutex
	calls [][2]float64
}

func (r *recorder) observe(x, y float64) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]float64{x, y})
	r.mu.Unlock()
}

func (r *recorder) snapshot() [][2]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]float64(nil), r.calls...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
