package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const simDeviceID = "sim:0"

// simDriver is a fake tracker for demos and bench testing. It traces a
// Lissajous path across the unit square and drops the subject every
// dropoutEvery reports.
type simDriver struct {
	clock        clock.Clock
	rateHz       int
	dropoutEvery int
}

func newSimDriver(clk clock.Clock, cfg SimConfig) *simDriver {
	rate := cfg.RateHz
	if rate <= 0 {
		rate = defaultSimRateHz
	}
	return &simDriver{clock: clk, rateHz: rate, dropoutEvery: cfg.DropoutEvery}
}

func (d *simDriver) Name() string { return driverSim }

func (d *simDriver) Enumerate(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []string{simDeviceID}, nil
}

func (d *simDriver) Open(id string) (Device, error) {
	if id != simDeviceID {
		return nil, fmt.Errorf("unknown simulated device %q", id)
	}
	period := time.Second / time.Duration(d.rateHz)
	return &simDevice{
		clock:        d.clock,
		period:       period,
		dropoutEvery: uint64(d.dropoutEvery),
		ticker:       d.clock.Ticker(period),
	}, nil
}

func (d *simDriver) Close() error { return nil }

type simDevice struct {
	clock        clock.Clock
	period       time.Duration
	dropoutEvery uint64
	ticker       *clock.Ticker

	seq     uint64
	pending int

	mu     sync.Mutex
	cb     ReadingFunc
	closed bool
}

func (d *simDevice) Subscribe(fn ReadingFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.cb = fn
	return nil
}

func (d *simDevice) Unsubscribe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = nil
	return nil
}

// WaitForEvents waits for the next report tick. Ticks missed while the caller
// was busy are dropped by the ticker, like a real device overwriting its buffer.
func (d *simDevice) WaitForEvents(timeout time.Duration) error {
	if d.pending > 0 {
		return nil
	}
	timer := d.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-d.ticker.C:
		d.pending++
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

func (d *simDevice) ProcessEvents() error {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return ErrNotSubscribed
	}

	for ; d.pending > 0; d.pending-- {
		d.seq++
		cb(d.reading(d.seq))
	}
	return nil
}

// reading computes report n (1-based) of the simulated gaze path.
func (d *simDevice) reading(n uint64) Reading {
	t := float64(n) * d.period.Seconds()
	r := Reading{
		X:     0.5 + 0.4*math.Sin(2*math.Pi*0.25*t),
		Y:     0.5 + 0.4*math.Sin(2*math.Pi*0.17*t+math.Pi/4),
		Valid: true,
		At:    d.clock.Now(),
	}
	if d.dropoutEvery > 0 && n%d.dropoutEvery == 0 {
		r = Reading{Valid: false, At: r.At}
	}
	return r
}

func (d *simDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.ticker.Stop()
	return nil
}
