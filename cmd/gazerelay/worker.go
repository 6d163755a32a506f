package main

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// WorkerState is the poll worker lifecycle.
type WorkerState int32

const (
	WorkerStopped WorkerState = iota
	WorkerRunning
	WorkerStopping
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// pollWorker owns the one goroutine that waits on the device and drains it.
//
// Shutdown is cooperative: stop clears the running flag and the loop notices it
// at the top of the next iteration, so stop latency is at most one poll timeout.
type pollWorker struct {
	device   Device
	deviceID string
	timeout  time.Duration
	logger   *slog.Logger

	// onFatal is called once, from the worker goroutine, when the loop exits
	// on a driver error.
	onFatal func(error)

	mu      sync.Mutex // serializes start/stop on the owner side
	running atomic.Bool
	state   atomic.Int32
	done    chan struct{}

	timeouts atomic.Uint64
}

func newPollWorker(device Device, deviceID string, timeout time.Duration, logger *slog.Logger, onFatal func(error)) *pollWorker {
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	return &pollWorker{
		device:   device,
		deviceID: deviceID,
		timeout:  timeout,
		logger:   logger,
		onFatal:  onFatal,
	}
}

// start spawns the poll loop. A worker that is already running is stopped and
// joined first, so there is never more than one poller per device.
func (w *pollWorker) start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		w.logger.Debug("poll worker restart: joining previous loop", "device_id", w.deviceID)
		w.stopLocked()
	}

	done := make(chan struct{})
	w.done = done
	w.running.Store(true)
	w.state.Store(int32(WorkerRunning))

	go w.loop(done)
}

// stop clears the running flag and waits for the loop to return.
// Safe to call when never started and safe to call twice.
// Must not be called from an observer: the loop would wait on itself.
func (w *pollWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *pollWorker) stopLocked() {
	if w.done == nil {
		return
	}
	w.state.Store(int32(WorkerStopping))
	w.running.Store(false)
	<-w.done
	w.done = nil
	w.state.Store(int32(WorkerStopped))
}

func (w *pollWorker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Timeouts returns how many waits ended without events.
func (w *pollWorker) Timeouts() uint64 {
	return w.timeouts.Load()
}

func (w *pollWorker) loop(done chan struct{}) {
	defer close(done)

	w.logger.Debug("poll worker started", "device_id", w.deviceID, "poll_timeout_ms", w.timeout.Milliseconds())

	for w.running.Load() {
		err := w.device.WaitForEvents(w.timeout)
		if isTimeout(err) {
			w.timeouts.Inc()
			continue
		}
		if err != nil {
			w.fail(wrapDriverError("wait_for_events", KindWait, w.deviceID, err))
			return
		}

		if err := w.device.ProcessEvents(); err != nil {
			w.fail(wrapDriverError("process_events", KindProcess, w.deviceID, err))
			return
		}
	}

	w.logger.Debug("poll worker stopped", "device_id", w.deviceID)
}

func (w *pollWorker) fail(err error) {
	w.running.Store(false)
	w.state.Store(int32(WorkerStopped))
	w.logger.Error("poll worker stopped on driver error", "device_id", w.deviceID, "error", err)
	if w.onFatal != nil {
		w.onFatal(err)
	}
}

// wrapDriverError keeps an existing *DriverError and wraps anything else.
func wrapDriverError(op string, kind ErrorKind, device string, err error) error {
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	return newDriverError(op, kind, device, err)
}
