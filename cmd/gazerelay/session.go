package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// ============================================================================
// Device Session
// ============================================================================
// A Session owns exactly one tracker connection and everything that lives as
// long as it does: the shared sample state, the observer registry and the poll
// worker.
//
// Lifecycle:
//   Uninitialized -> Enumerating -> Subscribed -> Running -> Stopping -> Closed
//
// A fatal worker error moves Running to Failed; only Close leaves Failed.
//
// Handles are released in reverse acquisition order on Close:
//   unsubscribe -> device close -> driver close
// ============================================================================

// SessionState is the Session lifecycle state.
type SessionState int32

const (
	StateUninitialized SessionState = iota
	StateEnumerating
	StateSubscribed
	StateRunning
	StateStopping
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEnumerating:
		return "enumerating"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// SessionConfig tunes a Session.
type SessionConfig struct {
	// PollTimeout bounds each device wait. Zero means defaultPollTimeout.
	PollTimeout time.Duration
}

// SessionStats are counters maintained by the sample callback.
type SessionStats struct {
	Valid    uint64 `json:"valid"`
	Invalid  uint64 `json:"invalid"`
	Timeouts uint64 `json:"timeouts"`
}

// Session drives one tracker through the Driver capability.
type Session struct {
	driver      Driver
	logger      *slog.Logger
	pollTimeout time.Duration

	sample    SampleState
	observers ObserverRegistry

	mu         sync.Mutex // guards the lifecycle fields below
	deviceID   string
	device     Device
	subscribed bool
	worker     *pollWorker
	closed     bool

	state   atomic.Int32
	valid   atomic.Uint64
	invalid atomic.Uint64

	failOnce sync.Once
	failed   chan struct{}
	failErr  error // written once before failed is closed
}

// NewSession takes ownership of driver; Close releases it.
func NewSession(driver Driver, logger *slog.Logger, cfg SessionConfig) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	return &Session{
		driver:      driver,
		logger:      logger,
		pollTimeout: timeout,
		failed:      make(chan struct{}),
	}
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(st SessionState) { s.state.Store(int32(st)) }

// DeviceID returns the id chosen by Discover, or "" before discovery.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Sample returns the live shared state. Readers need no lock.
func (s *Session) Sample() *SampleState { return &s.sample }

// AddObserver registers fn for every valid sample. Allowed at any time.
func (s *Session) AddObserver(fn Observer) { s.observers.Add(fn) }

// ClearObservers removes all observers. It waits for an in-flight fan-out to finish.
func (s *Session) ClearObservers() { s.observers.Clear() }

// Observers returns the number of registered observers.
func (s *Session) Observers() int { return s.observers.Len() }

func (s *Session) Stats() SessionStats {
	st := SessionStats{
		Valid:   s.valid.Load(),
		Invalid: s.invalid.Load(),
	}
	s.mu.Lock()
	if s.worker != nil {
		st.Timeouts = s.worker.Timeouts()
	}
	s.mu.Unlock()
	return st
}

// Done is closed when the poll worker stops on a driver error.
func (s *Session) Done() <-chan struct{} { return s.failed }

// Err returns the driver error that stopped the worker, if any.
func (s *Session) Err() error {
	select {
	case <-s.failed:
		return s.failErr
	default:
		return nil
	}
}

// Discover enumerates devices and keeps the first one reported.
// Later ids are ignored.
func (s *Session) Discover(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discoverLocked(ctx)
}

func (s *Session) discoverLocked(ctx context.Context) (string, error) {
	if s.closed {
		return "", newDriverError("enumerate", KindEnumerate, "", ErrClosed)
	}
	if s.deviceID != "" {
		return s.deviceID, nil
	}

	s.setState(StateEnumerating)

	ids, err := s.driver.Enumerate(ctx)
	if err != nil {
		s.setState(StateUninitialized)
		return "", wrapDriverError("enumerate", KindEnumerate, "", err)
	}
	if len(ids) == 0 {
		s.setState(StateUninitialized)
		return "", newDriverError("enumerate", KindNotFound, "", ErrNoDevice)
	}

	s.deviceID = ids[0]
	if len(ids) > 1 {
		s.logger.Debug("multiple trackers found; using the first", "device_id", ids[0], "ignored", ids[1:])
	}
	return s.deviceID, nil
}

// Open connects to the device chosen by Discover (or to id directly).
func (s *Session) Open(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(id)
}

func (s *Session) openLocked(id string) error {
	if s.closed {
		return newDriverError("open", KindOpen, id, ErrClosed)
	}
	if s.device != nil {
		return newDriverError("open", KindOpen, id, errors.New("device already open"))
	}
	if id == "" {
		return newDriverError("open", KindOpen, id, errors.New("empty device id"))
	}

	dev, err := s.driver.Open(id)
	if err != nil {
		return wrapDriverError("open", KindOpen, id, err)
	}
	s.deviceID = id
	s.device = dev
	s.logger.Info("tracker opened", "driver", s.driver.Name(), "device_id", id)
	return nil
}

// Subscribe binds the session's sample callback to the open device.
func (s *Session) Subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked()
}

func (s *Session) subscribeLocked() error {
	if s.device == nil {
		return newDriverError("subscribe", KindSubscribe, s.deviceID, errors.New("device not open"))
	}
	if s.subscribed {
		return nil
	}
	if err := s.device.Subscribe(s.onReading); err != nil {
		return wrapDriverError("subscribe", KindSubscribe, s.deviceID, err)
	}
	s.subscribed = true
	s.setState(StateSubscribed)
	return nil
}

// Start discovers, opens and subscribes as needed, then starts the poll worker.
// Calling Start on a running session restarts the worker; it never runs two.
// A failed session cannot be restarted: Start returns the failure.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newDriverError("start", KindUnknown, s.deviceID, ErrClosed)
	}
	select {
	case <-s.failed:
		return s.failErr
	default:
	}
	if s.deviceID == "" {
		if _, err := s.discoverLocked(ctx); err != nil {
			return err
		}
	}
	if s.device == nil {
		if err := s.openLocked(s.deviceID); err != nil {
			return err
		}
	}
	if err := s.subscribeLocked(); err != nil {
		return err
	}

	if s.worker == nil {
		s.worker = newPollWorker(s.device, s.deviceID, s.pollTimeout, s.logger, s.fatal)
	}
	s.worker.start()
	s.setState(StateRunning)
	return nil
}

// Stop stops and joins the poll worker. The device stays open and subscribed,
// so Start may be called again. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.worker == nil {
		return
	}
	if s.State() == StateRunning {
		s.setState(StateStopping)
	}
	s.worker.stop()
	if !s.closed && s.subscribed && s.State() != StateFailed {
		s.setState(StateSubscribed)
	}
}

// Close stops the worker and releases every handle in reverse order. Each step
// is attempted even when an earlier one failed; failures are combined.
// The second and later calls do nothing and return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.setState(StateStopping)
	s.stopLocked()
	s.closed = true

	var errs error
	if s.subscribed {
		if err := s.device.Unsubscribe(); err != nil {
			errs = multierr.Append(errs, wrapDriverError("unsubscribe", KindUnsubscribe, s.deviceID, err))
		}
		s.subscribed = false
	}
	if s.device != nil {
		if err := s.device.Close(); err != nil {
			errs = multierr.Append(errs, wrapDriverError("close_device", KindClose, s.deviceID, err))
		}
		s.device = nil
	}
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			errs = multierr.Append(errs, wrapDriverError("close_driver", KindClose, "", err))
		}
	}

	s.setState(StateClosed)
	s.logger.Debug("tracker session closed", "device_id", s.deviceID, "error", errs)
	return errs
}

// onReading is subscribed to the device and runs on the worker goroutine.
func (s *Session) onReading(r Reading) {
	if !r.Valid {
		s.sample.ClearPresence()
		s.invalid.Inc()
		return
	}
	s.sample.Write(r.X, r.Y)
	s.observers.InvokeAll(r.X, r.Y)
	s.valid.Inc()
}

func (s *Session) fatal(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		s.setState(StateFailed)
		close(s.failed)
	})
}
