package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Hardware Driver Capability
// ============================================================================
// The relay never talks to a specific tracker SDK. It drives any hardware
// through this capability set:
//
//   Driver.Enumerate -> Driver.Open -> Device.Subscribe ->
//   (Device.WaitForEvents -> Device.ProcessEvents)* ->
//   Device.Unsubscribe -> Device.Close -> Driver.Close
//
// Concrete drivers live in driver_evdev.go, driver_serial.go and driver_sim.go.
// ============================================================================

// Reading is one report delivered by a device.
// Valid is false when the tracker could not locate the subject.
type Reading struct {
	X     float64
	Y     float64
	Valid bool
	At    time.Time
}

// ReadingFunc receives readings from Device.ProcessEvents on the caller's goroutine.
type ReadingFunc func(Reading)

// Driver is the API-level handle: it enumerates devices and opens them.
type Driver interface {
	Name() string
	Enumerate(ctx context.Context) ([]string, error)
	Open(id string) (Device, error)
	Close() error
}

// Device is an open connection to one tracker.
type Device interface {
	// Subscribe registers the callback invoked by ProcessEvents.
	Subscribe(fn ReadingFunc) error

	// WaitForEvents blocks until readings are pending or timeout elapses.
	// It returns ErrTimeout when nothing arrived in time.
	WaitForEvents(timeout time.Duration) error

	// ProcessEvents dispatches every pending reading to the subscribed callback.
	ProcessEvents() error

	Unsubscribe() error
	Close() error
}

var (
	// ErrTimeout is returned by WaitForEvents when the wait bound elapsed.
	ErrTimeout = errors.New("wait for events timed out")

	// ErrNoDevice is returned when enumeration found nothing.
	ErrNoDevice = errors.New("no tracker device found")

	// ErrNotSubscribed is returned by ProcessEvents before Subscribe.
	ErrNotSubscribed = errors.New("device has no subscriber")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device closed")
)

// ErrorKind classifies driver failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindEnumerate
	KindOpen
	KindSubscribe
	KindTimeout
	KindWait
	KindProcess
	KindUnsubscribe
	KindClose
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindEnumerate:
		return "enumerate"
	case KindOpen:
		return "open"
	case KindSubscribe:
		return "subscribe"
	case KindTimeout:
		return "timeout"
	case KindWait:
		return "wait"
	case KindProcess:
		return "process"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// DriverError is the typed failure returned by every session operation that
// touches the driver. Callers decide the policy (main treats all of them as fatal).
type DriverError struct {
	Op     string // e.g. "open", "wait_for_events"
	Kind   ErrorKind
	Device string // empty when not tied to a device
	Err    error
}

func (e *DriverError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("driver %s (%s) on %s: %v", e.Op, e.Kind, e.Device, e.Err)
	}
	return fmt.Sprintf("driver %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// Timeout reports whether the error is a benign poll timeout.
func (e *DriverError) Timeout() bool {
	return e.Kind == KindTimeout || errors.Is(e.Err, ErrTimeout)
}

func newDriverError(op string, kind ErrorKind, device string, err error) *DriverError {
	return &DriverError{Op: op, Kind: kind, Device: device, Err: err}
}

// isTimeout reports whether err is a benign wait timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var de *DriverError
	return errors.As(err, &de) && de.Kind == KindTimeout
}
