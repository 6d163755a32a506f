//go:build linux

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// evdevDriver finds trackers among Linux input devices that expose absolute
// X/Y axes. It has no API handle of its own, so Close is a no-op.
type evdevDriver struct {
	pattern string
	logger  *slog.Logger
}

func newEvdevDriver(cfg EvdevConfig, logger *slog.Logger) (Driver, error) {
	if cfg.Pattern == "" {
		return nil, errors.New("evdev: empty device pattern")
	}
	return &evdevDriver{pattern: cfg.Pattern, logger: logger}, nil
}

func (d *evdevDriver) Name() string { return driverEvdev }

// Enumerate returns matching devices that report ABS_X and ABS_Y, in lexical order.
func (d *evdevDriver) Enumerate(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", d.pattern, err)
	}
	sort.Strings(matches)

	var ids []string
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hasAbsXY(path) {
			ids = append(ids, path)
		} else {
			d.logger.Debug("skipping input device without absolute axes", "device", path)
		}
	}
	return ids, nil
}

func (d *evdevDriver) Open(id string) (Device, error) {
	fd, err := unix.Open(id, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}

	xInfo, errX := readAbsInfo(fd, ABS_X)
	yInfo, errY := readAbsInfo(fd, ABS_Y)
	if errX != nil || errY != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%s has no absolute X/Y axes: %w", id, errors.Join(errX, errY))
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	event := unix.EpollEvent{
		Events: unix.EPOLLIN, // Notify when readable
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return nil, fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
	}

	buf := make([]byte, inputEventSize*64)
	return &evdevDevice{
		id:     id,
		fd:     fd,
		epfd:   epfd,
		frame:  newEvdevFrame(xInfo, yInfo),
		buf:    buf,
		reader: bytes.NewReader(buf),
	}, nil
}

func (d *evdevDriver) Close() error { return nil }

// evdevDevice is one open input device. Only the poll worker calls
// WaitForEvents/ProcessEvents; the mutex covers the callback swap.
type evdevDevice struct {
	id   string
	fd   int
	epfd int

	frame  *evdevFrame
	buf    []byte
	reader *bytes.Reader
	events [1]unix.EpollEvent

	mu     sync.Mutex
	cb     ReadingFunc
	closed bool
}

func (d *evdevDevice) Subscribe(fn ReadingFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.cb = fn
	return nil
}

func (d *evdevDevice) Unsubscribe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = nil
	return nil
}

func (d *evdevDevice) WaitForEvents(timeout time.Duration) error {
	n, err := unix.EpollWait(d.epfd, d.events[:], int(timeout.Milliseconds()))
	if err != nil {
		// Interrupted system call (e.g. SIGINT): the caller just waits again.
		if err == syscall.EINTR {
			return ErrTimeout
		}
		return fmt.Errorf("epoll_wait: %w", err)
	}
	if n == 0 {
		return ErrTimeout
	}
	if d.events[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return fmt.Errorf("device error/hangup: %s (fd=%d)", d.id, d.fd)
	}
	return nil
}

// ProcessEvents reads until the device would block and dispatches every
// completed frame.
func (d *evdevDevice) ProcessEvents() error {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return ErrNotSubscribed
	}

	for {
		n, err := unix.Read(d.fd, d.buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return nil
			}
			return fmt.Errorf("read from %s: %w", d.id, err)
		}
		if n == 0 {
			return nil
		}
		decodeInputEvents(d.buf[:n], d.reader, func(ev inputEvent) {
			if r, ok := d.frame.apply(ev); ok {
				cb(r)
			}
		})
	}
}

func (d *evdevDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return errors.Join(unix.Close(d.epfd), unix.Close(d.fd))
}

// EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo)
func eviocgabs(axis uint) uintptr {
	const (
		iocRead   = 2
		sizeShift = 16
		dirShift  = 30
	)
	size := unsafe.Sizeof(absInfo{})
	return uintptr(iocRead<<dirShift) | size<<sizeShift | uintptr('E')<<8 | uintptr(0x40+axis)
}

func readAbsInfo(fd int, axis uint) (absInfo, error) {
	var info absInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), eviocgabs(axis), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return absInfo{}, fmt.Errorf("EVIOCGABS(%d): %w", axis, errno)
	}
	return info, nil
}

func hasAbsXY(path string) bool {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	if _, err := readAbsInfo(fd, ABS_X); err != nil {
		return false
	}
	_, err = readAbsInfo(fd, ABS_Y)
	return err == nil
}
