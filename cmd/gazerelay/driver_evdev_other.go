//go:build !linux

package main

import (
	"errors"
	"log/slog"
)

func newEvdevDriver(cfg EvdevConfig, logger *slog.Logger) (Driver, error) {
	return nil, errors.New("evdev driver is only available on linux")
}
