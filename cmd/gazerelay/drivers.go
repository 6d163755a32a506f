package main

import (
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
)

// newDriver builds the driver selected by device.driver.
func newDriver(cfg DeviceConfig, logger *slog.Logger) (Driver, error) {
	switch cfg.Driver {
	case driverEvdev:
		return newEvdevDriver(cfg.Evdev, logger)
	case driverSerial:
		return newSerialDriver(cfg.Serial), nil
	case driverSim:
		return newSimDriver(clock.New(), cfg.Sim), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
