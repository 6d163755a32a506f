package main

import (
	"log/slog"

	"go.uber.org/atomic"
)

// ConsoleObserver logs every Nth sample it receives.
type ConsoleObserver struct {
	logger *slog.Logger
	every  uint64
	seen   atomic.Uint64
}

func NewConsoleObserver(logger *slog.Logger, every int) *ConsoleObserver {
	if every <= 0 {
		every = 1
	}
	return &ConsoleObserver{logger: logger, every: uint64(every)}
}

// Observer returns the function to register with the session.
func (c *ConsoleObserver) Observer() Observer {
	return func(x, y float64) {
		n := c.seen.Inc()
		if n%c.every != 0 {
			return
		}
		c.logger.Info("gaze", "x", x, "y", y, "n", n)
	}
}

// Seen returns how many samples have been delivered to this observer.
func (c *ConsoleObserver) Seen() uint64 { return c.seen.Load() }
