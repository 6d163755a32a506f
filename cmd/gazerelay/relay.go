package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// relay ties a running Session to its outer surfaces (stream server, console
// logger, IPC) and implements RelayController for the IPC server.
type relay struct {
	cfg     Config
	logger  *slog.Logger
	session *Session
	stream  *StreamServer // nil when stream.enabled is false
	console *ConsoleObserver
	quit    context.CancelFunc
}

func newRelay(cfg Config, session *Session, logger *slog.Logger) *relay {
	r := &relay{
		cfg:     cfg,
		logger:  logger,
		session: session,
	}
	if cfg.Stream.Enabled {
		r.stream = NewStreamServer(logger, session, cfg.Stream)
	}
	if cfg.Console.Enabled {
		r.console = NewConsoleObserver(logger, cfg.Console.Every)
	}
	return r
}

// attachObservers registers every enabled sink with the session.
func (r *relay) attachObservers() {
	if r.stream != nil {
		r.session.AddObserver(r.stream.Observer())
	}
	if r.console != nil {
		r.session.AddObserver(r.console.Observer())
	}
}

func (r *relay) Info() RelayInfo {
	info := RelayInfo{
		State:     r.session.State().String(),
		DeviceID:  r.session.DeviceID(),
		Sample:    r.session.Sample().Snapshot(),
		Observers: r.session.Observers(),
		Stats:     r.session.Stats(),
	}
	if r.stream != nil {
		info.StreamClients = r.stream.Hub().Clients()
	}
	return info
}

func (r *relay) ClearObservers() {
	r.session.ClearObservers()
	r.logger.Info("observers cleared")
}

func (r *relay) Quit() {
	r.logger.Info("quit requested via IPC")
	if r.quit != nil {
		r.quit()
	}
}

// run starts the session and every surface, and blocks until ctx is canceled,
// a quit is requested, or the poll worker fails. Observers are cleared before
// the session is torn down. The returned error is the worker failure, a
// startup error, or a surface error; teardown errors are only logged.
func (r *relay) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.quit = cancel

	r.attachObservers()

	if err := r.session.Start(ctx); err != nil {
		r.session.ClearObservers()
		if closeErr := r.session.Close(); closeErr != nil {
			r.logger.Warn("session close after failed start", "error", closeErr)
		}
		return err
	}
	r.logger.Info("tracker running", "device_id", r.session.DeviceID(), "observers", r.session.Observers())

	g, gctx := errgroup.WithContext(ctx)

	if r.stream != nil {
		mux := http.NewServeMux()
		r.stream.Register(mux, r.cfg.Stream.Path)
		g.Go(func() error {
			r.stream.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, r.cfg.Stream.Port, mux, r.logger)
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(r.cfg.IPC.SocketPath), r, r.logger)
	})

	if stdinIsTerminal() {
		r.logger.Info("type q and press enter to quit")
		g.Go(func() error {
			watchQuitKey(gctx, os.Stdin, cancel, r.logger)
			return nil
		})
	}

	// The worker reports fatal driver errors here; returning one cancels gctx.
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-r.session.Done():
			return r.session.Err()
		}
	})

	runErr := g.Wait()

	r.logger.Info("shutting down")
	r.session.ClearObservers()
	if err := r.session.Close(); err != nil {
		for _, e := range multierr.Errors(err) {
			r.logger.Warn("teardown step failed", "error", e)
		}
	}

	return runErr
}
