package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRelayConfig(t *testing.T) Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "gzrelay")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := DefaultConfig()
	cfg.Device.PollTimeoutMS = 10
	cfg.Stream.Enabled = false
	cfg.Console.Enabled = true
	cfg.Console.Every = 1
	cfg.IPC.SocketPath = filepath.Join(dir, "r.sock")
	return cfg
}

func TestRelay_FatalDriverErrorEndsRun(t *testing.T) {
	cause := errors.New("tracker disconnected")
	drv := newFakeDriver("dev-A")
	drv.script("dev-A",
		fakeStep{readings: []Reading{valid(0.1, 0.2), valid(0.3, 0.4)}},
		fakeStep{wait: cause},
	)
	cfg := testRelayConfig(t)
	session := NewSession(drv, discardLogger(), SessionConfig{PollTimeout: cfg.PollTimeout()})
	r := newRelay(cfg, session, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- r.run(context.Background()) }()

	select {
	case err := <-errCh:
		var de *DriverError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, KindWait, de.Kind)
		assert.ErrorIs(t, err, cause)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop on driver failure")
	}

	assert.Equal(t, uint64(2), r.console.Seen())
	assert.Zero(t, session.Observers(), "observers are cleared before teardown")
	assert.Equal(t, StateClosed, session.State())
	assert.Equal(t, 1, drv.log.count("close_driver"))
}

func TestRelay_QuitEndsRunCleanly(t *testing.T) {
	drv := newFakeDriver("dev-A")
	cfg := testRelayConfig(t)
	session := NewSession(drv, discardLogger(), SessionConfig{PollTimeout: cfg.PollTimeout()})
	r := newRelay(cfg, session, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- r.run(context.Background()) }()

	waitUntil(t, time.Second, func() bool { return session.State() == StateRunning }, "session not running")

	info := r.Info()
	assert.Equal(t, "running", info.State)
	assert.Equal(t, "dev-A", info.DeviceID)
	assert.Equal(t, 1, info.Observers)

	r.Quit()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop on quit")
	}
	assert.Equal(t, StateClosed, session.State())
}

func TestRelay_StartFailureClosesSession(t *testing.T) {
	drv := newFakeDriver()
	cfg := testRelayConfig(t)
	session := NewSession(drv, discardLogger(), SessionConfig{})
	r := newRelay(cfg, session, discardLogger())

	err := r.run(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, StateClosed, session.State())
	assert.Zero(t, session.Observers())
}

func TestRelay_ContextCancelEndsRun(t *testing.T) {
	drv := newFakeDriver("dev-A")
	cfg := testRelayConfig(t)
	session := NewSession(drv, discardLogger(), SessionConfig{PollTimeout: cfg.PollTimeout()})
	r := newRelay(cfg, session, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.run(ctx) }()

	waitUntil(t, time.Second, func() bool { return session.State() == StateRunning }, "session not running")
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}
