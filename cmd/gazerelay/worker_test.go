package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollWorker_StopNeverStarted(t *testing.T) {
	w := newPollWorker(&fakeDevice{log: &callLog{}}, "dev", 0, discardLogger(), nil)
	w.stop()
	w.stop()
	assert.Equal(t, WorkerStopped, w.State())
	assert.Equal(t, defaultPollTimeout, w.timeout)
}

func TestPollWorker_StartStop(t *testing.T) {
	dev := &fakeDevice{id: "dev", log: &callLog{}}
	w := newPollWorker(dev, "dev", 5*time.Millisecond, discardLogger(), func(err error) {
		t.Errorf("unexpected fatal: %v", err)
	})

	w.start()
	assert.Equal(t, WorkerRunning, w.State())
	waitUntil(t, time.Second, func() bool { return w.Timeouts() >= 3 }, "worker is not polling")

	w.stop()
	assert.Equal(t, WorkerStopped, w.State())
	n := w.Timeouts()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, w.Timeouts(), "worker kept polling after stop")
}

func TestPollWorker_FatalCallsOnFatalOnce(t *testing.T) {
	dev := &fakeDevice{id: "dev", log: &callLog{}, steps: []fakeStep{{wait: errors.New("io error")}}}

	fatals := make(chan error, 2)
	w := newPollWorker(dev, "dev", 5*time.Millisecond, discardLogger(), func(err error) { fatals <- err })
	w.start()

	select {
	case err := <-fatals:
		var de *DriverError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "wait_for_events", de.Op)
		assert.Equal(t, KindWait, de.Kind)
	case <-time.After(time.Second):
		t.Fatal("onFatal not called")
	}

	// Joining a loop that already exited does not block.
	w.stop()
	assert.Len(t, fatals, 0)
}

func TestWrapDriverError_KeepsTypedError(t *testing.T) {
	inner := newDriverError("open", KindOpen, "dev", errors.New("x"))
	assert.Same(t, inner, wrapDriverError("process_events", KindProcess, "dev", inner))

	wrapped := wrapDriverError("process_events", KindProcess, "dev", errors.New("y"))
	var de *DriverError
	require.ErrorAs(t, wrapped, &de)
	assert.Equal(t, KindProcess, de.Kind)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(ErrTimeout))
	assert.True(t, isTimeout(newDriverError("wait", KindTimeout, "", errors.New("slow"))))
	assert.True(t, isTimeout(newDriverError("wait", KindWait, "", ErrTimeout)))
	assert.False(t, isTimeout(nil))
	assert.False(t, isTimeout(errors.New("other")))

	assert.True(t, newDriverError("wait", KindWait, "", ErrTimeout).Timeout())
	assert.Equal(t, "driver open (open) on dev-A: boom", newDriverError("open", KindOpen, "dev-A", errors.New("boom")).Error())
	assert.Equal(t, "driver enumerate (not_found): no tracker device found", newDriverError("enumerate", KindNotFound, "", ErrNoDevice).Error())
}
