package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConsoleObserver_LogsEveryNth(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := newLogger(&buf, LogLevelInfo, LoggingConfig{})
	c := NewConsoleObserver(logger, 3)
	obs := c.Observer()

	for i := 1; i <= 7; i++ {
		obs(float64(i), 0)
	}

	assert.Equal(t, uint64(7), c.Seen())
	assert.Equal(t, 2, strings.Count(buf.String(), "msg=gaze"))
	assert.Contains(t, buf.String(), "x=3")
	assert.Contains(t, buf.String(), "x=6")
}

func TestConsoleObserver_NonPositiveEveryLogsAll(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := newLogger(&buf, LogLevelInfo, LoggingConfig{})
	obs := NewConsoleObserver(logger, 0).Observer()

	obs(1, 2)
	obs(3, 4)
	assert.Equal(t, 2, strings.Count(buf.String(), "msg=gaze"))
}

func TestIsQuitLine(t *testing.T) {
	for _, in := range []string{"q", "Q", " quit ", "exit"} {
		assert.True(t, isQuitLine(in), in)
	}
	for _, in := range []string{"", "qq", "stop"} {
		assert.False(t, isQuitLine(in), in)
	}
}

func TestWatchQuitKey(t *testing.T) {
	quit := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchQuitKey(context.Background(), strings.NewReader("hello\n\nq\nignored\n"), func() { quit <- struct{}{} }, discardLogger())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return")
	}
	assert.Len(t, quit, 1)
}

func TestWatchQuitKey_ReturnsOnCancelAndEOF(t *testing.T) {
	called := false

	// EOF without a quit line.
	watchQuitKey(context.Background(), strings.NewReader("nope\n"), func() { called = true }, discardLogger())
	assert.False(t, called)

	// Cancel while the reader blocks.
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchQuitKey(ctx, pr, func() { called = true }, discardLogger())
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher ignored cancellation")
	}
	assert.False(t, called)
}
