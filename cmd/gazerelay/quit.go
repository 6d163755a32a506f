package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdinIsTerminal reports whether the quit key watcher should run.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// isQuitLine matches the lines that end the relay from a terminal.
func isQuitLine(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "q", "quit", "exit":
		return true
	}
	return false
}

// watchQuitKey calls onQuit when a quit line is read from r. It returns when
// ctx is canceled, r reaches EOF, or onQuit has been called.
//
// The reader goroutine may stay blocked in Read after ctx is canceled; stdin
// cannot be interrupted portably and the process is exiting anyway.
func watchQuitKey(ctx context.Context, r io.Reader, onQuit func(), logger *slog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				logger.Debug("quit watcher: input closed")
				return
			}
			if isQuitLine(line) {
				logger.Info("quit requested from terminal")
				onQuit()
				return
			}
		}
	}
}
