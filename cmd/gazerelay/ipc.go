package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local control of the running relay (gazectl, scripts).
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "status" | "clear_observers" | "quit"}
//   - Server responds: {"status": "ok", "data": {...}} or
//     {"status": "error", "error": "msg"}
// ============================================================================

const (
	ipcCmdStatus         = "status"
	ipcCmdClearObservers = "clear_observers"
	ipcCmdQuit           = "quit"
)

// IPCRequest is one line sent by a client.
type IPCRequest struct {
	Type string `json:"type"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string     `json:"status"`          // "ok" or "error"
	Error  string     `json:"error,omitempty"` // error message if status == "error"
	Data   *RelayInfo `json:"data,omitempty"`  // set for "status"
}

// RelayInfo is the payload of a "status" response.
type RelayInfo struct {
	State         string       `json:"state"`
	DeviceID      string       `json:"device_id"`
	Sample        Sample       `json:"sample"`
	Observers     int          `json:"observers"`
	Stats         SessionStats `json:"stats"`
	StreamClients int          `json:"stream_clients"`
}

// RelayController is what the IPC server can ask of the running relay.
type RelayController interface {
	Info() RelayInfo
	ClearObservers()
	Quit()
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, ctl RelayController, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, ctl, logger)
	}
}

// handleIPCConnection serves requests on one connection until the client hangs up.
func handleIPCConnection(conn net.Conn, ctl RelayController, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		response := dispatchIPC(line, ctl)
		if err := encoder.Encode(response); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

func dispatchIPC(line string, ctl RelayController) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}
	}

	switch req.Type {
	case ipcCmdStatus:
		info := ctl.Info()
		return IPCResponse{Status: "ok", Data: &info}
	case ipcCmdClearObservers:
		ctl.ClearObservers()
		return IPCResponse{Status: "ok"}
	case ipcCmdQuit:
		ctl.Quit()
		return IPCResponse{Status: "ok"}
	case "":
		return IPCResponse{Status: "error", Error: "missing type"}
	default:
		return IPCResponse{Status: "error", Error: fmt.Sprintf("unknown command %q", req.Type)}
	}
}
