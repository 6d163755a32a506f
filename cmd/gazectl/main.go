package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// ============================================================================
// gazectl - Command-line IPC Client
// ============================================================================
// Sends one command to a running gazerelay via its Unix domain socket.
//
// Usage:
//   gazectl status
//   gazectl clear-observers
//   gazectl quit
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/gazerelay.sock)
// ============================================================================

const defaultSocketPath = "/tmp/gazerelay.sock"

// Request and response shapes (duplicated from the relay for a standalone binary)
type request struct {
	Type string `json:"type"`
}

type response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var cmd string
	switch args[0] {
	case "status", "st":
		cmd = "status"
	case "clear-observers", "clear":
		cmd = "clear_observers"
	case "quit", "stop":
		cmd = "quit"
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Data) > 0 {
		var pretty any
		if err := json.Unmarshal(resp.Data, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Println(string(resp.Data))
		return
	}
	fmt.Println("ok")
}

func send(socketPath, cmd string) (response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(request{Type: cmd})
	if err != nil {
		return response{}, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return response{}, fmt.Errorf("send request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("relay error: %s", resp.Error)
	}
	return resp, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `gazectl - Control a running gazerelay via IPC

Usage:
  gazectl [options] <command>

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  status, st               Print session state, device, last sample and counters
  clear-observers, clear   Stop forwarding samples to all observers
  quit, stop               Shut the relay down
  help, -h, --help         Show this help message

Examples:
  gazectl status
  gazectl -socket /run/gazerelay.sock quit
`, defaultSocketPath)
}
