package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("gazerelay v%s\n", version)
	fmt.Println("Live gaze tracker relay")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  gazerelay [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Discovers the first attached gaze tracker, subscribes to its readings and")
	fmt.Println("  keeps the latest position available while forwarding every valid sample")
	fmt.Println("  to the websocket stream and the optional console logger.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -driver string")
	fmt.Printf("        Tracker driver: %s|%s|%s (default %q)\n", driverEvdev, driverSerial, driverSim, driverEvdev)
	fmt.Println()
	fmt.Println("  -poll-timeout-ms int")
	fmt.Printf("        Upper bound for one device wait in ms (default %d)\n", defaultPollTimeoutMS)
	fmt.Println()
	fmt.Println("  -stream-port int")
	fmt.Printf("        Websocket stream HTTP port (default %d)\n", defaultStreamPort)
	fmt.Println()
	fmt.Println("  -no-stream")
	fmt.Println("        Disable the websocket stream")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -console")
	fmt.Println("        Log received samples to the console")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        Also write logs to this file (rotated)")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Relay the first evdev tracker")
	fmt.Println("  gazerelay")
	fmt.Println()
	fmt.Println("  # Run against the simulated tracker and log every sample")
	fmt.Println("  gazerelay -driver sim -console")
	fmt.Println()
	fmt.Println("  # Watch the stream from another terminal")
	fmt.Printf("  gaze-listen -url ws://127.0.0.1:%d%s\n", defaultStreamPort, defaultStreamPath)
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - evdev needs read access to /dev/input (root or the 'input' group)")
	fmt.Println("  - serial needs access to the port (usually the 'dialout' group)")
	fmt.Println("  - Quit with Ctrl-C, 'gazectl quit', or q + enter on a terminal")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		driver        = flag.String("driver", driverEvdev, "Tracker driver: evdev|serial|sim")
		pollTimeoutMS = flag.Int("poll-timeout-ms", defaultPollTimeoutMS, "Upper bound for one device wait (milliseconds)")
		streamPort    = flag.Int("stream-port", defaultStreamPort, "Websocket stream HTTP port")
		noStream      = flag.Bool("no-stream", false, "Disable the websocket stream")
		ipcSocketPath = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		console       = flag.Bool("console", false, "Log received samples to the console")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		logFile       = flag.String("log-file", "", "Also write logs to this file (rotated)")
		showVersion   = flag.Bool("version", false, "Print version and exit")
		showHelp      = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only explicitly set flags override the file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "driver":
			ov.Driver = driver
		case "poll-timeout-ms":
			ov.PollTimeoutMS = pollTimeoutMS
		case "stream-port":
			ov.StreamPort = streamPort
		case "no-stream":
			enabled := !*noStream
			ov.StreamEnabled = &enabled
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocketPath
		case "console":
			ov.ConsoleEnabled = console
		case "log-level":
			ov.LogLevel = logLevelStr
		case "log-file":
			ov.LogFile = logFile
		}
	})
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level) // validated above
	logger, logCloser := setupLogger(logLevel, cfg.Logging)

	logger.Debug("starting gazerelay", "version", version)
	logger.Debug("configuration",
		"config_file", *configPath,
		"driver", cfg.Device.Driver,
		"poll_timeout_ms", cfg.Device.PollTimeoutMS,
		"stream_enabled", cfg.Stream.Enabled,
		"stream_port", cfg.Stream.Port,
		"stream_path", cfg.Stream.Path,
		"console_enabled", cfg.Console.Enabled,
		"ipc_socket", cfg.IPC.SocketPath,
		"log_file", cfg.Logging.File)

	drv, err := newDriver(cfg.Device, logger)
	if err != nil {
		logger.Error("failed to create tracker driver", "driver", cfg.Device.Driver, "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}

	session := NewSession(drv, logger, SessionConfig{PollTimeout: cfg.PollTimeout()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = newRelay(cfg, session, logger).run(ctx)
	stop()

	if err != nil {
		logger.Error("gazerelay stopped", "error", err, "state", session.State().String())
		_ = logCloser.Close()
		os.Exit(1)
	}
	logger.Info("bye")
	_ = logCloser.Close()
}
