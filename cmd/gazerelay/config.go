package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the gazerelay daemon.
//
// Defaults and validation are centralized here so the rest of the code can
// assume a well-formed config. Flags only override individual values.
type Config struct {
	// Tracker hardware
	Device DeviceConfig `yaml:"device"`

	// Websocket sample stream
	Stream StreamConfig `yaml:"stream"`

	// Console sample logger
	Console ConsoleConfig `yaml:"console"`

	// IPC control socket
	IPC IPCConfig `yaml:"ipc"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type DeviceConfig struct {
	Driver        string `yaml:"driver"` // evdev | serial | sim
	PollTimeoutMS int    `yaml:"poll_timeout_ms"`

	Evdev  EvdevConfig  `yaml:"evdev"`
	Serial SerialConfig `yaml:"serial"`
	Sim    SimConfig    `yaml:"sim"`
}

type EvdevConfig struct {
	// Pattern is a filepath.Glob pattern; matches are tried in lexical order.
	Pattern string `yaml:"pattern"`
}

type SerialConfig struct {
	PortPrefix string `yaml:"port_prefix"`
	BaudRate   int    `yaml:"baud_rate"`
}

type SimConfig struct {
	RateHz       int `yaml:"rate_hz"`
	DropoutEvery int `yaml:"dropout_every"` // 0 disables dropouts
}

type StreamConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Port         int    `yaml:"port"`
	Path         string `yaml:"path"`
	Name         string `yaml:"name"`
	ContentType  string `yaml:"content_type"`
	SendBuf      int    `yaml:"send_buf,omitempty"`
	BroadcastBuf int    `yaml:"broadcast_buf,omitempty"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
	Every   int  `yaml:"every"` // log every Nth sample
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			Driver:        driverEvdev,
			PollTimeoutMS: defaultPollTimeoutMS,
			Evdev: EvdevConfig{
				Pattern: defaultEvdevPattern,
			},
			Serial: SerialConfig{
				PortPrefix: defaultSerialPortPrefix,
				BaudRate:   defaultSerialBaudRate,
			},
			Sim: SimConfig{
				RateHz:       defaultSimRateHz,
				DropoutEvery: defaultSimDropoutEvery,
			},
		},
		Stream: StreamConfig{
			Enabled:      true,
			Port:         defaultStreamPort,
			Path:         defaultStreamPath,
			Name:         defaultStreamName,
			ContentType:  defaultStreamContentType,
			SendBuf:      defaultStreamSendBuf,
			BroadcastBuf: defaultStreamBroadcastBuf,
		},
		Console: ConsoleConfig{
			Enabled: false,
			Every:   1,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from command-line flags. A nil pointer means the
// flag was not set; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	Driver        *string
	PollTimeoutMS *int

	StreamEnabled *bool
	StreamPort    *int

	ConsoleEnabled *bool

	IPCSocketPath *string

	LogLevel *string
	LogFile  *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Driver != nil {
		cfg.Device.Driver = *o.Driver
	}
	if o.PollTimeoutMS != nil {
		cfg.Device.PollTimeoutMS = *o.PollTimeoutMS
	}
	if o.StreamEnabled != nil {
		cfg.Stream.Enabled = *o.StreamEnabled
	}
	if o.StreamPort != nil {
		cfg.Stream.Port = *o.StreamPort
	}
	if o.ConsoleEnabled != nil {
		cfg.Console.Enabled = *o.ConsoleEnabled
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Device
	switch c.Device.Driver {
	case driverEvdev:
		if c.Device.Evdev.Pattern == "" {
			return errors.New("device.evdev.pattern must not be empty")
		}
		if _, err := filepath.Match(c.Device.Evdev.Pattern, ""); err != nil {
			return fmt.Errorf("device.evdev.pattern is invalid: %w", err)
		}
	case driverSerial:
		if c.Device.Serial.PortPrefix == "" {
			return errors.New("device.serial.port_prefix must not be empty")
		}
		if c.Device.Serial.BaudRate <= 0 {
			return errors.New("device.serial.baud_rate must be > 0")
		}
	case driverSim:
		if c.Device.Sim.RateHz <= 0 || c.Device.Sim.RateHz > 1000 {
			return errors.New("device.sim.rate_hz must be between 1 and 1000")
		}
		if c.Device.Sim.DropoutEvery < 0 {
			return errors.New("device.sim.dropout_every must be >= 0")
		}
	default:
		return fmt.Errorf("device.driver must be one of %q, %q, %q", driverEvdev, driverSerial, driverSim)
	}
	if c.Device.PollTimeoutMS <= 0 || c.Device.PollTimeoutMS > 10000 {
		return errors.New("device.poll_timeout_ms must be between 1 and 10000")
	}

	// Stream
	if c.Stream.Enabled {
		if c.Stream.Port <= 0 || c.Stream.Port > 65535 {
			return errors.New("stream.port must be between 1 and 65535")
		}
		if c.Stream.Path == "" || c.Stream.Path[0] != '/' {
			return errors.New("stream.path must start with '/'")
		}
		if c.Stream.Path == "/sample" {
			return errors.New("stream.path must not be /sample (reserved for the snapshot endpoint)")
		}
		if c.Stream.Name == "" {
			return errors.New("stream.name must not be empty")
		}
		// 0 selects the default.
		if c.Stream.SendBuf < 0 || c.Stream.SendBuf == 1 {
			return fmt.Errorf("stream.send_buf must be 0 or >= %d", minSendBuf)
		}
		if c.Stream.BroadcastBuf < 0 {
			return errors.New("stream.broadcast_buf must be >= 0")
		}
	}

	// Console
	if c.Console.Enabled && c.Console.Every <= 0 {
		return errors.New("console.every must be > 0")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		return errors.New("logging.max_size_mb must be > 0 when logging.file is set")
	}

	return nil
}

// PollTimeout returns device.poll_timeout_ms as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Device.PollTimeoutMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
