package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500*time.Millisecond, cfg.PollTimeout())
}

func TestParseConfig_OverlaysDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
device:
  driver: sim
  poll_timeout_ms: 250
  sim:
    rate_hz: 30
stream:
  port: 9000
console:
  enabled: true
  every: 10
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, driverSim, cfg.Device.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.PollTimeout())
	assert.Equal(t, 30, cfg.Device.Sim.RateHz)
	assert.Equal(t, defaultSimDropoutEvery, cfg.Device.Sim.DropoutEvery)
	assert.Equal(t, 9000, cfg.Stream.Port)
	assert.Equal(t, defaultStreamPath, cfg.Stream.Path)
	assert.True(t, cfg.Console.Enabled)
	assert.Equal(t, 10, cfg.Console.Every)
	assert.Equal(t, defaultIPCSocketPath, cfg.IPC.SocketPath)
}

func TestParseConfig_RejectsUnknownFields(t *testing.T) {
	_, err := parseConfig([]byte("device:\n  drvier: sim\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drvier")
}

func TestParseConfig_RejectsTrailingDocument(t *testing.T) {
	_, err := parseConfig([]byte("device:\n  driver: sim\n---\ndevice:\n  driver: evdev\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing document")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gazerelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfigFile("")
	assert.Error(t, err)
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()

	driver := driverSerial
	timeout := 50
	disabled := false
	port := 1234
	console := true
	socket := "/run/g.sock"
	level := "warn"
	file := "/var/log/g.log"

	FlagOverrides{
		Driver:         &driver,
		PollTimeoutMS:  &timeout,
		StreamEnabled:  &disabled,
		StreamPort:     &port,
		ConsoleEnabled: &console,
		IPCSocketPath:  &socket,
		LogLevel:       &level,
		LogFile:        &file,
	}.Apply(&cfg)

	assert.Equal(t, driverSerial, cfg.Device.Driver)
	assert.Equal(t, 50, cfg.Device.PollTimeoutMS)
	assert.False(t, cfg.Stream.Enabled)
	assert.Equal(t, 1234, cfg.Stream.Port)
	assert.True(t, cfg.Console.Enabled)
	assert.Equal(t, socket, cfg.IPC.SocketPath)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, file, cfg.Logging.File)

	// Nil pointers leave values alone.
	before := cfg
	FlagOverrides{}.Apply(&cfg)
	assert.Equal(t, before, cfg)
	FlagOverrides{}.Apply(nil)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Device.Driver = "usb" }, "device.driver"},
		{"bad evdev pattern", func(c *Config) { c.Device.Evdev.Pattern = "[" }, "device.evdev.pattern"},
		{"empty serial prefix", func(c *Config) {
			c.Device.Driver = driverSerial
			c.Device.Serial.PortPrefix = ""
		}, "port_prefix"},
		{"zero baud", func(c *Config) {
			c.Device.Driver = driverSerial
			c.Device.Serial.BaudRate = 0
		}, "baud_rate"},
		{"sim rate", func(c *Config) {
			c.Device.Driver = driverSim
			c.Device.Sim.RateHz = 0
		}, "rate_hz"},
		{"poll timeout zero", func(c *Config) { c.Device.PollTimeoutMS = 0 }, "poll_timeout_ms"},
		{"poll timeout too large", func(c *Config) { c.Device.PollTimeoutMS = 10001 }, "poll_timeout_ms"},
		{"stream port", func(c *Config) { c.Stream.Port = 70000 }, "stream.port"},
		{"stream path", func(c *Config) { c.Stream.Path = "gaze" }, "stream.path"},
		{"stream path reserved", func(c *Config) { c.Stream.Path = "/sample" }, "stream.path"},
		{"stream name", func(c *Config) { c.Stream.Name = "" }, "stream.name"},
		{"stream send_buf too small", func(c *Config) { c.Stream.SendBuf = 1 }, "stream.send_buf"},
		{"stream send_buf negative", func(c *Config) { c.Stream.SendBuf = -4 }, "stream.send_buf"},
		{"stream broadcast_buf negative", func(c *Config) { c.Stream.BroadcastBuf = -1 }, "stream.broadcast_buf"},
		{"console every", func(c *Config) {
			c.Console.Enabled = true
			c.Console.Every = 0
		}, "console.every"},
		{"ipc path", func(c *Config) { c.IPC.SocketPath = "" }, "ipc.socket_path"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log size", func(c *Config) {
			c.Logging.File = "/tmp/x.log"
			c.Logging.MaxSizeMB = 0
		}, "max_size_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	// A disabled stream skips its checks.
	cfg := DefaultConfig()
	cfg.Stream.Enabled = false
	cfg.Stream.Port = 0
	assert.NoError(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "gaze.yaml"), ExpandPath("~/gaze.yaml"))
}
