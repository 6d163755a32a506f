package main

import "time"

// Poll worker
const (
	defaultPollTimeoutMS = 500
	defaultPollTimeout   = defaultPollTimeoutMS * time.Millisecond
)

// Driver names
const (
	driverEvdev  = "evdev"
	driverSerial = "serial"
	driverSim    = "sim"
)

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_ABS = 0x03

	SYN_REPORT  = 0
	SYN_DROPPED = 3

	ABS_X = 0x00
	ABS_Y = 0x01

	BTN_TOUCH = 0x14a
)

// Evdev driver defaults
const (
	defaultEvdevPattern = "/dev/input/by-id/*-event-*"
)

// Serial driver defaults
const (
	defaultSerialPortPrefix = "/dev/ttyACM"
	defaultSerialBaudRate   = 115200
	serialMaxLineBytes      = 256
)

// Simulated tracker defaults
const (
	defaultSimRateHz       = 60
	defaultSimDropoutEvery = 90 // one invalid report every N, 0 disables
)

// Stream server defaults
const (
	defaultStreamPort         = 8090
	defaultStreamPath         = "/gaze"
	defaultStreamName         = "Tracker"
	defaultStreamContentType  = "Gaze"
	streamChannelCount        = 2
	defaultStreamSendBuf      = 64
	defaultStreamBroadcastBuf = 256
)

// IPC defaults
const (
	defaultIPCSocketPath = "/tmp/gazerelay.sock"
)

// Logging defaults (only used when logging.file is set)
const (
	defaultLogMaxSizeMB  = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAgeDays = 28
)
