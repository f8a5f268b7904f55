package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01
	EV_REL = 0x02

	KEY_ENTER = 28

	// Rotary encoder relative axis codes
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Device link defaults
const (
	defaultDeviceHost         = "localhost"
	defaultDevicePort         = 8000
	defaultRetryIntervalMS    = 1000
	defaultHandshakeTimeoutMS = 2000
	defaultWriteTimeoutMS     = 1000
	defaultSendQueue          = 16

	// Each scheduled kind is sent every defaultSendIntervalMS, round-robin.
	defaultSendIntervalMS = 50
)

// Store and UI defaults
const (
	defaultUpdateHz        = 30 // Tick cadence; bounds the UI state frame rate
	defaultStaleAfterMS    = 3000
	defaultPVLoopMaxPoints = 2000

	defaultSnapshotTimeout = 1000 // ms to wait for a snapshot from the daemon loop
)

// Rotary encoder configuration defaults
const (
	defaultRotaryVelocityWindowMS   = 200 // Time window for velocity detection (ms)
	defaultRotaryVelocityMultiplier = 2.0 // Multiplier for "fast spinning"
	defaultRotaryVelocityThreshold  = 3   // Steps in window to trigger velocity mode
)
