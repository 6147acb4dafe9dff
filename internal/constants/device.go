package constants

import "time"

// FirmwareVersion is the running firmware version. It is set at build time:
//
//	go build -ldflags "-X github.com/benmeehan/ble-node/internal/constants.FirmwareVersion=1.3.0"
var FirmwareVersion = "0.0.0"

const (
	// DefaultDeviceNamePrefix is prepended to the short id to build the full device name.
	DefaultDeviceNamePrefix = "ble_scanner_"

	// MaxDeviceIDLen is the maximum length of the short device id.
	MaxDeviceIDLen = 5

	// DefaultIdentityNamespace is the persistent store namespace holding the device id.
	DefaultIdentityNamespace = "kd_device_id"

	// IdentityKey is the key of the device id inside its namespace.
	IdentityKey = "id"
)

// Blink counts used to signal connectivity failures on the indicator.
const (
	NetworkErrorBlinks = 3
	BrokerErrorBlinks  = 4
)

const (
	// DefaultNetworkMaxAttempts bounds a single network association round.
	DefaultNetworkMaxAttempts = 11

	// DefaultStepRetryInterval is the pause after a failed main loop iteration.
	DefaultStepRetryInterval = time.Second

	// DefaultBlinkDelay is the on and off time of one blink.
	DefaultBlinkDelay = 500 * time.Millisecond

	// DefaultScanDuration is the length of one discovery window.
	DefaultScanDuration = 10 * time.Second

	// DefaultScanActive requests scan responses from advertisers.
	DefaultScanActive = true

	// DefaultScanInterval and DefaultScanWindow are passed to the radio driver.
	DefaultScanInterval = 100 * time.Millisecond
	DefaultScanWindow   = 100 * time.Millisecond

	// WatchdogScanFactor multiplies the scan duration to obtain the default watchdog timeout.
	WatchdogScanFactor = 10

	// DefaultNTPServer is queried during boot to measure the clock offset.
	DefaultNTPServer = "pool.ntp.org"

	// DefaultMinEpoch is the smallest wall clock value considered synchronized.
	DefaultMinEpoch = 10000
)
