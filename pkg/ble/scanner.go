package ble

import (
	"context"
	"time"
)

// Advertisement holds the fields reported for one discovered device.
// Optional fields are nil when the radio did not report them.
type Advertisement struct {
	Address       string
	AddressType   int
	PayloadLength int

	Name             *string
	Appearance       *uint16
	ManufacturerData []byte
	ServiceUUID      *string
	TxPower          *int
	RSSI             *int
}

// ScanParams configures the radio before the first scan.
type ScanParams struct {
	Active   bool          // active scanning requests scan responses
	Interval time.Duration // scan interval
	Window   time.Duration // scan window, less or equal to Interval
}

// DiscoveryHandler is called once per discovered device and must return quickly.
type DiscoveryHandler func(Advertisement)

// Scanner defines the radio driver used by the scan cycle.
type Scanner interface {
	Init(params ScanParams) error
	// Start scans for the given duration, calling onDiscover for each device,
	// and returns the number of devices found.
	Start(ctx context.Context, duration time.Duration, onDiscover DiscoveryHandler) (int, error)
	Stop() error
	ClearResults()
	// Deinit stops the radio and releases its buffers.
	Deinit() error
}
