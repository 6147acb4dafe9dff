package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

// defaultAdapterID is the adapter bluetooth.DefaultAdapter drives on Linux.
const defaultAdapterID = "hci0"

// BluetoothScanner implements Scanner on top of the host Bluetooth adapter.
type BluetoothScanner struct {
	adapter    *bluetooth.Adapter
	properties PropertySource
	logger     zerolog.Logger

	mu      sync.Mutex
	enabled bool
	results map[string]struct{}
}

// NewBluetoothScanner creates a scanner on the default adapter.
func NewBluetoothScanner(logger zerolog.Logger) *BluetoothScanner {
	return &BluetoothScanner{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		results: make(map[string]struct{}),
	}
}

// Init enables the adapter and opens the device property source. The host
// stack chooses interval and window itself, so the parameters are only logged.
func (b *BluetoothScanner) Init(params ScanParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		if err := b.adapter.Enable(); err != nil {
			return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
		}
		b.enabled = true
	}
	if b.properties == nil {
		properties, err := NewBluezProperties(defaultAdapterID)
		if err != nil {
			b.logger.Warn().Err(err).Msg("Device properties unavailable, reporting scan result fields only")
		} else {
			b.properties = properties
		}
	}

	b.logger.Info().
		Bool("active", params.Active).
		Dur("interval", params.Interval).
		Dur("window", params.Window).
		Msg("Bluetooth scanner initialized")
	return nil
}

// Start scans until the duration elapses or ctx is cancelled. Each device is
// reported once per scan.
func (b *BluetoothScanner) Start(ctx context.Context, duration time.Duration, onDiscover DiscoveryHandler) (int, error) {
	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return 0, errors.New("bluetooth scanner is not initialized")
	}
	b.mu.Unlock()

	timer := time.AfterFunc(duration, func() { _ = b.adapter.StopScan() })
	defer timer.Stop()
	stopOnCancel := context.AfterFunc(ctx, func() { _ = b.adapter.StopScan() })
	defer stopOnCancel()

	err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		address := result.Address.String()

		b.mu.Lock()
		_, seen := b.results[address]
		b.results[address] = struct{}{}
		b.mu.Unlock()

		if !seen {
			onDiscover(toAdvertisement(result))
		}
	})

	b.mu.Lock()
	count := len(b.results)
	b.mu.Unlock()

	if err != nil {
		return count, fmt.Errorf("scan failed: %w", err)
	}
	return count, nil
}

// advertisement prefers the BlueZ device properties, which carry appearance,
// transmit power and the advertised services.
func (b *BluetoothScanner) advertisement(result bluetooth.ScanResult) Advertisement {
	if b.properties == nil {
		return toAdvertisement(result)
	}
	props, err := b.properties.DeviceProperties(result.Address.String())
	if err != nil {
		b.logger.Debug().Err(err).Msg("Falling back to scan result fields")
		return toAdvertisement(result)
	}
	adv := AdvertisementFromProperties(props)
	if adv.Address == "" {
		adv.Address = result.Address.String()
	}
	if adv.RSSI == nil {
		rssi := int(result.RSSI)
		adv.RSSI = &rssi
	}
	return adv
}

// Stop ends a running scan. Stopping an idle adapter is not an error.
func (b *BluetoothScanner) Stop() error {
	if err := b.adapter.StopScan(); err != nil {
		b.logger.Debug().Err(err).Msg("Stop scan on idle adapter")
	}
	return nil
}

// ClearResults forgets the devices seen during the last scan.
func (b *BluetoothScanner) ClearResults() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = make(map[string]struct{})
}

// Deinit stops scanning and drops all buffered results. The adapter itself
// stays powered since the host stack is shared.
func (b *BluetoothScanner) Deinit() error {
	_ = b.Stop()
	b.ClearResults()

	b.mu.Lock()
	b.enabled = false
	b.mu.Unlock()

	b.logger.Info().Msg("Bluetooth scanner released")
	return nil
}
