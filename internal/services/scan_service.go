package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/internal/models"
	"github.com/benmeehan/ble-node/pkg/ble"
	"github.com/benmeehan/ble-node/pkg/clock"
)

// Feeder is reset on forward progress.
type Feeder interface {
	Feed()
}

// ScanService runs discovery windows and publishes every beacon seen.
type ScanService struct {
	Scanner   ble.Scanner
	Clock     clock.Clock
	Publisher Publisher
	Watchdog  Feeder
	Logger    zerolog.Logger

	initialized bool
}

// NewScanService creates a ScanService.
func NewScanService(scanner ble.Scanner, clk clock.Clock, publisher Publisher, watchdog Feeder,
	logger zerolog.Logger) *ScanService {
	return &ScanService{
		Scanner:   scanner,
		Clock:     clk,
		Publisher: publisher,
		Watchdog:  watchdog,
		Logger:    logger,
	}
}

// Init powers up the radio with the given scan parameters.
func (s *ScanService) Init(params ble.ScanParams) error {
	if err := s.Scanner.Init(params); err != nil {
		return err
	}
	s.initialized = true
	s.Logger.Info().
		Bool("active", params.Active).
		Dur("interval", params.Interval).
		Dur("window", params.Window).
		Msg("Radio initialized")
	return nil
}

// RunScanCycle scans for duration, publishing one record per discovered
// device, then stops the scan and clears the results.
func (s *ScanService) RunScanCycle(ctx context.Context, duration time.Duration) (int, error) {
	s.Logger.Debug().Dur("duration", duration).Msg("Starting scan")

	count, err := s.Scanner.Start(ctx, duration, s.onDiscover)
	if stopErr := s.Scanner.Stop(); stopErr != nil {
		s.Logger.Warn().Err(stopErr).Msg("Failed to stop scan")
	}
	s.Scanner.ClearResults()

	if err != nil {
		s.Logger.Error().Err(err).Msg("Scan failed")
		return count, err
	}
	s.Logger.Info().Int("devices", count).Msg("Scan done")
	return count, nil
}

func (s *ScanService) onDiscover(adv ble.Advertisement) {
	seconds, micros := s.Clock.Now()
	record := models.NewBeaconRecord(adv, seconds, micros)
	s.Publisher.Publish(record.Serialize(), false)
	s.Watchdog.Feed()
}

// Shutdown stops the radio and frees its buffers.
func (s *ScanService) Shutdown() error {
	if !s.initialized {
		return nil
	}
	if err := s.Scanner.Deinit(); err != nil {
		return err
	}
	s.initialized = false
	s.Logger.Info().Msg("Radio shut down")
	return nil
}
