package services

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/pkg/system"
)

// WatchdogService restarts the process when it is not fed within its timeout.
type WatchdogService struct {
	Restarter system.Restarter
	Logger    zerolog.Logger

	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
}

// NewWatchdogService initializes a new WatchdogService.
func NewWatchdogService(timeout time.Duration, restarter system.Restarter, logger zerolog.Logger) *WatchdogService {
	return &WatchdogService{
		Restarter: restarter,
		Logger:    logger,
		timeout:   timeout,
	}
}

// Start arms the watchdog.
func (w *WatchdogService) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.Logger.Warn().Msg("WatchdogService is already running")
		return errors.New("watchdog service is already running")
	}
	w.timer = time.AfterFunc(w.timeout, w.expire)

	w.Logger.Info().Dur("timeout", w.timeout).Msg("WatchdogService started successfully")
	return nil
}

// Stop disarms the watchdog.
func (w *WatchdogService) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer == nil {
		w.Logger.Warn().Msg("WatchdogService is not running")
		return errors.New("watchdog service is not running")
	}
	w.timer.Stop()
	w.timer = nil

	w.Logger.Info().Msg("WatchdogService stopped successfully")
	return nil
}

// Feed restarts the countdown. It is a no-op while the watchdog is stopped.
func (w *WatchdogService) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

// SetTimeout replaces the timeout and restarts the countdown.
func (w *WatchdogService) SetTimeout(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = timeout
	if w.timer != nil {
		w.timer.Reset(timeout)
	}
	w.Logger.Info().Dur("timeout", timeout).Msg("Watchdog timeout changed")
}

// Timeout returns the current timeout.
func (w *WatchdogService) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

func (w *WatchdogService) expire() {
	w.mu.Lock()
	timeout := w.timeout
	running := w.timer != nil
	w.mu.Unlock()
	if !running {
		return
	}

	w.Logger.Error().Dur("timeout", timeout).Msg("Watchdog expired")
	w.Restarter.Restart("watchdog expired")
}
