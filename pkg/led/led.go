package led

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/pkg/file"
)

// Indicator is the status light of the node.
type Indicator interface {
	On()
	Off()
	// Blink switches the light off and then flashes it times times.
	Blink(times int)
}

// SysfsLED drives a LED class device, e.g. /sys/class/leds/led0/brightness.
type SysfsLED struct {
	path       string
	blinkDelay time.Duration
	fileOps    file.FileOperations
	logger     zerolog.Logger
	sleep      func(time.Duration)

	mu sync.Mutex
	on bool
}

// NewSysfsLED creates an indicator writing to the brightness attribute at path.
func NewSysfsLED(path string, blinkDelay time.Duration, fileOps file.FileOperations, logger zerolog.Logger) *SysfsLED {
	return &SysfsLED{
		path:       path,
		blinkDelay: blinkDelay,
		fileOps:    fileOps,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// SetSleep replaces the delay function, used by tests.
func (l *SysfsLED) SetSleep(sleep func(time.Duration)) {
	l.sleep = sleep
}

// On switches the light on.
func (l *SysfsLED) On() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(true)
}

// Off switches the light off.
func (l *SysfsLED) Off() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(false)
}

// Blink blocks for 2 * times * blinkDelay.
func (l *SysfsLED) Blink(times int) {
	if times < 1 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.on {
		l.set(false)
	}
	for i := 0; i < times; i++ {
		l.sleep(l.blinkDelay)
		l.set(true)
		l.sleep(l.blinkDelay)
		l.set(false)
	}
}

func (l *SysfsLED) set(on bool) {
	value := "0"
	if on {
		value = "1"
	}
	if err := l.fileOps.WriteFile(l.path, value); err != nil {
		l.logger.Debug().Err(err).Str("path", l.path).Msg("Failed to write LED brightness")
	}
	l.on = on
}

// LogIndicator stands in for a missing LED. Blinks are logged and still take
// their time, so retry pacing is unchanged.
type LogIndicator struct {
	blinkDelay time.Duration
	logger     zerolog.Logger
	sleep      func(time.Duration)
}

// NewLogIndicator creates an indicator without hardware.
func NewLogIndicator(blinkDelay time.Duration, logger zerolog.Logger) *LogIndicator {
	return &LogIndicator{blinkDelay: blinkDelay, logger: logger, sleep: time.Sleep}
}

func (l *LogIndicator) On()  {}
func (l *LogIndicator) Off() {}

// Blink logs the pattern and waits as long as a real blink would.
func (l *LogIndicator) Blink(times int) {
	if times < 1 {
		return
	}
	l.logger.Debug().Int("times", times).Msg("Blink")
	l.sleep(2 * time.Duration(times) * l.blinkDelay)
}
