package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
)

// Clock provides synchronized wall time.
type Clock interface {
	// Sync blocks until the wall clock is plausible.
	Sync(ctx context.Context) error
	// Now returns the current time as epoch seconds and microseconds.
	Now() (seconds, micros int64)
}

// NTPClock waits for the system clock to be set and measures its offset
// against an NTP server. The system time itself is disciplined by the OS.
type NTPClock struct {
	server       string
	minEpoch     int64
	pollInterval time.Duration
	logger       zerolog.Logger

	now   func() time.Time
	query func(host string) (*ntp.Response, error)
}

// NewNTPClock creates a clock checked against server.
func NewNTPClock(server string, minEpoch int64, logger zerolog.Logger) *NTPClock {
	return &NTPClock{
		server:       server,
		minEpoch:     minEpoch,
		pollInterval: 100 * time.Millisecond,
		logger:       logger,
		now:          time.Now,
		query:        ntp.Query,
	}
}

// Sync waits until the clock passes minEpoch, then logs the NTP offset. An
// unreachable NTP server is not an error.
func (c *NTPClock) Sync(ctx context.Context) error {
	c.logger.Info().Str("server", c.server).Msg("Wait for timesync")

	for c.now().Unix() < c.minEpoch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("time sync aborted: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}

	if c.server != "" {
		resp, err := c.query(c.server)
		if err == nil {
			err = resp.Validate()
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("server", c.server).Msg("NTP query failed, using system clock")
		} else {
			c.logger.Info().Dur("offset", resp.ClockOffset).Msg("Measured clock offset")
		}
	}

	seconds, micros := c.Now()
	c.logger.Info().Int64("seconds", seconds).Int64("micros", micros).Msg("Time synced")
	return nil
}

// Now returns the current time split into seconds and microseconds.
func (c *NTPClock) Now() (int64, int64) {
	t := c.now()
	return t.Unix(), int64(t.Nanosecond() / 1000)
}
