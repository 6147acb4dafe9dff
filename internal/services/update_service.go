package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/internal/models"
	"github.com/benmeehan/ble-node/internal/utils"
	"github.com/benmeehan/ble-node/pkg/ota"
	"github.com/benmeehan/ble-node/pkg/system"
)

// ErrInvalidTransition is returned for an update state change the FSM does not allow.
var ErrInvalidTransition = errors.New("invalid update state transition")

// Radio is the discovery radio that has to be released before an update.
type Radio interface {
	Shutdown() error
}

// TimeoutSetter changes the watchdog timeout.
type TimeoutSetter interface {
	SetTimeout(timeout time.Duration)
}

// UpdateConfig carries the update settings of the node.
type UpdateConfig struct {
	FirmwareVersion     string
	TrustAnchor         []byte
	PollInterval        time.Duration
	WatchdogTimeout     time.Duration
	FailureRestartDelay time.Duration
	QueueSize           int
}

type inboundCommand struct {
	topic   string
	payload []byte
}

// UpdateService struct with FSM. Commands arrive through Intake from the
// broker callback and are applied by the main loop in ProcessPending.
type UpdateService struct {
	Publisher Publisher
	Radio     Radio
	Watchdog  TimeoutSetter
	Flasher   ota.Flasher
	Restarter system.Restarter
	Config    UpdateConfig
	Logger    zerolog.Logger

	queue            chan inboundCommand
	validTransitions map[constants.UpdateState][]constants.UpdateState
	sleep            func(time.Duration)

	mu      sync.RWMutex
	state   constants.UpdateState
	command models.UpdateCommandPayload
}

// NewUpdateService creates and returns a new instance of UpdateService.
func NewUpdateService(publisher Publisher, radio Radio, watchdog TimeoutSetter, flasher ota.Flasher,
	restarter system.Restarter, config UpdateConfig, logger zerolog.Logger) *UpdateService {
	if config.QueueSize <= 0 {
		config.QueueSize = constants.DefaultUpdateQueueSize
	}

	return &UpdateService{
		Publisher: publisher,
		Radio:     radio,
		Watchdog:  watchdog,
		Flasher:   flasher,
		Restarter: restarter,
		Config:    config,
		Logger:    logger,
		queue:     make(chan inboundCommand, config.QueueSize),
		sleep:     time.Sleep,
		state:     constants.UpdateStateIdle,
		validTransitions: map[constants.UpdateState][]constants.UpdateState{
			constants.UpdateStateIdle:      {constants.UpdateStateCommanded},
			constants.UpdateStateCommanded: {constants.UpdateStateApplying, constants.UpdateStateFailed},
			constants.UpdateStateApplying:  {constants.UpdateStateSucceeded, constants.UpdateStateFailed},
			constants.UpdateStateSucceeded: {},
			constants.UpdateStateFailed:    {},
		},
	}
}

// SetSleep replaces the function used for the poll and restart delays.
func (u *UpdateService) SetSleep(sleep func(time.Duration)) {
	u.sleep = sleep
}

// Intake queues an inbound update command. It never blocks; when the queue
// is full the command is dropped.
func (u *UpdateService) Intake(topic string, payload []byte) {
	cmd := inboundCommand{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case u.queue <- cmd:
		u.Logger.Debug().Str("topic", topic).Msg("Update command queued")
	default:
		u.Logger.Warn().Str("topic", topic).Msg("Update command queue full, dropping command")
	}
}

// ProcessPending applies every queued command.
func (u *UpdateService) ProcessPending() {
	for {
		select {
		case cmd := <-u.queue:
			u.handleCommand(cmd)
		default:
			return
		}
	}
}

func (u *UpdateService) handleCommand(cmd inboundCommand) {
	if state := u.State(); state != constants.UpdateStateIdle {
		u.Logger.Info().Str("state", string(state)).Msg("Update already in progress, ignoring command")
		return
	}

	payload, err := models.ParseUpdateCommand(cmd.payload)
	if err != nil {
		u.Logger.Warn().Err(err).Str("topic", cmd.topic).Msg("Ignoring update command")
		return
	}

	cmp, err := utils.CompareVersions(payload.Version, u.Config.FirmwareVersion)
	if err != nil {
		u.Logger.Warn().Err(err).Msg("Ignoring update command")
		return
	}
	if cmp <= 0 {
		u.Logger.Info().
			Str("version", payload.Version).
			Str("running", u.Config.FirmwareVersion).
			Msg("Update version is not newer, ignoring command")
		return
	}

	if err := u.transition(constants.UpdateStateCommanded); err != nil {
		u.Logger.Error().Err(err).Msg("Failed to accept update command")
		return
	}
	u.mu.Lock()
	u.command = payload
	u.mu.Unlock()

	u.Logger.Info().Str("version", payload.Version).Str("url", payload.URL).Msg("Update commanded")
	u.Publisher.Publish(models.UpdatePendingNotice(payload), true)
}

// Advance moves a commanded update forward by one step: a commanded update
// starts the image transfer, an applying update is polled once.
func (u *UpdateService) Advance(ctx context.Context) error {
	switch u.State() {
	case constants.UpdateStateCommanded:
		return u.beginApply(ctx)
	case constants.UpdateStateApplying:
		return u.poll()
	default:
		return nil
	}
}

func (u *UpdateService) beginApply(ctx context.Context) error {
	cmd := u.Command()

	if err := u.Radio.Shutdown(); err != nil {
		u.Logger.Warn().Err(err).Msg("Failed to shut down radio before update")
	}
	u.Watchdog.SetTimeout(u.Config.WatchdogTimeout)

	if err := u.Flasher.Begin(ctx, cmd.URL, u.Config.TrustAnchor); err != nil {
		u.Logger.Error().Err(err).Str("url", cmd.URL).Msg("Failed to start update")
		if terr := u.transition(constants.UpdateStateFailed); terr != nil {
			return terr
		}
		u.fail()
		return err
	}
	return u.transition(constants.UpdateStateApplying)
}

func (u *UpdateService) poll() error {
	switch status := u.Flasher.Status(); status {
	case ota.StatusSuccess:
		if err := u.transition(constants.UpdateStateSucceeded); err != nil {
			return err
		}
		u.Logger.Info().Str("version", u.Command().Version).Msg("Update succeeded, restarting")
		u.Restarter.Restart("update succeeded")
		return nil
	case ota.StatusFail:
		if err := u.transition(constants.UpdateStateFailed); err != nil {
			return err
		}
		u.fail()
		return nil
	default:
		u.Logger.Debug().Str("status", status.String()).Msg("Update in progress")
		u.sleep(u.Config.PollInterval)
		return nil
	}
}

func (u *UpdateService) fail() {
	u.Logger.Error().Str("url", u.Command().URL).Msg("Update failed, restarting into current firmware")
	u.Publisher.Publish(constants.UpdateFailedNotice, true)
	u.sleep(u.Config.FailureRestartDelay)
	u.Restarter.Restart("update failed")
}

// State returns the current update state.
func (u *UpdateService) State() constants.UpdateState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// Command returns the accepted update command.
func (u *UpdateService) Command() models.UpdateCommandPayload {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.command
}

// Active reports whether an update has left the idle state.
func (u *UpdateService) Active() bool {
	return u.State() != constants.UpdateStateIdle
}

func (u *UpdateService) transition(newState constants.UpdateState) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.isValidTransition(u.state, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.state, newState)
	}
	u.Logger.Debug().Str("from", string(u.state)).Str("to", string(newState)).Msg("Update state transition")
	u.state = newState
	return nil
}

func (u *UpdateService) isValidTransition(current, next constants.UpdateState) bool {
	for _, s := range u.validTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}
