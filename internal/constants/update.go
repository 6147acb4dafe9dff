package constants

import "time"

// UpdateState is the state of the firmware update session.
type UpdateState string

const (
	UpdateStateIdle      UpdateState = "idle"
	UpdateStateCommanded UpdateState = "commanded"
	UpdateStateApplying  UpdateState = "applying"
	UpdateStateSucceeded UpdateState = "succeeded"
	UpdateStateFailed    UpdateState = "failed"
)

const (
	// DefaultUpdatePollInterval is the delay between two status polls of the image transfer.
	DefaultUpdatePollInterval = 1 * time.Second

	// DefaultUpdateWatchdogTimeout replaces the watchdog timeout while an image is transferred.
	DefaultUpdateWatchdogTimeout = 5 * time.Minute

	// DefaultFailureRestartDelay is the pause between the failure notice and the restart.
	DefaultFailureRestartDelay = 1 * time.Second

	// DefaultUpdateQueueSize bounds the number of inbound update commands awaiting the main loop.
	DefaultUpdateQueueSize = 4
)

// Admin notices sent by the update orchestrator.
const (
	UpdateFailedNotice = "Error updating ota. Will reboot now and continue old firmware..."
)
