package system

import (
	"os"

	"github.com/rs/zerolog"
)

// Restarter performs a hard restart of the node.
type Restarter interface {
	Restart(reason string)
}

// ProcessRestarter exits the process and relies on the service supervisor
// (systemd Restart=always) to start it again, picking up a replaced image.
type ProcessRestarter struct {
	logger   zerolog.Logger
	exitCode int
	exit     func(int)
}

// NewProcessRestarter creates a restarter exiting with exitCode.
func NewProcessRestarter(exitCode int, logger zerolog.Logger) *ProcessRestarter {
	return &ProcessRestarter{logger: logger, exitCode: exitCode, exit: os.Exit}
}

// Restart does not return.
func (r *ProcessRestarter) Restart(reason string) {
	r.logger.Warn().Str("reason", reason).Int("exit_code", r.exitCode).Msg("Restarting")
	r.exit(r.exitCode)
}
