// Package node wires the services of a scanner node together and runs its
// boot sequence and main loop.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/internal/models"
	"github.com/benmeehan/ble-node/internal/registry"
	"github.com/benmeehan/ble-node/internal/service_registry"
	"github.com/benmeehan/ble-node/internal/services"
	"github.com/benmeehan/ble-node/internal/utils"
	"github.com/benmeehan/ble-node/pkg/ble"
	"github.com/benmeehan/ble-node/pkg/clock"
	"github.com/benmeehan/ble-node/pkg/identity"
	"github.com/benmeehan/ble-node/pkg/led"
	"github.com/benmeehan/ble-node/pkg/mqtt"
	"github.com/benmeehan/ble-node/pkg/ota"
	"github.com/benmeehan/ble-node/pkg/system"
	"github.com/benmeehan/ble-node/pkg/wifi"
)

var (
	// ErrNetworkUnavailable is returned when no known network could be joined.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrNotBooted is returned by Step before a successful Boot.
	ErrNotBooted = errors.New("node is not booted")
)

// IdentityResolver resolves the device identity.
type IdentityResolver interface {
	Resolve() (identity.DeviceIdentity, error)
}

// Dependencies are the hardware and transport primitives of the node.
type Dependencies struct {
	Identity   IdentityResolver
	Associator wifi.Associator
	Transport  mqtt.Transport
	Scanner    ble.Scanner
	Flasher    ota.Flasher
	Clock      clock.Clock
	Indicator  led.Indicator
	Restarter  system.Restarter
}

// Settings configure the services of the node.
type Settings struct {
	Networks           []wifi.Credential
	NetworkMaxAttempts int
	Broker             services.BrokerConfig
	Update             services.UpdateConfig
	Scan               ble.ScanParams
	ScanDuration       time.Duration
	WatchdogTimeout    time.Duration
	// StepRetry paces the main loop after a failed iteration.
	StepRetry utils.RetryPolicy
}

// Node is the orchestrator context. It owns every service and the identity.
type Node struct {
	Network  *services.NetworkService
	Broker   *services.BrokerService
	Scan     *services.ScanService
	Update   *services.UpdateService
	Watchdog *services.WatchdogService
	Registry *service_registry.ServiceRegistry

	deps     Dependencies
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
	started  time.Time

	identity identity.DeviceIdentity
	booted   bool
}

// New creates a node and its services.
func New(deps Dependencies, settings Settings, logger zerolog.Logger) *Node {
	if settings.WatchdogTimeout <= 0 {
		settings.WatchdogTimeout = constants.WatchdogScanFactor * settings.ScanDuration
	}
	if settings.StepRetry.Interval <= 0 {
		settings.StepRetry.Interval = constants.DefaultStepRetryInterval
	}
	settings.Broker.FirmwareVersion = settings.Update.FirmwareVersion

	n := &Node{
		deps:     deps,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		Registry: service_registry.NewServiceRegistry(logger.With().Str("component", "registry").Logger()),
	}
	n.started = n.now()

	n.Watchdog = services.NewWatchdogService(settings.WatchdogTimeout, deps.Restarter,
		logger.With().Str("component", "watchdog").Logger())
	n.Network = services.NewNetworkService(deps.Associator, deps.Indicator, settings.Networks,
		settings.NetworkMaxAttempts, logger.With().Str("component", "network").Logger())
	n.Broker = services.NewBrokerService(deps.Transport, n.Network, deps.Indicator, settings.Broker,
		logger.With().Str("component", "broker").Logger())
	n.Scan = services.NewScanService(deps.Scanner, deps.Clock, n.Broker, n.Watchdog,
		logger.With().Str("component", "scan").Logger())
	n.Update = services.NewUpdateService(n.Broker, n.Scan, n.Watchdog, deps.Flasher, deps.Restarter,
		settings.Update, logger.With().Str("component", "update").Logger())
	return n
}

// Identity returns the resolved device identity.
func (n *Node) Identity() identity.DeviceIdentity {
	return n.identity
}

type bootStage struct {
	name string
	run  func(ctx context.Context) error
}

// Boot runs the boot sequence: identity, network, broker, radio, time sync,
// announcement and background services.
func (n *Node) Boot(ctx context.Context) error {
	n.logger.Info().Str("version", n.settings.Update.FirmwareVersion).Msg("Booting")
	n.deps.Indicator.On()

	stages := []bootStage{
		{name: "identity", run: n.bootIdentity},
		{name: "network", run: n.bootNetwork},
		{name: "broker", run: n.bootBroker},
		{name: "radio", run: n.bootRadio},
		{name: "time", run: n.deps.Clock.Sync},
		{name: "announce", run: n.bootAnnounce},
		{name: "services", run: n.bootServices},
	}

	for _, stage := range stages {
		n.logger.Debug().Str("stage", stage.name).Msg("Running boot stage")
		if err := stage.run(ctx); err != nil {
			n.logger.Error().Err(err).Str("stage", stage.name).Msg("Boot failed")
			return fmt.Errorf("boot stage %s: %w", stage.name, err)
		}
	}

	n.booted = true
	n.logger.Info().Dur("elapsed", n.now().Sub(n.started)).Msg("Boot done")
	return nil
}

func (n *Node) bootIdentity(context.Context) error {
	id, err := n.deps.Identity.Resolve()
	if err != nil {
		return err
	}
	n.identity = id
	n.logger = n.logger.With().Str("device", id.FullName).Logger()
	return nil
}

func (n *Node) bootNetwork(ctx context.Context) error {
	if err := n.Network.Init(n.identity.FullName); err != nil {
		return err
	}
	if !n.Network.EnsureConnected(ctx) {
		n.deps.Indicator.Blink(constants.NetworkErrorBlinks)
		n.deps.Restarter.Restart("network unavailable")
		return ErrNetworkUnavailable
	}
	return nil
}

func (n *Node) bootBroker(ctx context.Context) error {
	if err := n.Broker.Initialize(n.identity); err != nil {
		return err
	}
	n.Broker.RegisterRoute(n.Broker.Topics().Update, n.Update.Intake)

	if !n.Broker.EnsureConnected(ctx) {
		// The main loop keeps reconnecting.
		n.logger.Warn().Msg("Broker not connected after boot")
		n.deps.Indicator.Blink(constants.BrokerErrorBlinks)
	}
	return ctx.Err()
}

func (n *Node) bootRadio(context.Context) error {
	return n.Scan.Init(n.settings.Scan)
}

func (n *Node) bootAnnounce(context.Context) error {
	seconds, _ := n.deps.Clock.Now()
	n.Broker.Publish(models.BootNotice(seconds, n.settings.Update.FirmwareVersion, n.now().Sub(n.started)), true)
	n.deps.Indicator.Off()
	return nil
}

func (n *Node) bootServices(context.Context) error {
	err := n.Registry.RegisterServices([]service_registry.Definition{
		{
			Name:        "watchdog",
			Enabled:     true,
			Constructor: func() (registry.Service, error) { return n.Watchdog, nil },
		},
	})
	if err != nil {
		return err
	}
	return n.Registry.StartServices()
}

// Step runs one iteration of the main loop. Without a network no work is
// done. While an update is active the broker session is serviced and the
// update advanced; otherwise one scan cycle runs.
func (n *Node) Step(ctx context.Context) error {
	if !n.booted {
		return ErrNotBooted
	}
	if !n.Network.EnsureConnected(ctx) {
		return ErrNetworkUnavailable
	}

	if n.Update.Active() {
		n.deps.Transport.Pump()
		n.Update.ProcessPending()
		return n.Update.Advance(ctx)
	}

	n.Broker.EnsureConnected(ctx)
	n.Update.ProcessPending()
	if n.Update.Active() {
		return nil
	}

	if _, err := n.Scan.RunScanCycle(ctx, n.settings.ScanDuration); err != nil {
		return err
	}
	n.Watchdog.Feed()
	return nil
}

// Run boots the node and loops until ctx ends. A failed iteration is followed
// by a pause of StepRetry.Interval.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Boot(ctx); err != nil {
		return err
	}
	defer n.shutdown()

	for ctx.Err() == nil {
		if err := n.Step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			n.logger.Warn().Err(err).Dur("retry_in", n.settings.StepRetry.Interval).Msg("Loop iteration failed")
			if !n.settings.StepRetry.Wait(ctx) {
				break
			}
		}
	}
	n.logger.Info().Msg("Stopping")
	return nil
}

func (n *Node) shutdown() {
	if err := n.Registry.StopServices(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to stop services")
	}
	if err := n.Scan.Shutdown(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to shut down radio")
	}
	n.deps.Transport.Disconnect(250)
}
