package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/internal/node"
	"github.com/benmeehan/ble-node/internal/services"
	"github.com/benmeehan/ble-node/internal/utils"
	"github.com/benmeehan/ble-node/pkg/ble"
	"github.com/benmeehan/ble-node/pkg/clock"
	"github.com/benmeehan/ble-node/pkg/file"
	"github.com/benmeehan/ble-node/pkg/identity"
	"github.com/benmeehan/ble-node/pkg/led"
	"github.com/benmeehan/ble-node/pkg/mqtt"
	"github.com/benmeehan/ble-node/pkg/ota"
	"github.com/benmeehan/ble-node/pkg/s3"
	"github.com/benmeehan/ble-node/pkg/store"
	"github.com/benmeehan/ble-node/pkg/system"
	"github.com/benmeehan/ble-node/pkg/wifi"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "ble-node",
		Short:         "BLE scanner node publishing beacons over MQTT",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Configuration file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Boot the node and scan until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "set-id <id>",
			Short: "Store the device id in the persistent store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setID(cmd, configPath, args[0])
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the firmware version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Println(constants.FirmwareVersion)
			},
		},
	)
	return cmd
}

func newLogger(level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(lvl).With().
		Timestamp().
		Str("boot_id", uuid.New().String()).
		Logger()
}

func run(ctx context.Context, configPath string) error {
	fileOps := file.NewFileService()
	cfg, err := utils.LoadConfig(configPath, fileOps)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Console)

	var trustAnchor []byte
	if cfg.MQTT.CACertificate != "" {
		trustAnchor, err = fileOps.ReadFileRaw(cfg.MQTT.CACertificate)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %w", err)
		}
	}

	var objectStorage s3.ObjectStorageClient
	if cfg.Update.ObjectStorage.Endpoint != "" {
		client := s3.NewObjectStorage()
		os3 := cfg.Update.ObjectStorage
		if err := client.Connect(os3.Endpoint, os3.AccessKey, os3.SecretKey, os3.UseSSL); err != nil {
			return err
		}
		objectStorage = client
	}

	imagePath := cfg.Update.ImagePath
	if imagePath == "" {
		if imagePath, err = os.Executable(); err != nil {
			return fmt.Errorf("failed to locate running image: %w", err)
		}
	}

	var indicator led.Indicator = led.NewLogIndicator(cfg.Indicator.BlinkDelay, logger)
	if cfg.Indicator.LEDPath != "" {
		indicator = led.NewSysfsLED(cfg.Indicator.LEDPath, cfg.Indicator.BlinkDelay, fileOps, logger)
	}

	deps := node.Dependencies{
		Identity: identity.NewResolver(
			store.NewFileStore(cfg.Device.StoreFile, fileOps),
			identity.NewInterfaceAddressSource(cfg.Device.Interface),
			cfg.Device.StoreNamespace,
			constants.IdentityKey,
			cfg.Device.NamePrefix,
			constants.MaxDeviceIDLen,
			logger,
		),
		Associator: wifi.NewNmcliAssociator(cfg.Network.Interface, cfg.Network.AttemptTimeout, logger),
		Transport:  mqtt.NewMqttService(cfg.MQTT.Broker, cfg.MQTT.ConnectTimeout, cfg.MQTT.PublishTimeout, logger),
		Scanner:    ble.NewBluetoothScanner(logger),
		Flasher:    ota.NewImageFlasher(imagePath, ota.NewSchemeDownloader(objectStorage), fileOps, logger),
		Clock:      clock.NewNTPClock(cfg.Time.NTPServer, cfg.Time.MinEpoch, logger),
		Indicator:  indicator,
		Restarter:  system.NewProcessRestarter(1, logger),
	}

	settings := node.Settings{
		Networks:           cfg.Network.Networks,
		NetworkMaxAttempts: cfg.Network.MaxAttempts,
		Broker: services.BrokerConfig{
			TrustAnchor:    trustAnchor,
			MaxMessageSize: cfg.MQTT.MaxMessageSize,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			SensorPrefix:   cfg.MQTT.Topics.SensorPrefix,
			AdminPrefix:    cfg.MQTT.Topics.AdminPrefix,
			UpdatePrefix:   cfg.MQTT.Topics.UpdatePrefix,
			Retry: utils.RetryPolicy{
				Interval:    cfg.MQTT.RetryInterval,
				MaxAttempts: cfg.MQTT.MaxConnectAttempts,
			},
		},
		Update: services.UpdateConfig{
			FirmwareVersion:     constants.FirmwareVersion,
			TrustAnchor:         trustAnchor,
			PollInterval:        cfg.Update.PollInterval,
			WatchdogTimeout:     cfg.Update.WatchdogTimeout,
			FailureRestartDelay: cfg.Update.FailureRestartDelay,
			QueueSize:           cfg.Update.QueueSize,
		},
		Scan: ble.ScanParams{
			Active:   cfg.ActiveScan(),
			Interval: cfg.Scan.Interval,
			Window:   cfg.Scan.Window,
		},
		ScanDuration:    cfg.Scan.Duration,
		WatchdogTimeout: cfg.Watchdog.Timeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = node.New(deps, settings, logger).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setID(cmd *cobra.Command, configPath, id string) error {
	if id == "" || len(id) > constants.MaxDeviceIDLen {
		return fmt.Errorf("device id must have 1 to %d characters", constants.MaxDeviceIDLen)
	}

	fileOps := file.NewFileService()
	var cfg utils.Config
	if exists, _ := fileOps.IsFileExists(configPath); exists {
		if err := fileOps.ReadYamlFile(configPath, &cfg); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	cfg.ApplyDefaults()

	s := store.NewFileStore(cfg.Device.StoreFile, fileOps)
	ns := cfg.Device.StoreNamespace
	if err := s.Clear(ns); err != nil {
		return err
	}
	if err := s.PutString(ns, constants.IdentityKey, id); err != nil {
		return err
	}

	stored, ok, err := s.GetString(ns, constants.IdentityKey)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("device id was not stored")
	}
	cmd.Printf("Device id set to %q (%s%s)\n", stored, cfg.Device.NamePrefix, stored)
	return nil
}
