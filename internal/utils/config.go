package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/pkg/file"
	"github.com/benmeehan/ble-node/pkg/wifi"
)

// Config represents the structure of the configuration file.
type Config struct {
	Device struct {
		NamePrefix     string `yaml:"name_prefix"`     // Prefix of the full device name
		StoreFile      string `yaml:"store_file"`      // Path to the persistent key-value store
		StoreNamespace string `yaml:"store_namespace"` // Namespace holding the device id
		Interface      string `yaml:"interface"`       // Interface whose hardware address backs the fallback id
	} `yaml:"device"`

	Network struct {
		Interface      string            `yaml:"interface"`       // Wireless interface managed by NetworkManager
		MaxAttempts    int               `yaml:"max_attempts"`    // Association attempts before escalating
		AttemptTimeout time.Duration     `yaml:"attempt_timeout"` // Timeout of a single association attempt
		Networks       []wifi.Credential `yaml:"networks"`        // Known networks in priority order
	} `yaml:"network"`

	MQTT struct {
		Broker             string        `yaml:"broker"`                                // MQTT broker address, e.g. tls://host:8883
		Username           string        `yaml:"username" env:"BLE_NODE_MQTT_USERNAME"` // Broker username
		Password           string        `yaml:"password" env:"BLE_NODE_MQTT_PASSWORD"` // Broker password
		CACertificate      string        `yaml:"ca_certificate"`                        // Path to the CA certificate (trust anchor)
		MaxMessageSize     int           `yaml:"max_message_size"`                      // Upper bound of topic plus payload in bytes
		ConnectTimeout     time.Duration `yaml:"connect_timeout"`                       // Timeout of one handshake
		PublishTimeout     time.Duration `yaml:"publish_timeout"`                       // Timeout of one publish
		RetryInterval      time.Duration `yaml:"retry_interval"`                        // Pause between handshake attempts
		MaxConnectAttempts int           `yaml:"max_connect_attempts"`                  // 0 retries forever

		Topics struct {
			SensorPrefix string `yaml:"sensor_prefix"`
			AdminPrefix  string `yaml:"admin_prefix"`
			UpdatePrefix string `yaml:"update_prefix"`
		} `yaml:"topics"`
	} `yaml:"mqtt"`

	Scan struct {
		Duration time.Duration `yaml:"duration"` // Length of one discovery window
		Active   *bool         `yaml:"active"`   // Active scanning requests scan responses, on unless set to false
		Interval time.Duration `yaml:"interval"` // Radio scan interval
		Window   time.Duration `yaml:"window"`   // Radio scan window
	} `yaml:"scan"`

	Update struct {
		ImagePath           string        `yaml:"image_path"`            // Executable replaced by an update, defaults to the running binary
		PollInterval        time.Duration `yaml:"poll_interval"`         // Delay between transfer status polls
		WatchdogTimeout     time.Duration `yaml:"watchdog_timeout"`      // Watchdog timeout while applying an image
		FailureRestartDelay time.Duration `yaml:"failure_restart_delay"` // Pause before restarting after a failed update
		QueueSize           int           `yaml:"queue_size"`            // Pending inbound update commands

		ObjectStorage struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key" env:"BLE_NODE_S3_ACCESS_KEY"`
			SecretKey string `yaml:"secret_key" env:"BLE_NODE_S3_SECRET_KEY"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"object_storage"`
	} `yaml:"update"`

	Watchdog struct {
		Timeout time.Duration `yaml:"timeout"` // Defaults to ten scan windows
	} `yaml:"watchdog"`

	Indicator struct {
		LEDPath    string        `yaml:"led_path"`    // Brightness attribute of the status LED, empty logs blinks instead
		BlinkDelay time.Duration `yaml:"blink_delay"` // On and off time of one blink
	} `yaml:"indicator"`

	Time struct {
		NTPServer string `yaml:"ntp_server"`
		MinEpoch  int64  `yaml:"min_epoch"` // Smallest epoch considered a set clock
	} `yaml:"time"`

	Logging struct {
		Level   string `yaml:"level" env:"BLE_NODE_LOG_LEVEL"`
		Console bool   `yaml:"console"` // Human readable output instead of JSON
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// environment overrides for secrets and fills in defaults.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(&config); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ActiveScan reports whether the radio scans actively.
func (c *Config) ActiveScan() bool {
	return c.Scan.Active == nil || *c.Scan.Active
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Device.NamePrefix, constants.DefaultDeviceNamePrefix)
	setDefault(&c.Device.StoreFile, "/var/lib/ble-node/store.json")
	setDefault(&c.Device.StoreNamespace, constants.DefaultIdentityNamespace)
	setDefault(&c.Network.Interface, "wlan0")
	setDefault(&c.Device.Interface, c.Network.Interface)
	setDefault(&c.Network.MaxAttempts, constants.DefaultNetworkMaxAttempts)
	setDefault(&c.Network.AttemptTimeout, 30*time.Second)

	setDefault(&c.MQTT.MaxMessageSize, constants.DefaultMaxMessageSize)
	setDefault(&c.MQTT.ConnectTimeout, constants.DefaultConnectTimeout)
	setDefault(&c.MQTT.PublishTimeout, constants.DefaultPublishTimeout)
	setDefault(&c.MQTT.RetryInterval, time.Second)
	setDefault(&c.MQTT.Topics.SensorPrefix, constants.DefaultSensorTopicPrefix)
	setDefault(&c.MQTT.Topics.AdminPrefix, constants.DefaultAdminTopicPrefix)
	setDefault(&c.MQTT.Topics.UpdatePrefix, constants.DefaultUpdateTopicPrefix)

	setDefault(&c.Scan.Duration, constants.DefaultScanDuration)
	if c.Scan.Active == nil {
		active := constants.DefaultScanActive
		c.Scan.Active = &active
	}
	setDefault(&c.Scan.Interval, constants.DefaultScanInterval)
	setDefault(&c.Scan.Window, constants.DefaultScanWindow)

	setDefault(&c.Update.PollInterval, constants.DefaultUpdatePollInterval)
	setDefault(&c.Update.WatchdogTimeout, constants.DefaultUpdateWatchdogTimeout)
	setDefault(&c.Update.FailureRestartDelay, constants.DefaultFailureRestartDelay)
	setDefault(&c.Update.QueueSize, constants.DefaultUpdateQueueSize)

	setDefault(&c.Watchdog.Timeout, constants.WatchdogScanFactor*c.Scan.Duration)
	setDefault(&c.Indicator.BlinkDelay, constants.DefaultBlinkDelay)
	setDefault(&c.Time.NTPServer, constants.DefaultNTPServer)
	setDefault(&c.Time.MinEpoch, int64(constants.DefaultMinEpoch))
	setDefault(&c.Logging.Level, "info")
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if len(c.Network.Networks) == 0 {
		errs = append(errs, errors.New("network.networks must list at least one network"))
	}
	for i, n := range c.Network.Networks {
		if n.SSID == "" {
			errs = append(errs, fmt.Errorf("network.networks[%d].ssid is empty", i))
		}
	}
	if c.MQTT.MaxConnectAttempts < 0 {
		errs = append(errs, errors.New("mqtt.max_connect_attempts must not be negative"))
	}
	if c.Scan.Window > c.Scan.Interval {
		errs = append(errs, errors.New("scan.window must not exceed scan.interval"))
	}
	if c.Watchdog.Timeout <= c.Scan.Duration {
		errs = append(errs, errors.New("watchdog.timeout must exceed scan.duration"))
	}
	return errors.Join(errs...)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
