package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/internal/models"
	"github.com/benmeehan/ble-node/internal/utils"
	"github.com/benmeehan/ble-node/pkg/identity"
	"github.com/benmeehan/ble-node/pkg/led"
	"github.com/benmeehan/ble-node/pkg/mqtt"
)

// ErrNotInitialized is returned when the broker session is used before Initialize.
var ErrNotInitialized = errors.New("broker service is not initialized")

// TopicSet holds the topics derived from the identity and the current network.
type TopicSet struct {
	Sensor string
	Admin  string
	Update string
}

// Publisher sends text messages on the sensor or admin topic.
type Publisher interface {
	Publish(message string, toAdmin bool) bool
}

// BrokerConfig carries the broker settings of the node.
type BrokerConfig struct {
	TrustAnchor     []byte
	MaxMessageSize  int
	Username        string
	Password        string
	SensorPrefix    string
	AdminPrefix     string
	UpdatePrefix    string
	FirmwareVersion string
	Retry           utils.RetryPolicy
}

// BrokerService owns the publish/subscribe session and the topic set.
type BrokerService struct {
	Transport mqtt.Transport
	Network   SessionProvider
	Indicator led.Indicator
	Config    BrokerConfig
	Logger    zerolog.Logger

	routes cmap.ConcurrentMap[string, mqtt.InboundHandler]

	mu          sync.RWMutex
	identity    identity.DeviceIdentity
	networkName string
	topics      TopicSet
	initialized bool
}

// NewBrokerService creates a BrokerService.
func NewBrokerService(transport mqtt.Transport, network SessionProvider, indicator led.Indicator,
	config BrokerConfig, logger zerolog.Logger) *BrokerService {
	return &BrokerService{
		Transport: transport,
		Network:   network,
		Indicator: indicator,
		Config:    config,
		Logger:    logger,
		routes:    cmap.New[mqtt.InboundHandler](),
	}
}

// Initialize configures the transport, installs the inbound dispatcher and
// derives the initial topic set.
func (b *BrokerService) Initialize(id identity.DeviceIdentity) error {
	err := b.Transport.Configure(mqtt.TransportOptions{
		TrustAnchor:    b.Config.TrustAnchor,
		MaxMessageSize: b.Config.MaxMessageSize,
	})
	if err != nil {
		return err
	}
	b.Transport.SetInboundHandler(b.DispatchInbound)

	b.mu.Lock()
	b.identity = id
	b.initialized = true
	b.mu.Unlock()

	b.refreshTopics()
	topics := b.Topics()
	b.Logger.Info().
		Str("client_id", id.FullName).
		Str("sensor_topic", topics.Sensor).
		Str("admin_topic", topics.Admin).
		Str("update_topic", topics.Update).
		Msg("Broker session initialized")
	return nil
}

// RegisterRoute sends inbound messages whose topic starts with prefix to handler.
func (b *BrokerService) RegisterRoute(prefix string, handler mqtt.InboundHandler) {
	b.routes.Set(prefix, handler)
	b.Logger.Debug().Str("prefix", prefix).Msg("Registered inbound route")
}

// Topics returns the current topic set.
func (b *BrokerService) Topics() TopicSet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topics
}

// EnsureConnected services a live session or reconnects. After a handshake the
// online status is announced on the admin topic and the update topic is
// subscribed. The retry policy bounds the handshake attempts.
func (b *BrokerService) EnsureConnected(ctx context.Context) bool {
	b.mu.RLock()
	initialized := b.initialized
	id := b.identity
	b.mu.RUnlock()
	if !initialized {
		b.Logger.Error().Err(ErrNotInitialized).Msg("Cannot connect broker")
		return false
	}

	b.refreshTopics()
	if b.Transport.Connected() {
		return b.Transport.Pump()
	}

	topics := b.Topics()
	opts := mqtt.ConnectOptions{
		ClientID:    id.FullName,
		Username:    b.Config.Username,
		Password:    b.Config.Password,
		WillTopic:   topics.Admin,
		WillQoS:     0,
		WillRetain:  false,
		WillPayload: constants.OfflinePayload,
	}

	for attempt := 1; b.Config.Retry.Allows(attempt); attempt++ {
		b.Logger.Info().Int("attempt", attempt).Msg("Connecting to MQTT broker")
		err := b.Transport.Connect(ctx, opts)
		if err == nil {
			b.Logger.Info().Msg("MQTT connected")
			b.Publish(models.OnlinePayload(b.Config.FirmwareVersion), true)
			if err := b.Transport.Subscribe(topics.Update); err != nil {
				b.Logger.Error().Err(err).Str("topic", topics.Update).Msg("Could not subscribe to update topic")
			}
			return b.Transport.Pump()
		}

		b.Logger.Warn().Err(err).Int("attempt", attempt).Msg("MQTT connect failed, retrying")
		b.Indicator.Blink(constants.BrokerErrorBlinks)
		if !b.Config.Retry.Wait(ctx) {
			return false
		}
	}

	b.Logger.Error().Int("attempts", b.Config.Retry.MaxAttempts).Msg("Giving up on MQTT broker")
	return false
}

// Publish sends message on the admin or the sensor topic. A failed sensor
// publish is reported once on the admin topic.
func (b *BrokerService) Publish(message string, toAdmin bool) bool {
	b.Indicator.On()
	defer b.Indicator.Off()

	topics := b.Topics()
	topic := topics.Sensor
	if toAdmin {
		topic = topics.Admin
	}
	b.Logger.Debug().Str("topic", topic).Str("message", message).Msg("Publishing")

	err := b.Transport.Publish(topic, []byte(message))
	if err == nil {
		return true
	}

	b.Logger.Error().Err(err).Str("topic", topic).Msg("Publish failed")
	if !toAdmin {
		b.Publish(constants.PublishFailedNotice, true)
	}
	return false
}

// DispatchInbound routes an inbound message by topic prefix.
func (b *BrokerService) DispatchInbound(topic string, payload []byte) {
	b.Logger.Debug().Str("topic", topic).Int("size", len(payload)).Msg("Message arrived")
	if len(payload) == 0 {
		b.Logger.Warn().Str("topic", topic).Msg("Ignoring message with empty payload")
		return
	}

	for item := range b.routes.IterBuffered() {
		if strings.HasPrefix(topic, item.Key) {
			item.Val(topic, payload)
			return
		}
	}
	b.Logger.Warn().Str("topic", topic).Msg("Unsupported topic, message discarded")
}

// refreshTopics recomputes the topic set when the network name changed. The
// new topics are used from the next publish on.
func (b *BrokerService) refreshTopics() {
	name := b.Network.Session().CurrentNetworkName

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics.Update != "" && name == b.networkName {
		return
	}

	previous := b.networkName
	b.networkName = name
	shortID := b.identity.ShortID
	b.topics = TopicSet{
		Sensor: b.Config.SensorPrefix + name + "/" + shortID,
		Admin:  b.Config.AdminPrefix + name + "/" + shortID,
		Update: b.Config.UpdatePrefix + shortID,
	}
	if previous != "" {
		b.Logger.Info().Str("from", previous).Str("to", name).Msg("Network changed, switching topics")
	}
}
