package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned when publishing or subscribing without a session.
	ErrNotConnected = errors.New("mqtt client is not connected")
	// ErrMessageTooLarge is returned for payloads above the configured size bound.
	ErrMessageTooLarge = errors.New("mqtt message exceeds maximum size")
)

// ConnectOptions are presented during the session handshake.
type ConnectOptions struct {
	ClientID    string
	Username    string
	Password    string
	WillTopic   string
	WillQoS     byte
	WillRetain  bool
	WillPayload string
}

// TransportOptions configure the transport before the first connect.
type TransportOptions struct {
	TrustAnchor    []byte // PEM encoded CA certificate, nil for plain connections
	MaxMessageSize int
}

// InboundHandler receives every message delivered on a subscribed topic.
type InboundHandler func(topic string, payload []byte)

// Transport defines the publish/subscribe channel used by the broker session.
type Transport interface {
	Configure(opts TransportOptions) error
	Connect(ctx context.Context, opts ConnectOptions) error
	Connected() bool
	Publish(topic string, payload []byte) error
	Subscribe(topic string) error
	SetInboundHandler(handler InboundHandler)
	// Pump reports whether the session is still alive. The client services
	// its network traffic in the background.
	Pump() bool
	Disconnect(quiesce uint)
}

// MqttService implements Transport with the Paho client.
type MqttService struct {
	broker         string
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         zerolog.Logger

	mu             sync.Mutex
	client         mqtt.Client
	tlsConfig      *tls.Config
	maxMessageSize int
	handler        InboundHandler

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMqttService creates a new MqttService for the given broker URL, e.g. "ssl://example.com:8883".
func NewMqttService(broker string, connectTimeout, publishTimeout time.Duration, logger zerolog.Logger) *MqttService {
	return &MqttService{
		broker:         broker,
		connectTimeout: connectTimeout,
		publishTimeout: publishTimeout,
		logger:         logger,
		newClient:      mqtt.NewClient,
	}
}

// Configure sets the trust anchor and the message size bound.
func (s *MqttService) Configure(opts TransportOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxMessageSize = opts.MaxMessageSize
	if len(opts.TrustAnchor) == 0 {
		s.tlsConfig = nil
		return nil
	}

	tlsConfig, err := NewTLSConfig(opts.TrustAnchor)
	if err != nil {
		return err
	}
	s.tlsConfig = tlsConfig
	s.logger.Info().Msg("MQTT transport configured with CA certificate")
	return nil
}

// NewTLSConfig builds a TLS configuration trusting the given PEM encoded CA.
func NewTLSConfig(caPEM []byte) (*tls.Config, error) {
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}
	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// SetInboundHandler registers the callback for inbound messages. It runs on the
// client's router goroutine and must not block.
func (s *MqttService) SetInboundHandler(handler InboundHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Connect performs one session handshake. Reconnection is left to the caller.
func (s *MqttService) Connect(ctx context.Context, opts ConnectOptions) error {
	s.mu.Lock()
	if s.client != nil && s.client.IsConnectionOpen() {
		s.mu.Unlock()
		return nil
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(s.broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	if opts.WillTopic != "" {
		clientOpts.SetWill(opts.WillTopic, opts.WillPayload, opts.WillQoS, opts.WillRetain)
	}
	if s.tlsConfig != nil {
		clientOpts.SetTLSConfig(s.tlsConfig)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(false)
	clientOpts.SetConnectRetry(false)
	clientOpts.SetConnectTimeout(s.connectTimeout)
	clientOpts.SetDefaultPublishHandler(s.onMessage)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := s.newClient(clientOpts)
	s.client = client
	s.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s failed: %w", s.broker, err)
	}
	return nil
}

func (s *MqttService) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		s.logger.Warn().Str("topic", msg.Topic()).Msg("No inbound handler registered, dropping message")
		return
	}
	handler(msg.Topic(), msg.Payload())
}

// Connected reports whether the session is open.
func (s *MqttService) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

// Pump reports whether the session is still alive.
func (s *MqttService) Pump() bool {
	return s.Connected()
}

// Publish sends payload to topic with QoS 0, not retained.
func (s *MqttService) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	client, limit := s.client, s.maxMessageSize
	s.mu.Unlock()

	if limit > 0 && len(topic)+len(payload) > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(topic)+len(payload), limit)
	}
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(s.publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Subscribe subscribes to topic with QoS 0. Messages go to the inbound handler.
func (s *MqttService) Subscribe(topic string) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Subscribe(topic, 0, nil)
	if !token.WaitTimeout(s.publishTimeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	return token.Error()
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(quiesce)
	}
}
