package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/internal/mocks"
	"github.com/benmeehan/ble-node/internal/services"
	"github.com/benmeehan/ble-node/internal/utils"
	"github.com/benmeehan/ble-node/pkg/identity"
	"github.com/benmeehan/ble-node/pkg/mqtt"
)

type staticSession struct {
	name string
}

func (s *staticSession) Session() services.NetworkSession {
	return services.NetworkSession{CurrentNetworkName: s.name, Connected: true}
}

var testIdentity = identity.DeviceIdentity{ShortID: "70D64", FullName: "ble_scanner_70D64"}

func testBrokerConfig() services.BrokerConfig {
	return services.BrokerConfig{
		MaxMessageSize:  512,
		Username:        "user",
		Password:        "pass",
		SensorPrefix:    constants.DefaultSensorTopicPrefix,
		AdminPrefix:     constants.DefaultAdminTopicPrefix,
		UpdatePrefix:    constants.DefaultUpdateTopicPrefix,
		FirmwareVersion: "1.3",
		Retry:           utils.RetryPolicy{MaxAttempts: 3},
	}
}

func newBroker(t *testing.T, transport *mocks.MockTransport, indicator *mocks.MockIndicator, network services.SessionProvider) *services.BrokerService {
	t.Helper()
	transport.On("Configure", mqtt.TransportOptions{MaxMessageSize: 512}).Return(nil)
	transport.On("SetInboundHandler").Return()

	b := services.NewBrokerService(transport, network, indicator, testBrokerConfig(), zerolog.Nop())
	require.NoError(t, b.Initialize(testIdentity))
	return b
}

func TestBrokerService_Topics(t *testing.T) {
	transport := new(mocks.MockTransport)
	network := &staticSession{name: services.SanitizeTopicSegment("Home WiFi/2")}
	b := newBroker(t, transport, new(mocks.MockIndicator), network)

	assert.Equal(t, services.TopicSet{
		Sensor: "sensor/BLE/Scanner/Home WiFi-2/70D64",
		Admin:  "admin/BLE/Scanner/Home WiFi-2/70D64",
		Update: "ota/BLE/Scanner/70D64",
	}, b.Topics())
}

func TestBrokerService_TopicsFollowNetworkChange(t *testing.T) {
	transport := new(mocks.MockTransport)
	network := &staticSession{name: "Home"}
	b := newBroker(t, transport, new(mocks.MockIndicator), network)
	transport.On("Connected").Return(true)
	transport.On("Pump").Return(true)

	network.name = "Office"
	assert.True(t, b.EnsureConnected(context.Background()))

	assert.Equal(t, "sensor/BLE/Scanner/Office/70D64", b.Topics().Sensor)
	assert.Equal(t, "admin/BLE/Scanner/Office/70D64", b.Topics().Admin)
	transport.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestBrokerService_ConnectAnnouncesAndSubscribes(t *testing.T) {
	transport := new(mocks.MockTransport)
	indicator := new(mocks.MockIndicator)
	b := newBroker(t, transport, indicator, &staticSession{name: "Home"})

	expected := mqtt.ConnectOptions{
		ClientID:    "ble_scanner_70D64",
		Username:    "user",
		Password:    "pass",
		WillTopic:   "admin/BLE/Scanner/Home/70D64",
		WillPayload: `{"status": "offline"}`,
	}
	transport.On("Connected").Return(false)
	transport.On("Connect", mock.Anything, expected).Return(errors.New("refused")).Once()
	transport.On("Connect", mock.Anything, expected).Return(nil).Once()
	transport.On("Publish", "admin/BLE/Scanner/Home/70D64", []byte(`{"status": "online", "firmware": "1.3"}`)).Return(nil)
	transport.On("Subscribe", "ota/BLE/Scanner/70D64").Return(nil)
	transport.On("Pump").Return(true)
	indicator.Mock.On("Blink", constants.BrokerErrorBlinks).Return()
	indicator.Mock.On("On").Return()
	indicator.Mock.On("Off").Return()

	assert.True(t, b.EnsureConnected(context.Background()))

	transport.AssertExpectations(t)
	indicator.AssertNumberOfCalls(t, "Blink", 1)
}

func TestBrokerService_ConnectBounded(t *testing.T) {
	transport := new(mocks.MockTransport)
	indicator := new(mocks.MockIndicator)
	b := newBroker(t, transport, indicator, &staticSession{name: "Home"})

	transport.On("Connected").Return(false)
	transport.On("Connect", mock.Anything, mock.Anything).Return(errors.New("refused"))
	indicator.Mock.On("Blink", constants.BrokerErrorBlinks).Return()

	assert.False(t, b.EnsureConnected(context.Background()))
	transport.AssertNumberOfCalls(t, "Connect", 3)
}

func TestBrokerService_SubscribeFailureIsLogged(t *testing.T) {
	transport := new(mocks.MockTransport)
	indicator := new(mocks.MockIndicator)
	b := newBroker(t, transport, indicator, &staticSession{name: "Home"})

	transport.On("Connected").Return(false)
	transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	transport.On("Publish", mock.Anything, mock.Anything).Return(nil)
	transport.On("Subscribe", mock.Anything).Return(errors.New("denied"))
	transport.On("Pump").Return(true)
	indicator.Mock.On("On").Return()
	indicator.Mock.On("Off").Return()

	assert.True(t, b.EnsureConnected(context.Background()))
}

func TestBrokerService_NotInitialized(t *testing.T) {
	b := services.NewBrokerService(new(mocks.MockTransport), &staticSession{}, new(mocks.MockIndicator),
		testBrokerConfig(), zerolog.Nop())
	assert.False(t, b.EnsureConnected(context.Background()))
}

func TestBrokerService_PublishFailureNotifiesAdmin(t *testing.T) {
	transport := new(mocks.MockTransport)
	indicator := new(mocks.MockIndicator)
	b := newBroker(t, transport, indicator, &staticSession{name: "Home"})

	transport.On("Publish", "sensor/BLE/Scanner/Home/70D64", mock.Anything).Return(errors.New("too large"))
	transport.On("Publish", "admin/BLE/Scanner/Home/70D64", []byte(constants.PublishFailedNotice)).Return(nil).Once()
	indicator.Mock.On("On").Return()
	indicator.Mock.On("Off").Return()

	assert.False(t, b.Publish("beacon", false))

	transport.AssertExpectations(t)
	indicator.AssertNumberOfCalls(t, "On", 2)
	indicator.AssertNumberOfCalls(t, "Off", 2)
}

func TestBrokerService_AdminPublishFailureNotRetried(t *testing.T) {
	transport := new(mocks.MockTransport)
	indicator := new(mocks.MockIndicator)
	b := newBroker(t, transport, indicator, &staticSession{name: "Home"})

	transport.On("Publish", mock.Anything, mock.Anything).Return(errors.New("not connected"))
	indicator.Mock.On("On").Return()
	indicator.Mock.On("Off").Return()

	assert.False(t, b.Publish("hello", true))
	transport.AssertNumberOfCalls(t, "Publish", 1)
	indicator.AssertNumberOfCalls(t, "Off", 1)
}

func TestBrokerService_DispatchInbound(t *testing.T) {
	transport := new(mocks.MockTransport)
	b := newBroker(t, transport, new(mocks.MockIndicator), &staticSession{name: "Home"})

	var got []string
	b.RegisterRoute(b.Topics().Update, func(topic string, payload []byte) {
		got = append(got, topic+" "+string(payload))
	})

	b.DispatchInbound("ota/BLE/Scanner/70D64", []byte(`{"url":"u"}`))
	b.DispatchInbound("ota/BLE/Scanner/70D64", nil)
	b.DispatchInbound("other/topic", []byte("x"))

	assert.Equal(t, []string{`ota/BLE/Scanner/70D64 {"url":"u"}`}, got)
}

func TestBrokerService_InboundHandlerInstalled(t *testing.T) {
	transport := new(mocks.MockTransport)
	b := newBroker(t, transport, new(mocks.MockIndicator), &staticSession{name: "Home"})

	delivered := false
	b.RegisterRoute(b.Topics().Update, func(string, []byte) { delivered = true })

	require.NotNil(t, transport.Handler)
	transport.Handler("ota/BLE/Scanner/70D64", []byte("{}"))
	assert.True(t, delivered)
}
