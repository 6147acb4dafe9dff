package node_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/internal/mocks"
	"github.com/benmeehan/ble-node/internal/node"
	"github.com/benmeehan/ble-node/internal/services"
	"github.com/benmeehan/ble-node/internal/utils"
	"github.com/benmeehan/ble-node/pkg/ble"
	"github.com/benmeehan/ble-node/pkg/identity"
	"github.com/benmeehan/ble-node/pkg/wifi"
)

const (
	adminTopic  = "admin/BLE/Scanner/Home/70D64"
	sensorTopic = "sensor/BLE/Scanner/Home/70D64"
	updateTopic = "ota/BLE/Scanner/70D64"
)

var (
	testIdentity = identity.DeviceIdentity{ShortID: "70D64", FullName: "ble_scanner_70D64"}
	testNetworks = []wifi.Credential{{SSID: "Home", Password: "secret"}}
	scanParams   = ble.ScanParams{Active: true, Interval: 100 * time.Millisecond, Window: 100 * time.Millisecond}
)

type fixture struct {
	resolver   *mocks.MockIdentityResolver
	associator *mocks.MockAssociator
	transport  *mocks.MockTransport
	scanner    *mocks.MockScanner
	flasher    *mocks.MockFlasher
	clock      *mocks.MockClock
	indicator  *mocks.MockIndicator
	restarter  *mocks.MockRestarter
}

func newFixture() *fixture {
	return &fixture{
		resolver:   new(mocks.MockIdentityResolver),
		associator: new(mocks.MockAssociator),
		transport:  new(mocks.MockTransport),
		scanner:    new(mocks.MockScanner),
		flasher:    new(mocks.MockFlasher),
		clock:      new(mocks.MockClock),
		indicator:  new(mocks.MockIndicator),
		restarter:  new(mocks.MockRestarter),
	}
}

func (f *fixture) node(options ...func(*node.Settings)) *node.Node {
	deps := node.Dependencies{
		Identity:   f.resolver,
		Associator: f.associator,
		Transport:  f.transport,
		Scanner:    f.scanner,
		Flasher:    f.flasher,
		Clock:      f.clock,
		Indicator:  f.indicator,
		Restarter:  f.restarter,
	}
	settings := node.Settings{
		Networks:           testNetworks,
		NetworkMaxAttempts: 2,
		Broker: services.BrokerConfig{
			MaxMessageSize: 512,
			SensorPrefix:   constants.DefaultSensorTopicPrefix,
			AdminPrefix:    constants.DefaultAdminTopicPrefix,
			UpdatePrefix:   constants.DefaultUpdateTopicPrefix,
			Retry:          utils.RetryPolicy{MaxAttempts: 1},
		},
		Update: services.UpdateConfig{
			FirmwareVersion: "1.3",
			PollInterval:    time.Millisecond,
			WatchdogTimeout: 5 * time.Minute,
		},
		Scan:            scanParams,
		ScanDuration:    10 * time.Second,
		WatchdogTimeout: time.Hour,
	}
	for _, option := range options {
		option(&settings)
	}
	return node.New(deps, settings, zerolog.Nop())
}

// healthy sets up primitives that always succeed.
func (f *fixture) healthy() {
	f.resolver.On("Resolve").Return(testIdentity, nil)
	f.associator.On("Configure", "ble_scanner_70D64", testNetworks).Return(nil)
	f.associator.On("Connected").Return(true)
	f.associator.On("NetworkName").Return("Home")
	f.transport.On("Configure", mock.Anything).Return(nil)
	f.transport.On("SetInboundHandler").Return()
	f.transport.On("Connected").Return(false).Once()
	f.transport.On("Connected").Return(true)
	f.transport.On("Connect", mock.Anything, mock.Anything).Return(nil)
	f.transport.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.transport.On("Subscribe", updateTopic).Return(nil)
	f.transport.On("Pump").Return(true)
	f.transport.On("Disconnect", mock.Anything).Return()
	f.scanner.On("Init", scanParams).Return(nil)
	f.scanner.On("Stop").Return(nil)
	f.scanner.On("ClearResults").Return()
	f.scanner.On("Deinit").Return(nil)
	f.clock.On("Sync", mock.Anything).Return(nil)
	f.clock.On("Now").Return(int64(1700000000), int64(0))
	f.indicator.Mock.On("On").Return()
	f.indicator.Mock.On("Off").Return()
	f.indicator.Mock.On("Blink", mock.Anything).Return()
}

func TestNode_Boot(t *testing.T) {
	f := newFixture()
	f.healthy()
	n := f.node()

	require.NoError(t, n.Boot(context.Background()))
	defer n.Watchdog.Stop()

	assert.Equal(t, testIdentity, n.Identity())
	assert.Equal(t, updateTopic, n.Broker.Topics().Update)
	f.transport.AssertCalled(t, "Publish", adminTopic, []byte(`{"status": "online", "firmware": "1.3"}`))
	f.transport.AssertCalled(t, "Publish", adminTopic, []byte("Up now 1700000000 (v1.3) after 0 seconds of booting."))
	f.transport.AssertCalled(t, "Subscribe", updateTopic)
	f.scanner.AssertCalled(t, "Init", scanParams)
	f.clock.AssertCalled(t, "Sync", mock.Anything)
	assert.Error(t, n.Watchdog.Start(), "watchdog is started during boot")
}

func TestNode_BootNetworkFailureRestarts(t *testing.T) {
	f := newFixture()
	f.resolver.On("Resolve").Return(testIdentity, nil)
	f.associator.On("Configure", mock.Anything, mock.Anything).Return(nil)
	f.associator.On("Connected").Return(false)
	f.associator.On("Associate", mock.Anything).Return(false, errors.New("no network"))
	f.indicator.Mock.On("On").Return()
	f.indicator.Mock.On("Blink", constants.NetworkErrorBlinks).Return()
	f.restarter.On("Restart", "network unavailable").Return().Once()

	err := f.node().Boot(context.Background())

	assert.ErrorIs(t, err, node.ErrNetworkUnavailable)
	f.associator.AssertNumberOfCalls(t, "Associate", 2)
	f.restarter.AssertExpectations(t)
	f.scanner.AssertNotCalled(t, "Init", mock.Anything)
}

func TestNode_BootIdentityFailure(t *testing.T) {
	f := newFixture()
	f.resolver.On("Resolve").Return(identity.DeviceIdentity{}, errors.New("no source"))
	f.indicator.Mock.On("On").Return()

	err := f.node().Boot(context.Background())
	assert.Error(t, err)
	f.associator.AssertNotCalled(t, "Configure", mock.Anything, mock.Anything)
}

func TestNode_StepBeforeBoot(t *testing.T) {
	f := newFixture()
	assert.ErrorIs(t, f.node().Step(context.Background()), node.ErrNotBooted)
}

func TestNode_StepScans(t *testing.T) {
	f := newFixture()
	f.healthy()
	f.scanner.Discoveries = []ble.Advertisement{{Address: "aa:bb:cc:dd:ee:ff", PayloadLength: 3}}
	f.scanner.On("Start", mock.Anything, 10*time.Second).Return(1, nil)
	n := f.node()
	require.NoError(t, n.Boot(context.Background()))
	defer n.Watchdog.Stop()

	require.NoError(t, n.Step(context.Background()))

	f.transport.AssertCalled(t, "Publish", sensorTopic,
		[]byte(`{"address": "aa:bb:cc:dd:ee:ff", "payloadLength": "3", "addrType": "0", "timestamp": "1700000000", "micros": "0"}`))
	f.scanner.AssertNumberOfCalls(t, "Start", 1)
}

func TestNode_StepNetworkDown(t *testing.T) {
	f := newFixture()
	f.healthy()
	n := f.node()
	require.NoError(t, n.Boot(context.Background()))
	defer n.Watchdog.Stop()

	f.associator.ExpectedCalls = nil
	f.associator.On("Connected").Return(false)
	f.associator.On("Associate", mock.Anything).Return(false, nil)

	assert.ErrorIs(t, n.Step(context.Background()), node.ErrNetworkUnavailable)
	f.scanner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestNode_UpdateReplacesScanning(t *testing.T) {
	f := newFixture()
	f.healthy()
	f.scanner.On("Start", mock.Anything, 10*time.Second).Return(0, nil)
	f.flasher.On("Begin", mock.Anything, "http://x/fw.bin", []byte(nil)).Return(nil).Once()
	n := f.node()
	require.NoError(t, n.Boot(context.Background()))
	defer n.Watchdog.Stop()

	require.NotNil(t, f.transport.Handler)
	f.transport.Handler(updateTopic, []byte(`{"url":"http://x/fw.bin","version":"2.0"}`))
	f.transport.Handler(updateTopic, []byte(`{"url":"http://x/fw.bin","version":"2.0"}`))

	require.NoError(t, n.Step(context.Background()))
	assert.Equal(t, constants.UpdateStateCommanded, n.Update.State())
	f.scanner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	require.NoError(t, n.Step(context.Background()))
	assert.Equal(t, constants.UpdateStateApplying, n.Update.State())
	assert.Equal(t, 5*time.Minute, n.Watchdog.Timeout())
	f.scanner.AssertCalled(t, "Deinit")
	f.flasher.AssertExpectations(t)
	f.scanner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	notices := 0
	for _, call := range f.transport.Calls {
		if call.Method == "Publish" && call.Arguments.String(0) == adminTopic &&
			string(call.Arguments.Get(1).([]byte)) != `{"status": "online", "firmware": "1.3"}` {
			notices++
		}
	}
	assert.Equal(t, 2, notices, "boot notice and one update notice")
}

func TestNode_StaleUpdateKeepsScanning(t *testing.T) {
	f := newFixture()
	f.healthy()
	f.scanner.On("Start", mock.Anything, 10*time.Second).Return(0, nil)
	n := f.node()
	require.NoError(t, n.Boot(context.Background()))
	defer n.Watchdog.Stop()

	f.transport.Handler(updateTopic, []byte(`{"url":"http://x/fw.bin","version":"1.3"}`))
	require.NoError(t, n.Step(context.Background()))

	assert.Equal(t, constants.UpdateStateIdle, n.Update.State())
	f.scanner.AssertNumberOfCalls(t, "Start", 1)
}

func TestNode_RunStopsOnCancel(t *testing.T) {
	f := newFixture()
	f.healthy()
	ctx, cancel := context.WithCancel(context.Background())
	f.scanner.On("Start", mock.Anything, 10*time.Second).Run(func(mock.Arguments) { cancel() }).Return(0, nil)

	require.NoError(t, f.node().Run(ctx))

	f.scanner.AssertCalled(t, "Deinit")
	f.transport.AssertCalled(t, "Disconnect", uint(250))
}

func TestNode_RunPausesAfterFailedStep(t *testing.T) {
	f := newFixture()
	f.healthy()
	starts := 0
	f.scanner.On("Start", mock.Anything, 10*time.Second).
		Run(func(mock.Arguments) { starts++ }).
		Return(0, errors.New("adapter busy"))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	n := f.node(func(s *node.Settings) {
		s.StepRetry = utils.RetryPolicy{Interval: 100 * time.Millisecond}
	})
	require.NoError(t, n.Run(ctx))

	assert.GreaterOrEqual(t, starts, 1)
	assert.LessOrEqual(t, starts, 4)
}
