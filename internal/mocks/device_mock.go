package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/ble-node/pkg/ble"
	"github.com/benmeehan/ble-node/pkg/identity"
	"github.com/benmeehan/ble-node/pkg/ota"
	"github.com/benmeehan/ble-node/pkg/wifi"
)

// MockAssociator is a mock implementation of the wifi.Associator interface
type MockAssociator struct {
	mock.Mock
}

func (m *MockAssociator) Configure(hostname string, credentials []wifi.Credential) error {
	args := m.Called(hostname, credentials)
	return args.Error(0)
}

func (m *MockAssociator) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAssociator) Associate(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockAssociator) NetworkName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAssociator) Address() string {
	args := m.Called()
	return args.String(0)
}

// MockScanner is a mock implementation of the ble.Scanner interface. The
// advertisements in Discoveries are delivered on Start.
type MockScanner struct {
	mock.Mock
	Discoveries []ble.Advertisement
}

func (m *MockScanner) Init(params ble.ScanParams) error {
	args := m.Called(params)
	return args.Error(0)
}

func (m *MockScanner) Start(ctx context.Context, duration time.Duration, onDiscover ble.DiscoveryHandler) (int, error) {
	args := m.Called(ctx, duration)
	for _, adv := range m.Discoveries {
		onDiscover(adv)
	}
	return args.Int(0), args.Error(1)
}

func (m *MockScanner) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockScanner) ClearResults() {
	m.Called()
}

func (m *MockScanner) Deinit() error {
	args := m.Called()
	return args.Error(0)
}

// MockFlasher is a mock implementation of the ota.Flasher interface
type MockFlasher struct {
	mock.Mock
}

func (m *MockFlasher) Begin(ctx context.Context, imageURL string, trustAnchor []byte) error {
	args := m.Called(ctx, imageURL, trustAnchor)
	return args.Error(0)
}

func (m *MockFlasher) Status() ota.Status {
	args := m.Called()
	return args.Get(0).(ota.Status)
}

// MockClock is a mock implementation of the clock.Clock interface
type MockClock struct {
	mock.Mock
}

func (m *MockClock) Sync(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClock) Now() (int64, int64) {
	args := m.Called()
	return args.Get(0).(int64), args.Get(1).(int64)
}

// MockIndicator is a mock implementation of the led.Indicator interface.
// Its On method shadows mock.Mock.On, so expectations are set with m.Mock.On.
type MockIndicator struct {
	mock.Mock
}

func (m *MockIndicator) On() {
	m.Called()
}

func (m *MockIndicator) Off() {
	m.Called()
}

func (m *MockIndicator) Blink(times int) {
	m.Called(times)
}

// MockRestarter is a mock implementation of the system.Restarter interface
type MockRestarter struct {
	mock.Mock
}

func (m *MockRestarter) Restart(reason string) {
	m.Called(reason)
}

// MockHardwareAddressSource is a mock implementation of the identity.HardwareAddressSource interface
type MockHardwareAddressSource struct {
	mock.Mock
}

func (m *MockHardwareAddressSource) HardwareAddress() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

// MockIdentityResolver resolves a fixed identity.
type MockIdentityResolver struct {
	mock.Mock
}

func (m *MockIdentityResolver) Resolve() (identity.DeviceIdentity, error) {
	args := m.Called()
	return args.Get(0).(identity.DeviceIdentity), args.Error(1)
}
