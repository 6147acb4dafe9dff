package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/ble-node/pkg/mqtt"
)

// MockTransport is a mock implementation of the mqtt.Transport interface
type MockTransport struct {
	mock.Mock
	Handler mqtt.InboundHandler
}

func (m *MockTransport) Configure(opts mqtt.TransportOptions) error {
	args := m.Called(opts)
	return args.Error(0)
}

func (m *MockTransport) Connect(ctx context.Context, opts mqtt.ConnectOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *MockTransport) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTransport) Publish(topic string, payload []byte) error {
	args := m.Called(topic, payload)
	return args.Error(0)
}

func (m *MockTransport) Subscribe(topic string) error {
	args := m.Called(topic)
	return args.Error(0)
}

// SetInboundHandler records the handler so tests can deliver messages.
func (m *MockTransport) SetInboundHandler(handler mqtt.InboundHandler) {
	m.Called()
	m.Handler = handler
}

func (m *MockTransport) Pump() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTransport) Disconnect(quiesce uint) {
	m.Called(quiesce)
}
