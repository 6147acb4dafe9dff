package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of the services.Publisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(message string, toAdmin bool) bool {
	args := m.Called(message, toAdmin)
	return args.Bool(0)
}

// MockWatchdog is a mock of the watchdog as seen by the scan and update services.
type MockWatchdog struct {
	mock.Mock
}

func (m *MockWatchdog) Feed() {
	m.Called()
}

func (m *MockWatchdog) SetTimeout(timeout time.Duration) {
	m.Called(timeout)
}

// MockRadio is a mock implementation of the services.Radio interface
type MockRadio struct {
	mock.Mock
}

func (m *MockRadio) Shutdown() error {
	args := m.Called()
	return args.Error(0)
}
