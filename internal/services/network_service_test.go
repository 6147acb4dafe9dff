package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/internal/mocks"
	"github.com/benmeehan/ble-node/internal/services"
	"github.com/benmeehan/ble-node/pkg/wifi"
)

var testCredentials = []wifi.Credential{{SSID: "Home WiFi/2", Password: "secret"}}

func TestNetworkService_AlreadyConnected(t *testing.T) {
	associator := new(mocks.MockAssociator)
	indicator := new(mocks.MockIndicator)
	associator.On("Connected").Return(true)
	associator.On("NetworkName").Return("Home WiFi/2")

	n := services.NewNetworkService(associator, indicator, testCredentials, 11, zerolog.Nop())

	assert.True(t, n.EnsureConnected(context.Background()))
	assert.True(t, n.EnsureConnected(context.Background()))

	associator.AssertNotCalled(t, "Associate", mock.Anything)
	assert.Equal(t, services.NetworkSession{CurrentNetworkName: "Home WiFi-2", Connected: true}, n.Session())
}

func TestNetworkService_KeepsNameWhenQueryIsEmpty(t *testing.T) {
	associator := new(mocks.MockAssociator)
	associator.On("Connected").Return(true)
	associator.On("NetworkName").Return("Home WiFi/2").Once()
	associator.On("NetworkName").Return("")

	n := services.NewNetworkService(associator, new(mocks.MockIndicator), testCredentials, 11, zerolog.Nop())

	assert.True(t, n.EnsureConnected(context.Background()))
	assert.True(t, n.EnsureConnected(context.Background()))
	assert.Equal(t, "Home WiFi-2", n.Session().CurrentNetworkName)
}

func TestNetworkService_ConnectsAfterFailures(t *testing.T) {
	associator := new(mocks.MockAssociator)
	indicator := new(mocks.MockIndicator)
	associator.On("Connected").Return(false)
	associator.On("Associate", mock.Anything).Return(false, errors.New("no network")).Twice()
	associator.On("Associate", mock.Anything).Return(true, nil).Once()
	associator.On("NetworkName").Return("Home WiFi/2")
	associator.On("Address").Return("192.168.1.20/24")
	indicator.Mock.On("Blink", constants.NetworkErrorBlinks).Return()

	n := services.NewNetworkService(associator, indicator, testCredentials, 11, zerolog.Nop())

	assert.True(t, n.EnsureConnected(context.Background()))
	associator.AssertNumberOfCalls(t, "Associate", 3)
	indicator.AssertNumberOfCalls(t, "Blink", 2)
	assert.Equal(t, "Home WiFi-2", n.Session().CurrentNetworkName)
}

func TestNetworkService_GivesUpAfterMaxAttempts(t *testing.T) {
	associator := new(mocks.MockAssociator)
	indicator := new(mocks.MockIndicator)
	associator.On("Connected").Return(false)
	associator.On("Associate", mock.Anything).Return(false, nil)
	indicator.Mock.On("Blink", constants.NetworkErrorBlinks).Return()

	n := services.NewNetworkService(associator, indicator, testCredentials, 0, zerolog.Nop())

	assert.False(t, n.EnsureConnected(context.Background()))
	associator.AssertNumberOfCalls(t, "Associate", constants.DefaultNetworkMaxAttempts)
	indicator.AssertNumberOfCalls(t, "Blink", constants.DefaultNetworkMaxAttempts)
	assert.False(t, n.Session().Connected)
}

func TestNetworkService_Init(t *testing.T) {
	associator := new(mocks.MockAssociator)
	associator.On("Configure", "ble_scanner_70D64", testCredentials).Return(nil)

	n := services.NewNetworkService(associator, new(mocks.MockIndicator), testCredentials, 11, zerolog.Nop())

	assert.NoError(t, n.Init("ble_scanner_70D64"))
	associator.AssertExpectations(t)
}

func TestSanitizeTopicSegment(t *testing.T) {
	assert.Equal(t, "Home WiFi-2", services.SanitizeTopicSegment("Home WiFi/2"))
	assert.Equal(t, "a-b-c-d", services.SanitizeTopicSegment("a/b+c#d"))
	assert.NotContains(t, services.SanitizeTopicSegment("//x//"), "/")
}
