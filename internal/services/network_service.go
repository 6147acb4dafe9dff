package services

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/internal/constants"
	"github.com/benmeehan/ble-node/pkg/led"
	"github.com/benmeehan/ble-node/pkg/wifi"
)

// NetworkSession is the current wireless association.
type NetworkSession struct {
	CurrentNetworkName string
	Connected          bool
}

// SessionProvider exposes the current network session.
type SessionProvider interface {
	Session() NetworkSession
}

// NetworkService keeps the node associated with one of the known networks.
type NetworkService struct {
	Associator  wifi.Associator
	Indicator   led.Indicator
	Credentials []wifi.Credential
	MaxAttempts int
	Logger      zerolog.Logger

	mu      sync.RWMutex
	session NetworkSession
}

// NewNetworkService creates a NetworkService.
func NewNetworkService(associator wifi.Associator, indicator led.Indicator, credentials []wifi.Credential,
	maxAttempts int, logger zerolog.Logger) *NetworkService {
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultNetworkMaxAttempts
	}
	return &NetworkService{
		Associator:  associator,
		Indicator:   indicator,
		Credentials: credentials,
		MaxAttempts: maxAttempts,
		Logger:      logger,
	}
}

// Init hands the hostname and the credential set to the association primitive.
func (n *NetworkService) Init(hostname string) error {
	return n.Associator.Configure(hostname, n.Credentials)
}

// EnsureConnected returns true when the node is associated, trying up to
// MaxAttempts association rounds otherwise. An existing association is never
// torn down.
func (n *NetworkService) EnsureConnected(ctx context.Context) bool {
	if n.Associator.Connected() {
		n.setSession(n.Associator.NetworkName(), true)
		return true
	}
	n.setConnected(false)

	n.Logger.Info().Int("max_attempts", n.MaxAttempts).Msg("Connecting to network")
	for attempt := 1; attempt <= n.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		ok, err := n.Associator.Associate(ctx)
		if ok {
			name := n.Associator.NetworkName()
			n.setSession(name, true)
			n.Logger.Info().
				Str("network", name).
				Str("address", n.Associator.Address()).
				Int("attempt", attempt).
				Msg("Network connected")
			return true
		}

		event := n.Logger.Warn().Int("attempt", attempt)
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("Network association failed")
		n.Indicator.Blink(constants.NetworkErrorBlinks)
	}

	n.Logger.Error().Int("attempts", n.MaxAttempts).Msg("Could not connect to any network")
	return false
}

// Session returns a copy of the current session.
func (n *NetworkService) Session() NetworkSession {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.session
}

// setSession records the association. An empty name keeps the previous one
// so topics never carry an empty segment.
func (n *NetworkService) setSession(name string, connected bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name == "" {
		name = n.session.CurrentNetworkName
	}
	n.session = NetworkSession{CurrentNetworkName: SanitizeTopicSegment(name), Connected: connected}
}

func (n *NetworkService) setConnected(connected bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.session.Connected = connected
}

// SanitizeTopicSegment replaces the characters that carry meaning in a topic
// name so the value can be used as a single topic level.
func SanitizeTopicSegment(s string) string {
	return topicSanitizer.Replace(s)
}

var topicSanitizer = strings.NewReplacer("/", "-", "+", "-", "#", "-")
