package wifi

import "context"

// Credential is one known network, tried in configuration order.
type Credential struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// Associator defines the radio association primitive.
type Associator interface {
	// Configure registers the hostname and the known networks in priority order.
	Configure(hostname string, credentials []Credential) error
	// Connected reports whether the radio is associated.
	Connected() bool
	// Associate makes one pass over the known networks and reports success.
	Associate(ctx context.Context) (bool, error)
	// NetworkName returns the name of the associated network.
	NetworkName() string
	// Address returns the current IP address, for logging.
	Address() string
}
