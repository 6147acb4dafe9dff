package identity

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/net"
)

// InterfaceAddressSource reads the hardware address of a network interface.
// With an empty name the first non-loopback interface with an address is used.
type InterfaceAddressSource struct {
	Name string

	interfaces func() ([]net.InterfaceStat, error)
}

// NewInterfaceAddressSource creates a source for the named interface.
func NewInterfaceAddressSource(name string) *InterfaceAddressSource {
	return &InterfaceAddressSource{
		Name: name,
		interfaces: func() ([]net.InterfaceStat, error) {
			return net.Interfaces()
		},
	}
}

// HardwareAddress returns the interface MAC address.
func (s *InterfaceAddressSource) HardwareAddress() (string, error) {
	list, err := s.interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range list {
		if iface.HardwareAddr == "" || isLoopback(iface) {
			continue
		}
		if s.Name == "" || iface.Name == s.Name {
			return iface.HardwareAddr, nil
		}
	}

	if s.Name != "" {
		return "", fmt.Errorf("interface %q has no hardware address", s.Name)
	}
	return "", errors.New("no interface with a hardware address found")
}

func isLoopback(iface net.InterfaceStat) bool {
	for _, flag := range iface.Flags {
		if flag == "loopback" {
			return true
		}
	}
	return false
}
